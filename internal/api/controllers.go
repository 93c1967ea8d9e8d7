package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vault-core/internal/messaging"
	"vault-core/internal/session"
	"vault-core/internal/trade"
	"vault-core/internal/vault"
)

// resetConfirmation must be sent verbatim to wipe the vault.
const resetConfirmation = "RESET"

type pinRequest struct {
	Pin string `json:"pin" binding:"required"`
}

type resetRequest struct {
	Confirm string `json:"confirm" binding:"required"`
}

type connectAccountRequest struct {
	ExchangeID string `json:"exchangeId" binding:"required"`
	Name       string `json:"name"`
	APIKey     string `json:"apiKey" binding:"required"`
	SecretKey  string `json:"secretKey" binding:"required"`
	Passphrase string `json:"passphrase"`
}

type submitTradeRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	trade.Request
}

type listOrdersQuery struct {
	AccountID string `form:"accountId"`
	Limit     int    `form:"limit"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// --- PIN ---

func (s *Server) getPinStatus(c *gin.Context) {
	status, err := s.deps.Pin.Status(c.Request.Context())
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) beginSetup(c *gin.Context) {
	if err := s.deps.Pin.BeginSetup(c.Request.Context()); err != nil {
		s.respondDomainError(c, err)
		return
	}
	s.getPinStatus(c)
}

func (s *Server) enterFirst(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "pin is required")
		return
	}
	if err := s.deps.Pin.EnterFirst(req.Pin); err != nil {
		s.respondDomainError(c, err)
		return
	}
	s.getPinStatus(c)
}

func (s *Server) confirmPin(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "pin is required")
		return
	}
	info, err := s.deps.Pin.Confirm(c.Request.Context(), req.Pin)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	s.respondSession(c, http.StatusCreated, info)
}

func (s *Server) unlock(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "pin is required")
		return
	}
	info, err := s.deps.Pin.Unlock(c.Request.Context(), req.Pin)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	s.respondSession(c, http.StatusOK, info)
}

func (s *Server) lock(c *gin.Context) {
	s.deps.Pin.Lock()
	c.JSON(http.StatusOK, gin.H{"status": "locked"})
}

// resetPin is the forgot-PIN path: it needs no session, only an explicit
// confirmation, and wipes the PIN with every stored account.
func (s *Server) resetPin(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirm != resetConfirmation {
		respondError(c, http.StatusBadRequest, "CONFIRMATION_REQUIRED", `send {"confirm":"RESET"} to wipe the vault`)
		return
	}
	if err := s.deps.Pin.Reset(c.Request.Context()); err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) respondSession(c *gin.Context, status int, info session.Info) {
	token, expiresAt, err := generateToken(info, s.secret)
	if err != nil {
		s.logger.Error("sign session token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(status, gin.H{
		"token":     token,
		"sessionId": info.ID,
		"expiresAt": expiresAt.UTC(),
		"state":     "unlocked",
	})
}

// --- Accounts ---

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.deps.Vault.ListAccounts(c.Request.Context())
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView(a))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) connectAccount(c *gin.Context) {
	var req connectAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "exchangeId, apiKey and secretKey are required")
		return
	}
	acct, err := s.deps.Connector.Connect(c.Request.Context(), vault.RawAccount{
		ExchangeID: req.ExchangeID,
		Name:       req.Name,
		APIKey:     req.APIKey,
		SecretKey:  req.SecretKey,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, accountView(acct))
}

func (s *Server) removeAccount(c *gin.Context) {
	if err := s.deps.Vault.RemoveAccount(c.Request.Context(), c.Param("id")); err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// accountView omits the encrypted payloads; they are of no use to the UI.
func accountView(a vault.Account) gin.H {
	return gin.H{
		"id":            a.ID,
		"exchangeId":    a.ExchangeID,
		"name":          a.Name,
		"hasPassphrase": a.EncryptedPassphrase != nil,
		"createdAt":     a.CreatedAt,
	}
}

// --- Trades ---

func (s *Server) submitTrade(c *gin.Context) {
	var req submitTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid trade payload")
		return
	}
	results, err := s.deps.Trades.Trade(c.Request.Context(), req.AccountID, req.Request)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"results": results})
}

func (s *Server) sizeTrade(c *gin.Context) {
	var in trade.SizingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid sizing payload")
		return
	}
	cfg, err := s.deps.TradingConfig.Get(c.Request.Context())
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	sizing, err := trade.Size(cfg, in)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, sizing)
}

func (s *Server) getTradingConfig(c *gin.Context) {
	cfg, err := s.deps.TradingConfig.Get(c.Request.Context())
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) putTradingConfig(c *gin.Context) {
	var cfg trade.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid trading config payload")
		return
	}
	if err := s.deps.TradingConfig.Set(c.Request.Context(), cfg); err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) getOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid query parameters")
		return
	}
	q.normalize()
	if s.deps.Journal == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	entries, err := s.deps.Journal.ListJournal(c.Request.Context(), q.AccountID, q.Limit)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// --- Metrics & messages ---

func (s *Server) getMetrics(c *gin.Context) {
	out := gin.H{"vault": s.deps.Metrics.GetSnapshot()}
	if s.deps.PoolStats != nil {
		out["clients"] = s.deps.PoolStats()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) postMessage(c *gin.Context) {
	var req messaging.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid message")
		return
	}
	c.JSON(http.StatusOK, s.deps.Messages.Handle(c.Request.Context(), req))
}
