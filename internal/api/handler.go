// Package api exposes the vault over HTTP and WebSocket for the browser
// extension running on the same machine.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vault-core/internal/events"
	"vault-core/internal/gateway"
	"vault-core/internal/messaging"
	"vault-core/internal/monitor"
	"vault-core/internal/pin"
	"vault-core/internal/session"
	"vault-core/internal/trade"
	"vault-core/internal/vault"
	"vault-core/pkg/db"
)

// Journal lists recorded order outcomes.
type Journal interface {
	ListJournal(ctx context.Context, accountID string, limit int) ([]db.JournalEntry, error)
}

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Pin           *pin.Manager
	Session       *session.Manager
	Vault         *vault.Store
	Connector     *gateway.Connector
	Trades        *trade.Service
	TradingConfig *trade.ConfigStore
	Journal       Journal
	Messages      *messaging.Handler
	Bus           *events.Bus
	Metrics       *monitor.Metrics
	// PoolStats reports live exchange clients; optional.
	PoolStats func() gateway.PoolStats
}

// Options tune the HTTP layer.
type Options struct {
	JWTSecret      []byte
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
	RequestTimeout time.Duration
	Version        string
	Logger         *zap.Logger
}

// Server wires HTTP endpoints around the vault services.
type Server struct {
	Router *gin.Engine

	deps    Deps
	httpSrv *http.Server
	secret  []byte
	version string
	origins []string
	logger  *zap.Logger
}

// NewServer builds the router and registers every route.
func NewServer(deps Deps, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(opts.RateLimit, opts.RateBurst, logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(OriginGuard(opts.AllowedOrigins))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	s := &Server{
		Router:  r,
		deps:    deps,
		secret:  opts.JWTSecret,
		version: opts.Version,
		origins: opts.AllowedOrigins,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	auth := AuthMiddleware(s.secret, s.deps.Session)

	local := s.Router.Group("", LoopbackOnly())
	{
		local.POST("/api/messages", s.postMessage)
		local.GET("/ws/messages", s.messagesSocket)
	}
	s.Router.GET("/ws/events", auth, s.eventsSocket)

	api := s.Router.Group("/api")
	{
		api.GET("/metrics", s.getMetrics)

		p := api.Group("/pin")
		{
			p.GET("", s.getPinStatus)
			p.POST("/setup/begin", s.beginSetup)
			p.POST("/setup/first", s.enterFirst)
			p.POST("/setup/confirm", s.confirmPin)
			p.POST("/unlock", s.unlock)
			p.POST("/reset", s.resetPin)
			p.POST("/lock", auth, s.lock)
		}

		// Listing never decrypts, so it needs no session.
		api.GET("/accounts", s.listAccounts)

		protected := api.Group("")
		protected.Use(auth)
		{
			protected.POST("/accounts", s.connectAccount)
			protected.DELETE("/accounts/:id", s.removeAccount)

			protected.POST("/trades", s.submitTrade)
			protected.POST("/trades/size", s.sizeTrade)

			protected.GET("/trading-config", s.getTradingConfig)
			protected.PUT("/trading-config", s.putTradingConfig)

			protected.GET("/orders", s.getOrders)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// Start serves on addr and blocks until the listener stops.
// A graceful Shutdown makes Start return nil.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
