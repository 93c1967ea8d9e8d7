package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vault-core/internal/gateway"
	"vault-core/internal/pin"
	"vault-core/internal/trade"
	"vault-core/internal/vault"
	"vault-core/pkg/crypto"
	"vault-core/pkg/exchanges/common"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{pin.ErrInvalidPinFormat, http.StatusBadRequest, "INVALID_PIN_FORMAT"},
	{pin.ErrPinMismatch, http.StatusBadRequest, "PIN_MISMATCH"},
	{trade.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{trade.ErrExchangeMismatch, http.StatusBadRequest, "EXCHANGE_MISMATCH"},
	{trade.ErrInvalidConfig, http.StatusBadRequest, "INVALID_CONFIG"},
	{vault.ErrInvalidAccount, http.StatusBadRequest, "INVALID_ACCOUNT"},
	{common.ErrUnsupportedExchange, http.StatusBadRequest, "UNSUPPORTED_EXCHANGE"},
	{crypto.ErrDecryptionFailed, http.StatusUnauthorized, "DECRYPTION_FAILED"},
	{vault.ErrNotUnlocked, http.StatusUnauthorized, "NOT_UNLOCKED"},
	{vault.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	{pin.ErrTooManyAttempts, http.StatusConflict, "TOO_MANY_ATTEMPTS"},
	{pin.ErrPinAlreadySet, http.StatusConflict, "PIN_ALREADY_SET"},
	{pin.ErrPinNotSet, http.StatusConflict, "PIN_NOT_SET"},
	{pin.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{gateway.ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
	{gateway.ErrClientUnhealthy, http.StatusServiceUnavailable, "EXCHANGE_UNHEALTHY"},
}

// respondDomainError maps a domain error onto a status and error code.
func (s *Server) respondDomainError(c *gin.Context, err error) {
	var subErr *trade.OrderSubmissionError
	if errors.As(err, &subErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "ORDER_SUBMISSION_FAILED",
			"error":   subErr.Error(),
			"tradeId": subErr.TradeID,
			"results": subErr.Results,
		})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			respondError(c, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}
