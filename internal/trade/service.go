package trade

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vault-core/internal/session"
	"vault-core/internal/vault"
)

// ClientHealth receives per-account dispatch outcomes.
type ClientHealth interface {
	RecordFailure(accountID string)
	RecordSuccess(accountID string)
}

// Service resolves an account under the live session and trades on it.
type Service struct {
	session *session.Manager
	vault   *vault.Store
	engine  *Engine
	health  ClientHealth
	logger  *zap.Logger
}

// NewService creates a Service. health may be nil.
func NewService(sess *session.Manager, store *vault.Store, engine *Engine, health ClientHealth, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{session: sess, vault: store, engine: engine, health: health, logger: logger.Named("trade_service")}
}

// Trade decrypts accountID with the session PIN and submits req on it.
// An empty req.ExchangeID takes the account's exchange.
func (s *Service) Trade(ctx context.Context, accountID string, req Request) ([]OrderResult, error) {
	pin, err := s.session.PIN()
	if err != nil {
		return nil, err
	}
	account, err := s.vault.DecryptAccount(ctx, pin, accountID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.ExchangeID) == "" {
		req.ExchangeID = string(account.ExchangeID)
	}
	if !strings.EqualFold(strings.TrimSpace(req.ExchangeID), string(account.ExchangeID)) {
		return nil, fmt.Errorf("%w: request %q, account %q", ErrExchangeMismatch, req.ExchangeID, account.ExchangeID)
	}

	results, err := s.engine.SubmitTrade(ctx, req, account)
	if s.health != nil && results != nil {
		if err != nil {
			s.health.RecordFailure(accountID)
		} else {
			s.health.RecordSuccess(accountID)
		}
	}
	return results, err
}
