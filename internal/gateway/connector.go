package gateway

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"vault-core/internal/session"
	"vault-core/internal/vault"
)

// Connector is the only path that adds accounts: credentials must pass
// exchange validation before they are encrypted and stored.
type Connector struct {
	validator *Validator
	vault     *vault.Store
	session   *session.Manager
	logger    *zap.Logger
}

// NewConnector creates a Connector.
func NewConnector(validator *Validator, store *vault.Store, sess *session.Manager, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{validator: validator, vault: store, session: sess, logger: logger.Named("connector")}
}

// Connect validates raw against its exchange and stores it under the
// session PIN. Nothing is persisted when validation fails.
func (c *Connector) Connect(ctx context.Context, raw vault.RawAccount) (vault.Account, error) {
	pin, err := c.session.PIN()
	if err != nil {
		return vault.Account{}, err
	}
	raw.ExchangeID = strings.ToLower(strings.TrimSpace(raw.ExchangeID))
	if err := c.validator.Validate(ctx, raw.ExchangeID, raw.Credentials()); err != nil {
		return vault.Account{}, err
	}
	acct, err := c.vault.AddAccount(ctx, raw, pin)
	if err != nil {
		return vault.Account{}, err
	}
	c.logger.Info("account connected", zap.String("account_id", acct.ID), zap.String("exchange", string(acct.ExchangeID)))
	return acct, nil
}
