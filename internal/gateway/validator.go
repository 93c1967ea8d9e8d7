package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vault-core/internal/monitor"
	"vault-core/pkg/exchanges/common"
)

// ErrValidation means the exchange did not accept the candidate credentials.
var ErrValidation = errors.New("credential validation failed")

// Validator checks candidate credentials with a throwaway client.
type Validator struct {
	factory Factory
	timeout time.Duration
	metrics *monitor.Metrics
	logger  *zap.Logger
}

// NewValidator creates a Validator. timeout bounds the balance fetch.
func NewValidator(factory Factory, timeout time.Duration, metrics *monitor.Metrics, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{factory: factory, timeout: timeout, metrics: metrics, logger: logger.Named("validator")}
}

// Validate builds a transient client and fetches the balance. Any failure
// other than an unsupported exchange is reported as ErrValidation. The
// client and credentials are discarded either way.
func (v *Validator) Validate(ctx context.Context, exchangeID string, creds common.Credentials) error {
	id, err := common.ParseExchangeID(exchangeID)
	if err != nil {
		return fmt.Errorf("%w: %q", err, exchangeID)
	}
	creds = common.Credentials{
		APIKey:     strings.TrimSpace(creds.APIKey),
		Secret:     strings.TrimSpace(creds.Secret),
		Passphrase: strings.TrimSpace(creds.Passphrase),
	}
	if !creds.Valid() {
		v.metrics.ValidationFailed()
		return fmt.Errorf("%w: %w", ErrValidation, common.ErrMissingCredentials)
	}

	client, err := v.factory(id, creds)
	if err != nil {
		v.metrics.ValidationFailed()
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	if _, err := client.FetchBalance(ctx); err != nil {
		v.metrics.ValidationFailed()
		v.logger.Info("credentials rejected", zap.String("exchange", string(id)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	v.logger.Info("credentials accepted", zap.String("exchange", string(id)))
	return nil
}
