package trade

import (
	"context"
	"errors"
	"fmt"

	"vault-core/internal/storage"
)

// ErrInvalidConfig is returned for non-positive risk settings.
var ErrInvalidConfig = errors.New("invalid trading config")

// Config is the persisted sizing preference used by the position calculator.
type Config struct {
	Risk      float64 `json:"risk"`
	RiskRatio float64 `json:"riskRatio"`
}

// Validate checks that both values are positive.
func (c Config) Validate() error {
	if c.Risk <= 0 || c.RiskRatio <= 0 {
		return fmt.Errorf("%w: risk and riskRatio must be positive", ErrInvalidConfig)
	}
	return nil
}

// ConfigStore reads and writes the tradingConfig key.
type ConfigStore struct {
	durable  storage.Durable
	defaults Config
}

// NewConfigStore creates a ConfigStore that falls back to defaults when
// nothing has been saved yet.
func NewConfigStore(durable storage.Durable, defaults Config) *ConfigStore {
	return &ConfigStore{durable: durable, defaults: defaults}
}

// Get returns the saved config or the defaults.
func (s *ConfigStore) Get(ctx context.Context) (Config, error) {
	var cfg Config
	err := s.durable.Get(ctx, storage.KeyTradingConfig, &cfg)
	if errors.Is(err, storage.ErrNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load trading config: %w", err)
	}
	return cfg, nil
}

// Set validates and saves cfg.
func (s *ConfigStore) Set(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.durable.Set(ctx, storage.KeyTradingConfig, cfg); err != nil {
		return fmt.Errorf("save trading config: %w", err)
	}
	return nil
}
