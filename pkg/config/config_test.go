package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("TRADING_CONFIG_PATH", "")
	t.Setenv("SESSION_TTL", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("EXTENSION_ID", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, "./data/vault.db", cfg.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, TradingDefaults{Risk: 1, RiskRatio: 2}, cfg.TradingDefaults)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trading.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading:\n  risk: 0.5\n  risk_ratio: 3\n"), 0o600))

	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("EXCHANGE_TESTNET", "true")
	t.Setenv("ALLOWED_ORIGINS", "chrome-extension://abc, http://localhost:5173")
	t.Setenv("EXTENSION_ID", "vaultext")
	t.Setenv("TRADING_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.True(t, cfg.ExchangeTestnet)
	assert.Equal(t, []string{"chrome-extension://vaultext", "chrome-extension://abc", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, TradingDefaults{Risk: 0.5, RiskRatio: 3}, cfg.TradingDefaults)
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:            "8080",
		SessionTTL:      time.Hour,
		ExchangeTimeout: time.Second,
		APIRateLimit:    1,
		APIRateBurst:    1,
		TradingDefaults: TradingDefaults{Risk: 1, RiskRatio: 1},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Port = "70000"
	assert.Error(t, bad.Validate())

	bad = base
	bad.SessionTTL = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.TradingDefaults.RiskRatio = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.AllowedOrigins = []string{"chrome-extension://abc", "*"}
	assert.Error(t, bad.Validate())
}
