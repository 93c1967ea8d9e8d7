package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the vault service.
type Config struct {
	Port     string
	BindHost string

	// Database
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Session / auth
	JWTSecret  string // empty: derived from the machine id at startup
	SessionTTL time.Duration

	// Exchanges
	ExchangeTimeout time.Duration
	ExchangeTestnet bool

	// Trading defaults file (YAML, optional)
	TradingConfigPath string
	TradingDefaults   TradingDefaults

	// API limits
	APIRateLimit   float64
	APIRateBurst   int
	// AllowedOrigins are the browser origins that may call the API. Requests
	// carrying any other Origin are refused. EXTENSION_ID adds the
	// extension's chrome-extension:// origin.
	AllowedOrigins []string
}

// TradingDefaults seeds the persisted tradingConfig on first start.
type TradingDefaults struct {
	Risk      float64 `yaml:"risk"`
	RiskRatio float64 `yaml:"risk_ratio"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/vault.db")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		BindHost:          getEnv("BIND_HOST", "127.0.0.1"),
		DBPath:            dbPath,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 12*time.Hour),
		ExchangeTimeout:   getEnvDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		ExchangeTestnet:   getEnv("EXCHANGE_TESTNET", "false") == "true",
		TradingConfigPath: os.Getenv("TRADING_CONFIG_PATH"),
		TradingDefaults:   TradingDefaults{Risk: 1, RiskRatio: 2},
		APIRateLimit:      getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:      getEnvInt("API_RATE_BURST", 50),
		AllowedOrigins:    splitAndTrim(os.Getenv("ALLOWED_ORIGINS")),
	}
	if id := strings.TrimSpace(os.Getenv("EXTENSION_ID")); id != "" {
		cfg.AllowedOrigins = append([]string{"chrome-extension://" + id}, cfg.AllowedOrigins...)
	}

	if cfg.TradingConfigPath != "" {
		defaults, err := LoadTradingDefaults(cfg.TradingConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load trading defaults: %w", err)
		}
		cfg.TradingDefaults = *defaults
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %q", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %v", c.SessionTTL)
	}
	if c.ExchangeTimeout <= 0 {
		return fmt.Errorf("EXCHANGE_TIMEOUT must be positive, got %v", c.ExchangeTimeout)
	}
	if c.APIRateLimit <= 0 || c.APIRateBurst <= 0 {
		return errors.New("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return errors.New("ALLOWED_ORIGINS must list explicit origins; * would expose the PIN to every website")
		}
	}
	if c.TradingDefaults.Risk <= 0 || c.TradingDefaults.RiskRatio <= 0 {
		return errors.New("trading defaults risk and risk_ratio must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.BindHost + ":" + c.Port
}

// LoadTradingDefaults reads the trading defaults YAML file.
func LoadTradingDefaults(path string) (*TradingDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Trading TradingDefaults `yaml:"trading"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file.Trading, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
