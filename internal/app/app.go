// Package app wires the vault services together.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vault-core/internal/api"
	"vault-core/internal/events"
	"vault-core/internal/gateway"
	"vault-core/internal/messaging"
	"vault-core/internal/monitor"
	"vault-core/internal/pin"
	"vault-core/internal/session"
	"vault-core/internal/storage"
	"vault-core/internal/trade"
	"vault-core/internal/vault"
	"vault-core/pkg/config"
	"vault-core/pkg/db"
	"vault-core/pkg/machine"
)

// AppID scopes the machine-bound signing secret.
const AppID = "vault-core"

// Options override parts of the wiring, mainly for tests.
type Options struct {
	// Factory replaces the REST exchange clients.
	Factory gateway.Factory
	// JWTSecret replaces Config.JWTSecret and the machine secret.
	JWTSecret []byte
	Version   string
}

// App holds every long-lived component.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB       *db.Database
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Monitor  *monitor.Monitor
	Session  *session.Manager
	Pin      *pin.Manager
	Vault    *vault.Store
	Registry *gateway.Registry
	Trades   *trade.Service
	Server   *api.Server
}

// New opens storage and builds the component graph.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	secret, err := jwtSecret(cfg, opts, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	durable := storage.NewSQLiteStore(database)
	sess := session.NewManager(storage.NewSession(), cfg.SessionTTL, bus, logger)

	factory := opts.Factory
	if factory == nil {
		factory = gateway.NewFactory(gateway.FactoryOptions{
			Testnet: cfg.ExchangeTestnet,
			Timeout: cfg.ExchangeTimeout,
			Logger:  logger,
		})
	}
	registry := gateway.NewRegistry(factory, gateway.DefaultConfig(), logger)
	registry.OnSizeChange(metrics.SetLiveClients)

	store := vault.NewStore(durable, sess,
		vault.WithClients(registry),
		vault.WithBus(bus),
		vault.WithMetrics(metrics),
		vault.WithLogger(logger),
	)
	pins := pin.NewManager(durable, sess,
		pin.WithWiper(store),
		pin.WithBus(bus),
		pin.WithMetrics(metrics),
		pin.WithLogger(logger),
	)
	validator := gateway.NewValidator(factory, cfg.ExchangeTimeout, metrics, logger)
	connector := gateway.NewConnector(validator, store, sess, logger)

	engine := trade.NewEngine(
		trade.WithJournal(database),
		trade.WithBus(bus),
		trade.WithMetrics(metrics),
		trade.WithLogger(logger),
		trade.WithTimeout(cfg.ExchangeTimeout),
	)
	trades := trade.NewService(sess, store, engine, registry, logger)
	tradingConfig := trade.NewConfigStore(durable, trade.Config{
		Risk:      cfg.TradingDefaults.Risk,
		RiskRatio: cfg.TradingDefaults.RiskRatio,
	})

	server := api.NewServer(api.Deps{
		Pin:           pins,
		Session:       sess,
		Vault:         store,
		Connector:     connector,
		Trades:        trades,
		TradingConfig: tradingConfig,
		Journal:       database,
		Messages:      messaging.NewHandler(pins, sess, logger),
		Bus:           bus,
		Metrics:       metrics,
		PoolStats:     registry.Stats,
	}, api.Options{
		JWTSecret:      secret,
		RateLimit:      cfg.APIRateLimit,
		RateBurst:      cfg.APIRateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		Version:        opts.Version,
		Logger:         logger,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Bus:      bus,
		Metrics:  metrics,
		Monitor:  &monitor.Monitor{Bus: bus, Metrics: metrics, Logger: logger},
		Session:  sess,
		Pin:      pins,
		Vault:    store,
		Registry: registry,
		Trades:   trades,
		Server:   server,
	}, nil
}

// Start launches background work: idle client cleanup and the monitor.
func (a *App) Start(ctx context.Context) {
	a.Registry.Start(ctx)
	a.Monitor.Start(ctx)
}

// Close ends the session, drops live clients and closes storage.
func (a *App) Close() error {
	a.Session.End()
	a.Registry.Stop()
	return a.DB.Close()
}

func jwtSecret(cfg *config.Config, opts Options, logger *zap.Logger) ([]byte, error) {
	if len(opts.JWTSecret) > 0 {
		return opts.JWTSecret, nil
	}
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	secret, fromMachine, err := machine.Secret(AppID)
	if err != nil {
		return nil, err
	}
	if !fromMachine {
		logger.Warn("machine id unavailable; session tokens will not survive a restart")
	}
	return secret, nil
}
