package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vault-core/internal/app"
	"vault-core/pkg/config"
	"vault-core/pkg/logger"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = zl.Sync() }()
	zl.Info("starting vault-core", zap.String("version", Version), zap.String("db", cfg.DBPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfg, zl, app.Options{Version: Version})
	if err != nil {
		zl.Fatal("init failed", zap.Error(err))
	}
	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.Start(cfg.Addr())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zl.Error("http server stopped", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	if err := a.Close(); err != nil {
		zl.Warn("close", zap.Error(err))
	}
}
