// Command health_check probes a local vault-core install: configuration,
// database schema, exchange reachability and the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"vault-core/internal/storage"
	"vault-core/pkg/config"
	"vault-core/pkg/db"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

const (
	healthy   = "HEALTHY"
	degraded  = "DEGRADED"
	unhealthy = "UNHEALTHY"
)

func main() {
	fmt.Println("vault-core health check")
	fmt.Println("=======================")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{Overall: healthy}

	cfg, cfgStatus := checkConfig()
	report.Services = append(report.Services, cfgStatus)
	if cfg != nil {
		report.Services = append(report.Services, checkDatabase(ctx, cfg))
		report.Services = append(report.Services, checkExchanges(ctx, cfg)...)
		report.Services = append(report.Services, checkAPIServer(ctx, cfg))
	}

	for _, svc := range report.Services {
		if svc.Status == unhealthy {
			report.Overall = unhealthy
			break
		} else if svc.Status == degraded {
			report.Overall = degraded
		}
	}

	fmt.Println()
	for _, svc := range report.Services {
		icon := "✓"
		switch svc.Status {
		case unhealthy:
			icon = "✗"
		case degraded:
			icon = "⚠"
		}
		fmt.Printf("%s %-20s %s %s\n", icon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Printf("\nOverall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}

	if report.Overall == unhealthy {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: healthy, Timestamp: time.Now()}
}

func checkConfig() (*config.Config, HealthStatus) {
	status := newStatus("Configuration")
	cfg, err := config.Load()
	if err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("Failed to load: %v", err)
		return nil, status
	}
	status.Message = fmt.Sprintf("Listen=%s", cfg.Addr())
	if cfg.JWTSecret == "" {
		status.Message += " (token secret from machine id)"
	}
	return cfg, status
}

// checkDatabase opens the store, verifies the schema and reports whether a
// PIN has been set. It never reads secrets.
func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Database")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("Open failed: %v", err)
		return status
	}
	defer database.Close()

	for _, table := range []string{"kv_store", "order_journal"} {
		var name string
		err := database.DB.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			status.Status = degraded
			status.Message = fmt.Sprintf("table %s missing (start the service once to migrate)", table)
			return status
		}
	}

	_, err = database.GetValue(ctx, storage.KeyEncryptedPin)
	switch {
	case errors.Is(err, db.ErrNotFound):
		status.Message = "Schema OK, no PIN set"
	case err != nil:
		status.Status = unhealthy
		status.Message = fmt.Sprintf("Read failed: %v", err)
	default:
		status.Message = "Schema OK, PIN set"
	}
	return status
}

// checkExchanges hits each venue's public time endpoint.
func checkExchanges(ctx context.Context, cfg *config.Config) []HealthStatus {
	endpoints := []struct{ name, url string }{
		{"Binance", "https://fapi.binance.com/fapi/v1/time"},
		{"Bybit", "https://api.bybit.com/v5/market/time"},
		{"Bitget", "https://api.bitget.com/api/v2/public/time"},
	}
	if cfg.ExchangeTestnet {
		endpoints[0].url = "https://testnet.binancefuture.com/fapi/v1/time"
		endpoints[1].url = "https://api-testnet.bybit.com/v5/market/time"
	}

	client := &http.Client{Timeout: cfg.ExchangeTimeout}
	out := make([]HealthStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		status := newStatus(ep.name + " API")
		start := time.Now()
		if code, err := get(ctx, client, ep.url); err != nil {
			status.Status = degraded
			status.Message = fmt.Sprintf("Not reachable: %v", err)
		} else if code != http.StatusOK {
			status.Status = degraded
			status.Message = fmt.Sprintf("HTTP %d", code)
		} else {
			status.Message = fmt.Sprintf("Reachable (%dms)", time.Since(start).Milliseconds())
		}
		out = append(out, status)
	}
	return out
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("API Server")

	client := &http.Client{Timeout: 5 * time.Second}
	code, err := get(ctx, client, fmt.Sprintf("http://%s/health", cfg.Addr()))
	if err != nil {
		status.Status = unhealthy
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	if code != http.StatusOK {
		status.Status = degraded
		status.Message = fmt.Sprintf("HTTP %d", code)
		return status
	}
	status.Message = "Running"
	return status
}

func get(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
