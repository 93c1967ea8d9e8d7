package e2e_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-core/internal/app"
	"vault-core/internal/gateway"
	"vault-core/pkg/config"
	"vault-core/pkg/exchanges/common"
)

// venue is a minimal USDⓈ-M futures endpoint set.
type venue struct {
	t          *testing.T
	orderDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	orderSeq    atomic.Int64

	mu     sync.Mutex
	orders []map[string]string
	setup  []string
}

func (v *venue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/time", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"serverTime": time.Now().UnixMilli()})
	})
	mux.HandleFunc("/fapi/v2/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "live-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
			return
		}
		_, _ = w.Write([]byte(`[{"asset":"USDT","balance":"1000","availableBalance":"900"}]`))
	})
	for _, path := range []string{"/fapi/v1/positionSide/dual", "/fapi/v1/multiAssetsMargin", "/fapi/v1/leverage", "/fapi/v1/marginType"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			v.mu.Lock()
			v.setup = append(v.setup, r.URL.Path)
			v.mu.Unlock()
			if r.URL.Path == "/fapi/v1/marginType" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":200,"msg":"success"}`))
		})
	}
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		n := v.inFlight.Add(1)
		defer v.inFlight.Add(-1)
		for {
			cur := v.maxInFlight.Load()
			if n <= cur || v.maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(v.orderDelay)

		assert.NoError(v.t, r.ParseForm())
		order := map[string]string{}
		for k := range r.PostForm {
			order[k] = r.PostForm.Get(k)
		}
		v.mu.Lock()
		v.orders = append(v.orders, order)
		v.mu.Unlock()

		id := v.orderSeq.Add(1)
		_, _ = w.Write([]byte(`{"orderId":` + strconv.FormatInt(id, 10) + `,"clientOrderId":"` + order["newClientOrderId"] + `","status":"NEW"}`))
	})
	return mux
}

type client struct {
	t   *testing.T
	url string
}

func (c client) call(method, path, token string, payload, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(payload))
	}
	req, err := http.NewRequest(method, c.url+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func startApp(t *testing.T, dbPath, venueURL string) (*app.App, client) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		Port:            "8080",
		DBPath:          dbPath,
		SessionTTL:      time.Hour,
		ExchangeTimeout: 5 * time.Second,
		TradingDefaults: config.TradingDefaults{Risk: 10, RiskRatio: 2},
		APIRateLimit:    1000,
		APIRateBurst:    1000,
		AllowedOrigins:  []string{"chrome-extension://vaultext"},
	}
	a, err := app.New(cfg, logger, app.Options{
		JWTSecret: []byte("e2e-secret"),
		Version:   "e2e",
		Factory: gateway.NewFactory(gateway.FactoryOptions{
			Timeout:  5 * time.Second,
			Logger:   logger,
			BaseURLs: map[common.ExchangeID]string{common.Binance: venueURL},
		}),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(a.Server.Router)
	t.Cleanup(srv.Close)
	return a, client{t: t, url: srv.URL}
}

type session struct {
	Token string `json:"token"`
}

func TestVaultToVenueRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	v := &venue{t: t, orderDelay: 150 * time.Millisecond}
	exchange := httptest.NewServer(v.handler())
	defer exchange.Close()

	dbPath := filepath.Join(t.TempDir(), "vault.db")
	a, api := startApp(t, dbPath, exchange.URL)

	// First run: create the PIN.
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/api/pin/setup/begin", "", nil, nil))
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/api/pin/setup/first", "", map[string]string{"pin": "2580"}, nil))
	var s session
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/pin/setup/confirm", "", map[string]string{"pin": "2580"}, &s))

	// Rejected keys never reach the vault.
	assert.Equal(t, http.StatusUnprocessableEntity, api.call(http.MethodPost, "/api/accounts", s.Token,
		map[string]string{"exchangeId": "binance", "apiKey": "revoked", "secretKey": "x"}, nil))

	var account struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/accounts", s.Token,
		map[string]string{"exchangeId": "binance", "name": "futures", "apiKey": "live-key", "secretKey": "live-secret"}, &account))

	trade := map[string]any{
		"accountId":         account.ID,
		"symbol":            "BTC/USDT:USDT",
		"direction":         "long",
		"positionSize":      "0.02",
		"stopLossPrice":     "58000",
		"targetPrice":       "66000",
		"partialClose":      true,
		"closeRatioPercent": 50,
		"maxLeverage":       10,
	}
	var placed struct {
		Results []struct {
			Role    string `json:"role"`
			OrderID string `json:"orderId"`
		} `json:"results"`
	}
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/trades", s.Token, trade, &placed))
	require.Len(t, placed.Results, 3)

	// Orders go out together, not one after another.
	assert.EqualValues(t, 3, v.maxInFlight.Load())

	v.mu.Lock()
	byType := map[string]map[string]string{}
	for _, o := range v.orders {
		byType[o["type"]] = o
		assert.NotEmpty(t, o["signature"])
		assert.Len(t, o["newClientOrderId"], 32)
	}
	setup := append([]string(nil), v.setup...)
	v.mu.Unlock()

	assert.Equal(t, []string{"/fapi/v1/positionSide/dual", "/fapi/v1/multiAssetsMargin", "/fapi/v1/leverage", "/fapi/v1/marginType"}, setup)
	require.Contains(t, byType, "MARKET")
	require.Contains(t, byType, "STOP_MARKET")
	require.Contains(t, byType, "LIMIT")
	assert.Equal(t, "BTCUSDT", byType["MARKET"]["symbol"])
	assert.Equal(t, "0.02", byType["MARKET"]["quantity"])
	assert.Equal(t, "LONG", byType["MARKET"]["positionSide"])
	assert.Equal(t, "SELL", byType["STOP_MARKET"]["side"])
	assert.Equal(t, "58000", byType["STOP_MARKET"]["stopPrice"])
	assert.Equal(t, "0.01", byType["LIMIT"]["quantity"])
	assert.Equal(t, "66000", byType["LIMIT"]["price"])

	var journal []struct {
		Role            string `json:"role"`
		ExchangeOrderID string `json:"exchangeOrderId"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/orders", s.Token, nil, &journal))
	assert.Len(t, journal, 3)

	// Restart on the same database: everything stays sealed until unlock.
	require.NoError(t, a.Close())
	restarted, api := startApp(t, dbPath, exchange.URL)
	defer func() { _ = restarted.Close() }()

	var status struct {
		State string `json:"state"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/pin", "", nil, &status))
	assert.Equal(t, "locked", status.State)
	assert.Equal(t, http.StatusUnauthorized, api.call(http.MethodGet, "/api/orders", s.Token, nil, nil))

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/api/pin/unlock", "", map[string]string{"pin": "2580"}, &s))

	var accounts []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/api/accounts", "", nil, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "futures", accounts[0].Name)

	trade["partialClose"] = false
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/api/trades", s.Token, trade, &placed))
	assert.Len(t, placed.Results, 3)
}
