// Package bitget adapts the Bitget v2 mix (futures) API to common.Client.
package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vault-core/pkg/exchanges/common"
)

const baseURL = "https://api.bitget.com"

const codeSuccess = "00000"

// ErrMissingPassphrase is returned when no API passphrase is configured.
var ErrMissingPassphrase = errors.New("bitget: API passphrase is required")

// Config holds Bitget credentials and transport overrides.
type Config struct {
	Credentials common.Credentials
	// Testnet routes requests to demo trading via the paptrading header.
	Testnet    bool
	HTTPClient *http.Client
	Logger     *zap.Logger
	BaseURL    string
}

// Client signs with base64 HMAC-SHA256 over ts+method+path[?query]+body.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

var _ common.Client = (*Client)(nil)

// NewClient creates a v2 mix client.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Credentials.Valid() {
		return nil, common.ErrMissingCredentials
	}
	if cfg.Credentials.Passphrase == "" {
		return nil, ErrMissingPassphrase
	}
	base := baseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = common.NewHTTPClient(10 * time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: httpClient,
		logger:     logger.Named("bitget"),
		now:        time.Now,
	}, nil
}

// ID implements common.Client.
func (c *Client) ID() common.ExchangeID { return common.Bitget }

// product describes where a unified symbol trades.
type product struct {
	productType string
	symbol      string
	marginCoin  string
}

func resolve(symbol string) (product, error) {
	s, err := common.ParseSymbol(symbol)
	if err != nil {
		return product{}, err
	}
	if s.USDTMargined() {
		return product{productType: "USDT-FUTURES", symbol: s.Joined(), marginCoin: "USDT"}, nil
	}
	margin := s.Settle
	if margin == "" {
		margin = s.Base
	}
	return product{productType: "COIN-FUTURES", symbol: s.Joined(), marginCoin: margin}, nil
}

// FetchBalance reads USDT-M futures accounts.
func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	q := url.Values{}
	q.Set("productType", "USDT-FUTURES")
	data, err := c.get(ctx, "/api/v2/mix/account/accounts", q)
	if err != nil {
		return common.Balance{}, err
	}
	var accounts []struct {
		MarginCoin string `json:"marginCoin"`
		Equity     string `json:"accountEquity"`
		Available  string `json:"available"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return common.Balance{}, fmt.Errorf("decode accounts: %w", err)
	}
	out := common.Balance{Assets: make([]common.AssetBalance, 0, len(accounts))}
	for _, a := range accounts {
		out.Assets = append(out.Assets, common.AssetBalance{
			Asset:     a.MarginCoin,
			Total:     common.ParseDecimal(a.Equity),
			Available: common.ParseDecimal(a.Available),
		})
	}
	return out, nil
}

// SetPositionMode switches the product type between hedge_mode and one_way_mode.
func (c *Client) SetPositionMode(ctx context.Context, hedged bool, symbol string) error {
	p, err := resolve(symbol)
	if err != nil {
		return err
	}
	mode := "one_way_mode"
	if hedged {
		mode = "hedge_mode"
	}
	_, err = c.post(ctx, "/api/v2/mix/account/set-position-mode", map[string]any{
		"productType": p.productType,
		"posMode":     mode,
	})
	return err
}

// SetLeverage sets leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	p, err := resolve(symbol)
	if err != nil {
		return err
	}
	_, err = c.post(ctx, "/api/v2/mix/account/set-leverage", map[string]any{
		"symbol":      p.symbol,
		"productType": p.productType,
		"marginCoin":  p.marginCoin,
		"leverage":    strconv.Itoa(leverage),
	})
	return err
}

// SetMarginMode sets crossed or isolated margin for symbol.
func (c *Client) SetMarginMode(ctx context.Context, mode common.MarginMode, symbol string) error {
	p, err := resolve(symbol)
	if err != nil {
		return err
	}
	m := "crossed"
	if mode == common.MarginIsolated {
		m = "isolated"
	}
	_, err = c.post(ctx, "/api/v2/mix/account/set-margin-mode", map[string]any{
		"symbol":      p.symbol,
		"productType": p.productType,
		"marginCoin":  p.marginCoin,
		"marginMode":  m,
	})
	return err
}

// CreateOrder places an order. In hedge mode a reduce-only order becomes
// tradeSide=close with side naming the position being closed.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	p, err := resolve(req.Symbol)
	if err != nil {
		return common.Order{}, err
	}

	body := map[string]any{
		"symbol":      p.symbol,
		"productType": p.productType,
		"marginMode":  "crossed",
		"marginCoin":  p.marginCoin,
		"size":        common.FormatDecimal(req.Amount),
		"side":        string(req.Side),
	}
	switch req.Type {
	case common.OrderTypeMarket:
		body["orderType"] = "market"
	case common.OrderTypeLimit:
		if req.Price == nil {
			return common.Order{}, errors.New("bitget: limit order requires price")
		}
		body["orderType"] = "limit"
		body["price"] = common.FormatDecimal(*req.Price)
		body["force"] = "gtc"
	default:
		return common.Order{}, fmt.Errorf("bitget: unsupported order type %q", req.Type)
	}

	params := req.Params
	hedged := params.Hedged || params.HoldSide != ""
	switch {
	case hedged && params.ReduceOnly:
		body["tradeSide"] = "close"
		body["side"] = closeSide(params.HoldSide, req.Side)
	case hedged:
		body["tradeSide"] = "open"
	case params.ReduceOnly:
		body["reduceOnly"] = "YES"
	}
	if params.StopLoss != nil {
		body["presetStopLossPrice"] = common.FormatDecimal(*params.StopLoss)
	}
	if params.ClientOrderID != "" {
		body["clientOid"] = params.ClientOrderID
	}

	data, err := c.post(ctx, "/api/v2/mix/order/place-order", body)
	if err != nil {
		return common.Order{}, err
	}
	var out struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return common.Order{ID: out.OrderID, ClientOrderID: out.ClientOid, Status: common.StatusNew}, nil
}

// closeSide returns the side Bitget expects when closing in hedge mode:
// the direction of the held position.
func closeSide(holdSide string, orderSide common.Side) string {
	switch holdSide {
	case "long":
		return "buy"
	case "short":
		return "sell"
	}
	return string(orderSide.Opposite())
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	query := q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	c.sign(req, path+"?"+query, "")
	return c.do(req, path)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.sign(req, path, string(payload))
	return c.do(req, path)
}

func (c *Client) sign(req *http.Request, requestPath, body string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	prehash := ts + req.Method + requestPath + body
	req.Header.Set("ACCESS-KEY", c.cfg.Credentials.APIKey)
	req.Header.Set("ACCESS-SIGN", common.SignBase64(prehash, c.cfg.Credentials.Secret))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.cfg.Credentials.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")
	if c.cfg.Testnet {
		req.Header.Set("paptrading", "1")
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(req *http.Request, path string) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitget %s %s: %w", req.Method, path, err)
	}
	defer res.Body.Close()

	body, err := common.ReadBody(res)
	if err != nil {
		return nil, err
	}
	var env envelope
	if jerr := json.Unmarshal(body, &env); jerr != nil {
		if res.StatusCode >= 300 {
			return nil, &common.APIError{Exchange: common.Bitget, Status: res.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("decode response: %w", jerr)
	}
	if res.StatusCode >= 300 || env.Code != codeSuccess {
		c.logger.Debug("request rejected", zap.String("path", path), zap.String("code", env.Code))
		return nil, &common.APIError{Exchange: common.Bitget, Status: res.StatusCode, Code: env.Code, Message: env.Msg}
	}
	return env.Data, nil
}
