// Package bybit adapts the Bybit v5 unified API to common.Client.
package bybit

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

const (
	mainnetBase = "https://api.bybit.com"
	testnetBase = "https://api-testnet.bybit.com"
)

// retCodes that mean the requested setting is already in place.
const (
	codePositionModeUnchanged = "110025"
	codeLeverageUnchanged     = "110043"
)

// Config holds Bybit credentials and transport overrides.
type Config struct {
	Credentials common.Credentials
	Testnet     bool
	RecvWindow  int64 // ms
	HTTPClient  *http.Client
	Logger      *zap.Logger
	BaseURL     string
}

// Client signs requests with HMAC-SHA256 over ts+key+recvWindow+payload.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

var _ common.Client = (*Client)(nil)

// NewClient creates a v5 client.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Credentials.Valid() {
		return nil, common.ErrMissingCredentials
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	base := mainnetBase
	if cfg.Testnet {
		base = testnetBase
	}
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
		logger:     logger.Named("bybit"),
		now:        time.Now,
	}, nil
}

// ID implements common.Client.
func (c *Client) ID() common.ExchangeID { return common.Bybit }

// FetchBalance reads the unified wallet.
func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	result, err := c.get(ctx, "/v5/account/wallet-balance", q)
	if err != nil {
		return common.Balance{}, err
	}
	var wallet struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &wallet); err != nil {
		return common.Balance{}, fmt.Errorf("decode wallet: %w", err)
	}
	var out common.Balance
	for _, acct := range wallet.List {
		for _, coin := range acct.Coin {
			out.Assets = append(out.Assets, common.AssetBalance{
				Asset:     coin.Coin,
				Total:     common.ParseDecimal(coin.WalletBalance),
				Available: common.ParseDecimal(coin.AvailableToWithdraw),
			})
		}
	}
	return out, nil
}

// SetPositionMode switches between hedge (mode 3) and one-way (mode 0).
func (c *Client) SetPositionMode(ctx context.Context, hedged bool, symbol string) error {
	category, native, err := resolve(symbol)
	if err != nil {
		return err
	}
	mode := 0
	if hedged {
		mode = 3
	}
	_, err = c.post(ctx, "/v5/position/switch-mode", map[string]any{
		"category": category,
		"symbol":   native,
		"mode":     mode,
	})
	if common.IsAPICode(err, codePositionModeUnchanged) {
		return nil
	}
	return err
}

// SetLeverage applies the same leverage to both sides.
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	category, native, err := resolve(symbol)
	if err != nil {
		return err
	}
	lev := strconv.Itoa(leverage)
	_, err = c.post(ctx, "/v5/position/set-leverage", map[string]any{
		"category":     category,
		"symbol":       native,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	})
	if common.IsAPICode(err, codeLeverageUnchanged) {
		return nil
	}
	return err
}

// SetMarginMode sets the unified account margin mode. The symbol is unused
// because unified accounts apply margin mode account-wide.
func (c *Client) SetMarginMode(ctx context.Context, mode common.MarginMode, _ string) error {
	m := "REGULAR_MARGIN"
	if mode == common.MarginIsolated {
		m = "ISOLATED_MARGIN"
	}
	_, err := c.post(ctx, "/v5/account/set-margin-mode", map[string]any{"setMarginMode": m})
	return err
}

// CreateOrder places a market or limit order.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	category, native, err := resolve(req.Symbol)
	if err != nil {
		return common.Order{}, err
	}

	body := map[string]any{
		"category": category,
		"symbol":   native,
		"side":     titleSide(req.Side),
		"qty":      common.FormatDecimal(req.Amount),
	}
	switch req.Type {
	case common.OrderTypeMarket:
		body["orderType"] = "Market"
	case common.OrderTypeLimit:
		if req.Price == nil {
			return common.Order{}, errors.New("bybit: limit order requires price")
		}
		body["orderType"] = "Limit"
		body["price"] = common.FormatDecimal(*req.Price)
		body["timeInForce"] = "GTC"
	default:
		return common.Order{}, fmt.Errorf("bybit: unsupported order type %q", req.Type)
	}

	p := req.Params
	if p.PositionIdx != nil {
		body["positionIdx"] = *p.PositionIdx
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	if p.StopLoss != nil {
		body["stopLoss"] = common.FormatDecimal(*p.StopLoss)
		body["slTriggerBy"] = "MarkPrice"
	}
	if p.ClientOrderID != "" {
		body["orderLinkId"] = p.ClientOrderID
	}

	result, err := c.post(ctx, "/v5/order/create", body)
	if err != nil {
		return common.Order{}, err
	}
	var out struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return common.Order{ID: out.OrderID, ClientOrderID: out.OrderLinkID, Status: common.StatusNew}, nil
}

// resolve maps a unified symbol to the v5 category and native symbol.
func resolve(symbol string) (category, native string, err error) {
	s, err := common.ParseSymbol(symbol)
	if err != nil {
		return "", "", err
	}
	if s.USDTMargined() {
		return "linear", s.Joined(), nil
	}
	return "inverse", s.Joined(), nil
}

func titleSide(s common.Side) string {
	if s == common.SideBuy {
		return "Buy"
	}
	return "Sell"
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	query := q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	c.sign(req, query)
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
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(payload))
	return c.do(req, path)
}

func (c *Client) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	recv := strconv.FormatInt(c.cfg.RecvWindow, 10)
	req.Header.Set("X-BAPI-API-KEY", c.cfg.Credentials.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	req.Header.Set("X-BAPI-SIGN", common.SignHex(ts+c.cfg.Credentials.APIKey+recv+payload, c.cfg.Credentials.Secret))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) do(req *http.Request, path string) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit %s %s: %w", req.Method, path, err)
	}
	defer res.Body.Close()

	body, err := common.ReadBody(res)
	if err != nil {
		return nil, err
	}

	var env envelope
	if jerr := json.Unmarshal(body, &env); jerr != nil {
		if res.StatusCode >= 300 {
			return nil, &common.APIError{Exchange: common.Bybit, Status: res.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("decode response: %w", jerr)
	}
	if res.StatusCode >= 300 || env.RetCode != 0 {
		c.logger.Debug("request rejected", zap.String("path", path), zap.Int("ret_code", env.RetCode))
		return nil, &common.APIError{
			Exchange: common.Bybit,
			Status:   res.StatusCode,
			Code:     strconv.Itoa(env.RetCode),
			Message:  env.RetMsg,
		}
	}
	return env.Result, nil
}
