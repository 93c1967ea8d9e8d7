// Package binance adapts Binance USDⓈ-M (fapi) and COIN-M (dapi) futures to common.Client.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vault-core/pkg/exchanges/common"
)

const (
	usdmBase        = "https://fapi.binance.com"
	usdmTestnetBase = "https://testnet.binancefuture.com"
	coinmBase       = "https://dapi.binance.com"
	coinmTestBase   = "https://testnet.binancefuture.com"
)

// Error codes that mean the requested setting is already in place.
const (
	codeNoNeedChangeMargin   = "-4046"
	codeNoNeedChangePosition = "-4059"
)

// Config holds Binance futures credentials and transport overrides.
type Config struct {
	Credentials common.Credentials
	Testnet     bool
	RecvWindow  int64 // ms
	HTTPClient  *http.Client
	Logger      *zap.Logger

	// Base URL overrides, used by tests.
	USDMBaseURL  string
	CoinMBaseURL string
}

// market is one futures venue: USDⓈ-M under /fapi or COIN-M under /dapi.
type market struct {
	baseURL string
	prefix  string
}

// Client handles Binance futures for both margin families.
type Client struct {
	cfg        Config
	usdm       market
	coinm      market
	httpClient *http.Client
	timeSync   *common.TimeSync
	weight     *common.WeightGate
	logger     *zap.Logger
	syncOnce   sync.Once
}

var _ common.BinanceAccount = (*Client)(nil)

// NewClient creates a futures client.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Credentials.Valid() {
		return nil, common.ErrMissingCredentials
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = common.NewHTTPClient(10 * time.Second)
	}

	usdm, coinm := usdmBase, coinmBase
	if cfg.Testnet {
		usdm, coinm = usdmTestnetBase, coinmTestBase
	}
	if cfg.USDMBaseURL != "" {
		usdm = cfg.USDMBaseURL
	}
	if cfg.CoinMBaseURL != "" {
		coinm = cfg.CoinMBaseURL
	}

	c := &Client{
		cfg:        cfg,
		usdm:       market{baseURL: strings.TrimRight(usdm, "/"), prefix: "/fapi"},
		coinm:      market{baseURL: strings.TrimRight(coinm, "/"), prefix: "/dapi"},
		httpClient: httpClient,
		logger:     logger.Named("binance"),
	}
	c.timeSync = common.NewTimeSync(c.serverTime, c.logger)
	c.weight = common.NewWeightGate(2400, time.Minute, c.logger)
	return c, nil
}

// ID implements common.Client.
func (c *Client) ID() common.ExchangeID { return common.Binance }

// FetchBalance returns USDⓈ-M wallet balances; it doubles as the credential check.
func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	body, err := c.doSigned(ctx, c.usdm, http.MethodGet, "/v2/balance", url.Values{})
	if err != nil {
		return common.Balance{}, err
	}
	var raw []futuresBalance
	if err := json.Unmarshal(body, &raw); err != nil {
		return common.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	out := common.Balance{Assets: make([]common.AssetBalance, 0, len(raw))}
	for _, b := range raw {
		out.Assets = append(out.Assets, common.AssetBalance{
			Asset:     b.Asset,
			Total:     common.ParseDecimal(b.Balance),
			Available: common.ParseDecimal(b.AvailableBalance),
		})
	}
	return out, nil
}

// SetPositionMode toggles hedge mode on the venue that lists symbol.
func (c *Client) SetPositionMode(ctx context.Context, hedged bool, symbol string) error {
	m, _, err := c.resolve(symbol)
	if err != nil {
		return err
	}
	return c.setDual(ctx, m, hedged)
}

// SetDualSidePosition enables/disables hedge mode on USDⓈ-M.
func (c *Client) SetDualSidePosition(ctx context.Context, dual bool) error {
	return c.setDual(ctx, c.usdm, dual)
}

func (c *Client) setDual(ctx context.Context, m market, dual bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dual))
	_, err := c.doSigned(ctx, m, http.MethodPost, "/v1/positionSide/dual", params)
	if common.IsAPICode(err, codeNoNeedChangePosition) {
		return nil
	}
	return err
}

// SetMultiAssetsMargin toggles multi-assets margin mode (USDⓈ-M only).
func (c *Client) SetMultiAssetsMargin(ctx context.Context, enabled bool) error {
	params := url.Values{}
	params.Set("multiAssetsMargin", strconv.FormatBool(enabled))
	_, err := c.doSigned(ctx, c.usdm, http.MethodPost, "/v1/multiAssetsMargin", params)
	return err
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	m, native, err := c.resolve(symbol)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", native)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err = c.doSigned(ctx, m, http.MethodPost, "/v1/leverage", params)
	return err
}

// SetMarginMode sets margin type (CROSSED or ISOLATED).
func (c *Client) SetMarginMode(ctx context.Context, mode common.MarginMode, symbol string) error {
	m, native, err := c.resolve(symbol)
	if err != nil {
		return err
	}
	marginType := "CROSSED"
	if mode == common.MarginIsolated {
		marginType = "ISOLATED"
	}
	params := url.Values{}
	params.Set("symbol", native)
	params.Set("marginType", marginType)
	_, err = c.doSigned(ctx, m, http.MethodPost, "/v1/marginType", params)
	if common.IsAPICode(err, codeNoNeedChangeMargin) {
		return nil
	}
	return err
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	m, native, err := c.resolve(req.Symbol)
	if err != nil {
		return common.Order{}, err
	}

	params := url.Values{}
	params.Set("symbol", native)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("quantity", common.FormatDecimal(req.Amount))

	switch req.Type {
	case common.OrderTypeMarket:
		params.Set("type", "MARKET")
	case common.OrderTypeLimit:
		if req.Price == nil {
			return common.Order{}, errors.New("binance: limit order requires price")
		}
		params.Set("type", "LIMIT")
		params.Set("price", common.FormatDecimal(*req.Price))
		params.Set("timeInForce", "GTC")
	case common.OrderTypeStopMarket:
		if req.Params.StopPrice == nil {
			return common.Order{}, errors.New("binance: STOP_MARKET requires stopPrice")
		}
		params.Set("type", "STOP_MARKET")
		params.Set("stopPrice", common.FormatDecimal(*req.Params.StopPrice))
	default:
		return common.Order{}, fmt.Errorf("binance: unsupported order type %q", req.Type)
	}

	if req.Params.ClientOrderID != "" {
		params.Set("newClientOrderId", req.Params.ClientOrderID)
	}
	// In hedge mode the position side already implies reduce-only and
	// Binance rejects an explicit reduceOnly flag.
	if req.Params.PositionSide != "" {
		params.Set("positionSide", req.Params.PositionSide)
	} else if req.Params.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, m, http.MethodPost, "/v1/order", params)
	if err != nil {
		return common.Order{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return common.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        mapStatus(resp.Status),
	}, nil
}

// resolve maps a unified symbol to its venue and native id.
func (c *Client) resolve(symbol string) (market, string, error) {
	s, err := common.ParseSymbol(symbol)
	if err != nil {
		return market{}, "", err
	}
	if s.USDTMargined() {
		return c.usdm, s.Joined(), nil
	}
	return c.coinm, s.Base + s.Quote + "_PERP", nil
}

// now returns a server-aligned timestamp.
func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.usdm.baseURL+c.usdm.prefix+"/v1/time", nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, err := common.ReadBody(res)
	if err != nil {
		return 0, err
	}
	if res.StatusCode >= 300 {
		return 0, fmt.Errorf("server time status %d: %s", res.StatusCode, string(body))
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

// doSigned handles signing and sending requests.
func (c *Client) doSigned(ctx context.Context, m market, method, path string, params url.Values) ([]byte, error) {
	c.syncOnce.Do(func() { c.timeSync.SyncIfStale(ctx) })
	if err := c.weight.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", method, path, err)
	}

	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	encoded := params.Encode()
	encoded += "&signature=" + common.SignHex(encoded, c.cfg.Credentials.Secret)

	endpoint := m.baseURL + m.prefix + path
	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.Credentials.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	c.weight.Observe(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := common.ReadBody(res)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		return nil, parseError(res.StatusCode, body)
	}
	return body, nil
}

func parseError(status int, body []byte) error {
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	apiErr := &common.APIError{Exchange: common.Binance, Status: status, Message: strings.TrimSpace(string(body))}
	if json.Unmarshal(body, &e) == nil && e.Msg != "" {
		apiErr.Code = strconv.Itoa(e.Code)
		apiErr.Message = e.Msg
	}
	return apiErr
}
