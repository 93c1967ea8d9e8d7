// Package common holds the exchange-neutral trading surface shared by the
// Binance, Bybit and Bitget adapters.
package common

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ExchangeID names a supported venue.
type ExchangeID string

const (
	Binance ExchangeID = "binance"
	Bybit   ExchangeID = "bybit"
	Bitget  ExchangeID = "bitget"
)

// Supported lists every exchange an account may be connected to.
var Supported = []ExchangeID{Binance, Bybit, Bitget}

// ErrUnsupportedExchange is returned for an exchange id outside Supported.
var ErrUnsupportedExchange = errors.New("unsupported exchange")

// ErrMissingCredentials is returned when a client is built without keys.
var ErrMissingCredentials = errors.New("API key and secret are required")

// ParseExchangeID validates s against Supported.
func ParseExchangeID(s string) (ExchangeID, error) {
	for _, id := range Supported {
		if string(id) == s {
			return id, nil
		}
	}
	return "", ErrUnsupportedExchange
}

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order kinds the dispatch engine submits.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "STOP_MARKET" // Binance futures only
)

// MarginMode is the account/position margin mode.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Position sides for hedge mode.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// Credentials are the plaintext secrets a client signs with.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string // Bitget only
}

// Valid reports whether the mandatory fields are present.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.Secret != ""
}

// OrderParams carries venue-specific order attributes. Adapters ignore
// fields their venue does not understand.
type OrderParams struct {
	ClientOrderID string
	ReduceOnly    bool
	Hedged        bool

	// Binance
	PositionSide string           // LONG / SHORT
	StopPrice    *decimal.Decimal // STOP_MARKET trigger

	// Bybit / Bitget attached stop-loss trigger on the entry order
	StopLoss *decimal.Decimal

	// Bybit: 0 one-way/coin-margined, 1 hedge long, 2 hedge short
	PositionIdx *int

	// Bitget: long / short position being closed
	HoldSide string
}

// OrderRequest is one order to place.
type OrderRequest struct {
	Symbol string // unified, e.g. BTC/USDT:USDT
	Type   OrderType
	Side   Side
	Amount decimal.Decimal
	Price  *decimal.Decimal // limit orders only
	Params OrderParams
}

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Order is the exchange acknowledgement.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	Status        OrderStatus `json:"status"`
}

// AssetBalance is one wallet line.
type AssetBalance struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// Balance is the result of FetchBalance.
type Balance struct {
	Assets []AssetBalance `json:"assets"`
}

// Client is the capability set the vault needs from any exchange.
type Client interface {
	ID() ExchangeID
	FetchBalance(ctx context.Context) (Balance, error)
	SetPositionMode(ctx context.Context, hedged bool, symbol string) error
	SetLeverage(ctx context.Context, leverage int, symbol string) error
	SetMarginMode(ctx context.Context, mode MarginMode, symbol string) error
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// BinanceAccount is the Binance-only account-level extension.
type BinanceAccount interface {
	Client
	SetDualSidePosition(ctx context.Context, dual bool) error
	SetMultiAssetsMargin(ctx context.Context, enabled bool) error
}
