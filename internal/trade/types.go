// Package trade turns a risk-sized trade intent into venue-specific order
// batches and dispatches them.
package trade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vault-core/pkg/exchanges/common"
)

var (
	ErrInvalidRequest      = errors.New("invalid trade request")
	ErrUnsupportedExchange = common.ErrUnsupportedExchange
	ErrExchangeMismatch    = errors.New("request exchange does not match account")
)

// Direction is the position direction of a trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Side returns the entry side for d.
func (d Direction) Side() common.Side {
	if d == Long {
		return common.SideBuy
	}
	return common.SideSell
}

// Role identifies an order within a trade's batch.
type Role string

const (
	RoleEntry      Role = "entry"
	RoleStopLoss   Role = "stop_loss"
	RoleTakeProfit Role = "take_profit"
)

var hundred = decimal.NewFromInt(100)

// Request is one trade intent. Sizes and prices are decimals so that JSON
// numbers and numeric strings are both accepted.
type Request struct {
	ExchangeID        string          `json:"exchangeId"`
	Symbol            string          `json:"symbol"`
	Direction         Direction       `json:"direction"`
	PositionSize      decimal.Decimal `json:"positionSize"`
	StopLossPrice     decimal.Decimal `json:"stopLossPrice"`
	TargetPrice       decimal.Decimal `json:"targetPrice"`
	PartialClose      bool            `json:"partialClose"`
	CloseRatioPercent decimal.Decimal `json:"closeRatioPercent"`
	MaxLeverage       int             `json:"maxLeverage"`
}

// Validate checks the request shape. It does not check the exchange id.
func (r Request) Validate() error {
	if _, err := common.ParseSymbol(r.Symbol); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.Direction != Long && r.Direction != Short {
		return fmt.Errorf("%w: direction must be long or short, got %q", ErrInvalidRequest, r.Direction)
	}
	if !r.PositionSize.IsPositive() {
		return fmt.Errorf("%w: positionSize must be positive", ErrInvalidRequest)
	}
	if !r.StopLossPrice.IsPositive() || !r.TargetPrice.IsPositive() {
		return fmt.Errorf("%w: stopLossPrice and targetPrice must be positive", ErrInvalidRequest)
	}
	if r.PartialClose && (!r.CloseRatioPercent.IsPositive() || r.CloseRatioPercent.GreaterThan(hundred)) {
		return fmt.Errorf("%w: closeRatioPercent must be in (0, 100]", ErrInvalidRequest)
	}
	if r.MaxLeverage < 1 {
		return fmt.Errorf("%w: maxLeverage must be at least 1", ErrInvalidRequest)
	}
	return nil
}

// Amount is the order quantity for the entry: positionSize for
// USDT-margined symbols, positionSize/100 contracts otherwise.
func (r Request) Amount() decimal.Decimal {
	if common.IsUSDTMargined(r.Symbol) {
		return r.PositionSize
	}
	return r.PositionSize.Div(hundred)
}

// CloseAmount is the take-profit quantity for an entry of amount.
func (r Request) CloseAmount(amount decimal.Decimal) decimal.Decimal {
	if !r.PartialClose {
		return amount
	}
	return amount.Mul(r.CloseRatioPercent).Div(hundred)
}

// OrderResult is the outcome of one planned order.
type OrderResult struct {
	Role      Role                `json:"role"`
	Request   common.OrderRequest `json:"-"`
	Symbol    string              `json:"symbol"`
	Side      common.Side         `json:"side"`
	Type      common.OrderType    `json:"type"`
	Amount    string              `json:"amount"`
	Price     string              `json:"price,omitempty"`
	OrderID   string              `json:"orderId,omitempty"`
	Status    common.OrderStatus  `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
	LatencyMs int64               `json:"latencyMs"`

	err error
}

// Err returns the placement error, nil when the order was accepted.
func (r OrderResult) Err() error { return r.err }

// OrderSubmissionError reports a batch in which at least one order failed.
// Results holds every order, including those that were placed and are not
// rolled back.
type OrderSubmissionError struct {
	TradeID string
	Results []OrderResult
}

func (e *OrderSubmissionError) Error() string {
	var failed []string
	for _, r := range e.Results {
		if r.err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", r.Role, r.err))
		}
	}
	return fmt.Sprintf("order submission failed (%d of %d): %s", len(failed), len(e.Results), strings.Join(failed, "; "))
}

// Unwrap exposes the underlying order errors to errors.Is and errors.As.
func (e *OrderSubmissionError) Unwrap() []error {
	var errs []error
	for _, r := range e.Results {
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return errs
}

// Failed returns the results whose order was rejected.
func (e *OrderSubmissionError) Failed() []OrderResult {
	var out []OrderResult
	for _, r := range e.Results {
		if r.err != nil {
			out = append(out, r)
		}
	}
	return out
}
