package trade

import (
	"fmt"

	"github.com/shopspring/decimal"

	"vault-core/pkg/exchanges/common"
)

// SizingInput describes a setup before it becomes a Request.
type SizingInput struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	StopLoss   decimal.Decimal `json:"stopLossPrice"`
}

// Sizing is the risk-derived size and target for a setup.
type Sizing struct {
	PositionSize decimal.Decimal `json:"positionSize"`
	TargetPrice  decimal.Decimal `json:"targetPrice"`
	Amount       decimal.Decimal `json:"amount"`
}

// Size derives the position size so that hitting the stop loses cfg.Risk,
// and places the target cfg.RiskRatio stop-distances from entry.
// USDT-margined sizes are in base units; coin-margined sizes are USD
// notional, which Request.Amount turns into 100 USD contracts.
func Size(cfg Config, in SizingInput) (Sizing, error) {
	if err := cfg.Validate(); err != nil {
		return Sizing{}, err
	}
	if in.Direction != Long && in.Direction != Short {
		return Sizing{}, fmt.Errorf("%w: direction must be long or short", ErrInvalidRequest)
	}
	if !in.EntryPrice.IsPositive() || !in.StopLoss.IsPositive() {
		return Sizing{}, fmt.Errorf("%w: prices must be positive", ErrInvalidRequest)
	}
	if in.Direction == Long && !in.StopLoss.LessThan(in.EntryPrice) {
		return Sizing{}, fmt.Errorf("%w: long stop must be below entry", ErrInvalidRequest)
	}
	if in.Direction == Short && !in.StopLoss.GreaterThan(in.EntryPrice) {
		return Sizing{}, fmt.Errorf("%w: short stop must be above entry", ErrInvalidRequest)
	}

	risk := decimal.NewFromFloat(cfg.Risk)
	ratio := decimal.NewFromFloat(cfg.RiskRatio)
	distance := in.EntryPrice.Sub(in.StopLoss).Abs()

	size := risk.Div(distance)
	if !common.IsUSDTMargined(in.Symbol) {
		size = size.Mul(in.EntryPrice)
	}

	reward := distance.Mul(ratio)
	target := in.EntryPrice.Add(reward)
	if in.Direction == Short {
		target = in.EntryPrice.Sub(reward)
	}
	if !target.IsPositive() {
		return Sizing{}, fmt.Errorf("%w: target price would be %s", ErrInvalidRequest, target)
	}

	req := Request{Symbol: in.Symbol, PositionSize: size}
	return Sizing{PositionSize: size, TargetPrice: target, Amount: req.Amount()}, nil
}
