package trade

import (
	"fmt"

	"github.com/shopspring/decimal"

	"vault-core/pkg/exchanges/common"
)

// OrderSpec is one order of a plan.
type OrderSpec struct {
	Role    Role
	Request common.OrderRequest
}

// OrderPlan is the declarative batch for one trade. The engine submits
// every order the same way regardless of venue.
type OrderPlan struct {
	Exchange common.ExchangeID
	Side     common.Side
	Amount   decimal.Decimal
	Orders   []OrderSpec
}

type planner func(req Request, side common.Side, amount decimal.Decimal) []OrderSpec

var planners = map[common.ExchangeID]planner{
	common.Binance: binancePlan,
	common.Bybit:   bybitPlan,
	common.Bitget:  bitgetPlan,
}

// buildOrderPlan computes the order batch for req on exchange id.
func buildOrderPlan(id common.ExchangeID, req Request) (OrderPlan, error) {
	plan, ok := planners[id]
	if !ok {
		return OrderPlan{}, fmt.Errorf("%w: %q", ErrUnsupportedExchange, id)
	}
	side := req.Direction.Side()
	amount := req.Amount()
	return OrderPlan{
		Exchange: id,
		Side:     side,
		Amount:   amount,
		Orders:   plan(req, side, amount),
	}, nil
}

// binancePlan: hedged market entry, reduce-only STOP_MARKET and a
// reduce-only limit take-profit, all on the entry's position side.
func binancePlan(req Request, side common.Side, amount decimal.Decimal) []OrderSpec {
	positionSide := common.PositionShort
	if req.Direction == Long {
		positionSide = common.PositionLong
	}
	stop := req.StopLossPrice
	target := req.TargetPrice

	return []OrderSpec{
		{Role: RoleEntry, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeMarket,
			Side:   side,
			Amount: amount,
			Params: common.OrderParams{PositionSide: positionSide, Hedged: true},
		}},
		{Role: RoleStopLoss, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeStopMarket,
			Side:   side.Opposite(),
			Amount: amount,
			Params: common.OrderParams{PositionSide: positionSide, Hedged: true, ReduceOnly: true, StopPrice: &stop},
		}},
		{Role: RoleTakeProfit, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeLimit,
			Side:   side.Opposite(),
			Amount: req.CloseAmount(amount),
			Price:  &target,
			Params: common.OrderParams{PositionSide: positionSide, Hedged: true, ReduceOnly: true},
		}},
	}
}

// bybitPlan: market entry with an attached stop-loss and a reduce-only
// limit take-profit. positionIdx is 0 for coin-margined contracts and
// 1 (long) or 2 (short) in USDT hedge mode.
func bybitPlan(req Request, side common.Side, amount decimal.Decimal) []OrderSpec {
	idx := 0
	if common.IsUSDTMargined(req.Symbol) {
		idx = 2
		if req.Direction == Long {
			idx = 1
		}
	}
	stop := req.StopLossPrice
	target := req.TargetPrice
	entryIdx, tpIdx := idx, idx

	return []OrderSpec{
		{Role: RoleEntry, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeMarket,
			Side:   side,
			Amount: amount,
			Params: common.OrderParams{StopLoss: &stop, PositionIdx: &entryIdx},
		}},
		{Role: RoleTakeProfit, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeLimit,
			Side:   side.Opposite(),
			Amount: req.CloseAmount(amount),
			Price:  &target,
			Params: common.OrderParams{ReduceOnly: true, PositionIdx: &tpIdx},
		}},
	}
}

// bitgetPlan: hedged market entry with a preset stop-loss and a
// reduce-only limit take-profit closing holdSide.
func bitgetPlan(req Request, side common.Side, amount decimal.Decimal) []OrderSpec {
	holdSide := "short"
	if req.Direction == Long {
		holdSide = "long"
	}
	stop := req.StopLossPrice
	target := req.TargetPrice

	return []OrderSpec{
		{Role: RoleEntry, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeMarket,
			Side:   side,
			Amount: amount,
			Params: common.OrderParams{StopLoss: &stop, Hedged: true},
		}},
		{Role: RoleTakeProfit, Request: common.OrderRequest{
			Symbol: req.Symbol,
			Type:   common.OrderTypeLimit,
			Side:   side.Opposite(),
			Amount: req.CloseAmount(amount),
			Price:  &target,
			Params: common.OrderParams{ReduceOnly: true, Hedged: true, HoldSide: holdSide},
		}},
	}
}
