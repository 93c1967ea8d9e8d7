package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vault-core/internal/events"
	"vault-core/internal/monitor"
	"vault-core/internal/vault"
	"vault-core/pkg/db"
	"vault-core/pkg/exchanges/common"
)

// Journal records order outcomes.
type Journal interface {
	InsertJournalEntries(ctx context.Context, entries []db.JournalEntry) error
}

// Engine applies account setup and dispatches order plans.
type Engine struct {
	journal Journal
	bus     *events.Bus
	metrics *monitor.Metrics
	logger  *zap.Logger
	timeout time.Duration
	newID   func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithJournal(j Journal) EngineOption          { return func(e *Engine) { e.journal = j } }
func WithBus(b *events.Bus) EngineOption          { return func(e *Engine) { e.bus = b } }
func WithMetrics(m *monitor.Metrics) EngineOption { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *zap.Logger) EngineOption       { return func(e *Engine) { e.logger = l } }

// WithTimeout bounds each exchange call.
func WithTimeout(d time.Duration) EngineOption { return func(e *Engine) { e.timeout = d } }

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:  zap.NewNop(),
		timeout: 10 * time.Second,
		newID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("trade")
	return e
}

// SubmitTrade places the order batch for req on account. Setup steps are
// best effort. Every planned order is attempted concurrently; if any
// fails the call returns *OrderSubmissionError with all results, and
// orders that were placed stay placed.
func (e *Engine) SubmitTrade(ctx context.Context, req Request, account vault.DecryptedAccount) ([]OrderResult, error) {
	id, err := common.ParseExchangeID(strings.ToLower(strings.TrimSpace(req.ExchangeID)))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExchange, req.ExchangeID)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if account.Client == nil {
		return nil, fmt.Errorf("%w: account %s has no exchange client", ErrInvalidRequest, account.ID)
	}
	plan, err := buildOrderPlan(id, req)
	if err != nil {
		return nil, err
	}

	tradeID := uuid.NewString()
	log := e.logger.With(
		zap.String("trade_id", tradeID),
		zap.String("account_id", account.ID),
		zap.String("exchange", string(id)),
		zap.String("symbol", req.Symbol),
		zap.String("direction", string(req.Direction)),
	)

	e.setup(ctx, log, account.Client, id, req)

	results := e.dispatch(ctx, log, account.Client, plan)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
	}
	e.record(ctx, log, tradeID, account, id, req, results, failed)

	if failed > 0 {
		return results, &OrderSubmissionError{TradeID: tradeID, Results: results}
	}
	log.Info("trade placed", zap.Int("orders", len(results)))
	return results, nil
}

// setup runs the venue's account-mode steps. Failures are logged and
// counted, never returned.
func (e *Engine) setup(ctx context.Context, log *zap.Logger, client common.Client, id common.ExchangeID, req Request) {
	step := func(name string, fn func(context.Context) error) {
		cctx, cancel := e.callContext(ctx)
		defer cancel()
		if err := fn(cctx); err != nil {
			e.metrics.SetupWarning()
			log.Warn("setup step failed", zap.String("step", name), zap.Error(err))
		}
	}

	if ba, ok := client.(common.BinanceAccount); ok && id == common.Binance {
		step("dual_side_position", func(c context.Context) error { return ba.SetDualSidePosition(c, true) })
		step("multi_assets_margin", func(c context.Context) error { return ba.SetMultiAssetsMargin(c, true) })
	} else {
		step("position_mode", func(c context.Context) error { return client.SetPositionMode(c, true, req.Symbol) })
	}
	step("leverage", func(c context.Context) error { return client.SetLeverage(c, req.MaxLeverage, req.Symbol) })
	step("margin_mode", func(c context.Context) error { return client.SetMarginMode(c, common.MarginCross, req.Symbol) })
}

// dispatch submits every order concurrently and waits for all of them.
func (e *Engine) dispatch(ctx context.Context, log *zap.Logger, client common.Client, plan OrderPlan) []OrderResult {
	var latency *monitor.LatencyHistogram
	if e.metrics != nil {
		latency = e.metrics.OrderLatency
	}

	results := make([]OrderResult, len(plan.Orders))
	var wg sync.WaitGroup
	for i, spec := range plan.Orders {
		order := spec.Request
		order.Params.ClientOrderID = e.newID()
		results[i] = OrderResult{
			Role:    spec.Role,
			Request: order,
			Symbol:  order.Symbol,
			Side:    order.Side,
			Type:    order.Type,
			Amount:  common.FormatDecimal(order.Amount),
		}
		if order.Price != nil {
			results[i].Price = common.FormatDecimal(*order.Price)
		}

		wg.Add(1)
		go func(r *OrderResult) {
			defer wg.Done()
			cctx, cancel := e.callContext(ctx)
			defer cancel()

			timer := monitor.NewTimer(latency)
			placed, err := client.CreateOrder(cctx, r.Request)
			r.LatencyMs = timer.Stop().Milliseconds()
			if err != nil {
				r.err = err
				r.Error = err.Error()
				r.Status = common.StatusRejected
				e.metrics.OrderFailed()
				log.Warn("order rejected", zap.String("role", string(r.Role)), zap.Error(err))
				return
			}
			r.OrderID = placed.ID
			r.Status = placed.Status
			e.metrics.OrderPlaced()
			log.Info("order placed", zap.String("role", string(r.Role)), zap.String("order_id", placed.ID))
		}(&results[i])
	}
	wg.Wait()
	return results
}

func (e *Engine) record(ctx context.Context, log *zap.Logger, tradeID string, account vault.DecryptedAccount, id common.ExchangeID, req Request, results []OrderResult, failed int) {
	e.metrics.TradeFinished(failed > 0)

	for _, r := range results {
		payload := events.OrderPayload{
			TradeID:    tradeID,
			AccountID:  account.ID,
			ExchangeID: string(id),
			Symbol:     req.Symbol,
			Role:       string(r.Role),
			OrderID:    r.OrderID,
			Error:      r.Error,
		}
		if r.err != nil {
			e.bus.Publish(events.EventOrderFailed, payload)
		} else {
			e.bus.Publish(events.EventOrderPlaced, payload)
		}
	}
	e.bus.Publish(events.EventTradeSubmitted, events.TradePayload{
		TradeID:    tradeID,
		AccountID:  account.ID,
		ExchangeID: string(id),
		Symbol:     req.Symbol,
		Direction:  string(req.Direction),
		Placed:     len(results) - failed,
		Failed:     failed,
	})

	if e.journal == nil {
		return
	}
	entries := make([]db.JournalEntry, 0, len(results))
	for _, r := range results {
		status := string(r.Status)
		if status == "" {
			status = string(common.StatusUnknown)
		}
		entries = append(entries, db.JournalEntry{
			TradeID:         tradeID,
			AccountID:       account.ID,
			ExchangeID:      string(id),
			Symbol:          req.Symbol,
			Role:            string(r.Role),
			Side:            string(r.Side),
			OrderType:       string(r.Type),
			Amount:          r.Amount,
			Price:           r.Price,
			ExchangeOrderID: r.OrderID,
			Status:          status,
			Error:           r.Error,
			LatencyMs:       r.LatencyMs,
		})
	}
	// The journal outlives a cancelled request.
	if err := e.journal.InsertJournalEntries(context.WithoutCancel(ctx), entries); err != nil {
		log.Error("write order journal", zap.Error(err))
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// IsSubmissionError reports whether err is an *OrderSubmissionError.
func IsSubmissionError(err error) bool {
	var se *OrderSubmissionError
	return errors.As(err, &se)
}
