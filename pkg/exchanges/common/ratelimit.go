package common

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrWeightExhausted is returned when the caller's deadline ends before
// the venue's weight window resets.
var ErrWeightExhausted = errors.New("request weight exhausted")

// WeightGate follows the request weight a venue reports for its current
// window and holds requests back once usage reaches the pause threshold.
// Windows are aligned to wall-clock multiples of the window length.
type WeightGate struct {
	mu      sync.Mutex
	used    int
	seen    time.Time
	limit   int
	pauseAt int
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewWeightGate pauses at 90% of limit.
func NewWeightGate(limit int, window time.Duration, logger *zap.Logger) *WeightGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeightGate{
		limit:   limit,
		pauseAt: limit * 9 / 10,
		window:  window,
		now:     time.Now,
		logger:  logger,
	}
}

// Observe records a used-weight header value. Empty or malformed values
// are ignored.
func (g *WeightGate) Observe(header string) {
	weight, err := strconv.Atoi(header)
	if err != nil || weight < 0 {
		return
	}
	g.mu.Lock()
	g.used = weight
	g.seen = g.now()
	g.mu.Unlock()

	if weight >= g.pauseAt {
		g.logger.Warn("request weight near limit", zap.Int("used", weight), zap.Int("limit", g.limit))
	}
}

// Usage reports the weight used in the current window.
func (g *WeightGate) Usage() (used, limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.now().Before(g.resetAt()) {
		return 0, g.limit
	}
	return g.used, g.limit
}

// Wait blocks until the window resets when usage is at or above the pause
// threshold. It fails fast with ErrWeightExhausted if ctx expires first.
func (g *WeightGate) Wait(ctx context.Context) error {
	delay := g.delay()
	if delay <= 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < delay {
		return fmt.Errorf("%w: window resets in %s", ErrWeightExhausted, delay.Round(time.Millisecond))
	}

	g.logger.Info("pausing for weight window", zap.Duration("delay", delay))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *WeightGate) delay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used < g.pauseAt {
		return 0
	}
	return g.resetAt().Sub(g.now())
}

// resetAt must be called with mu held.
func (g *WeightGate) resetAt() time.Time {
	return g.seen.Truncate(g.window).Add(g.window)
}
