package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vault-core/internal/events"
)

// Monitor watches the event bus, keeps session-level metrics current and
// raises alerts for failed orders and vault wipes.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Logger  *zap.Logger
	// AlertFn receives alert lines; defaults to a warn log.
	AlertFn func(string)
}

// Start consumes events until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if m.Bus == nil {
		logger.Info("monitor not configured; skipping")
		return
	}
	alert := m.AlertFn
	if alert == nil {
		alert = func(s string) { logger.Warn("alert", zap.String("message", s)) }
	}

	stream, unsub := m.Bus.SubscribeAll(128)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(env, alert)
			}
		}
	}()
}

func (m *Monitor) handle(env events.Envelope, alert func(string)) {
	switch env.Event {
	case events.EventSessionStarted:
		m.Metrics.SetSessionStart(env.Time)
	case events.EventSessionEnded:
		m.Metrics.SetSessionStart(time.Time{})
		m.Metrics.SetLiveClients(0)
	case events.EventOrderFailed:
		if p, ok := env.Payload.(events.OrderPayload); ok {
			alert(formatAlert(env.Time, "order "+p.Role+" on "+p.ExchangeID+" "+p.Symbol+" failed: "+p.Error))
		}
	case events.EventVaultReset:
		alert(formatAlert(env.Time, "vault reset: PIN and all accounts wiped"))
	}
}

func formatAlert(t time.Time, msg string) string {
	return "[" + t.Format(time.RFC3339) + "] " + msg
}
