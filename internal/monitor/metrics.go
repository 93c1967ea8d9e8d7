package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks vault and dispatch activity. All methods are safe on a nil receiver.
type Metrics struct {
	// OrderLatency records per-order submission round trips.
	OrderLatency *LatencyHistogram
	// UnlockLatency covers PBKDF2 + fingerprint verification.
	UnlockLatency *LatencyHistogram

	unlockSuccess  uint64
	unlockFailure  uint64
	tradesAccepted uint64
	tradesFailed   uint64
	ordersPlaced   uint64
	ordersFailed   uint64
	setupWarnings  uint64
	accountsAdded  uint64
	validationErrs uint64

	mu           sync.RWMutex
	liveClients  int
	sessionStart time.Time
	started      time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		OrderLatency:  NewLatencyHistogram(1000),
		UnlockLatency: NewLatencyHistogram(200),
		started:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	if h == nil {
		return LatencyStats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *Metrics) UnlockSucceeded() {
	if m != nil {
		atomic.AddUint64(&m.unlockSuccess, 1)
	}
}

func (m *Metrics) UnlockFailed() {
	if m != nil {
		atomic.AddUint64(&m.unlockFailure, 1)
	}
}

// TradeFinished counts a dispatched trade; failed means at least one order was rejected.
func (m *Metrics) TradeFinished(failed bool) {
	if m == nil {
		return
	}
	if failed {
		atomic.AddUint64(&m.tradesFailed, 1)
		return
	}
	atomic.AddUint64(&m.tradesAccepted, 1)
}

func (m *Metrics) OrderPlaced() {
	if m != nil {
		atomic.AddUint64(&m.ordersPlaced, 1)
	}
}

func (m *Metrics) OrderFailed() {
	if m != nil {
		atomic.AddUint64(&m.ordersFailed, 1)
	}
}

func (m *Metrics) SetupWarning() {
	if m != nil {
		atomic.AddUint64(&m.setupWarnings, 1)
	}
}

func (m *Metrics) AccountAdded() {
	if m != nil {
		atomic.AddUint64(&m.accountsAdded, 1)
	}
}

func (m *Metrics) ValidationFailed() {
	if m != nil {
		atomic.AddUint64(&m.validationErrs, 1)
	}
}

// SetLiveClients updates the number of cached exchange clients.
func (m *Metrics) SetLiveClients(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.liveClients = n
	m.mu.Unlock()
}

// SetSessionStart records when the current session began; zero clears it.
func (m *Metrics) SetSessionStart(t time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sessionStart = t
	m.mu.Unlock()
}

// Snapshot is a point-in-time view of Metrics.
type Snapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	UnlockLatency    LatencyStats `json:"unlock_latency"`
	UnlockSuccess    uint64       `json:"unlock_success"`
	UnlockFailure    uint64       `json:"unlock_failure"`
	TradesAccepted   uint64       `json:"trades_accepted"`
	TradesFailed     uint64       `json:"trades_failed"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	OrdersFailed     uint64       `json:"orders_failed"`
	SetupWarnings    uint64       `json:"setup_warnings"`
	AccountsAdded    uint64       `json:"accounts_added"`
	ValidationErrors uint64       `json:"validation_errors"`
	LiveClients      int          `json:"live_clients"`
	SessionActive    bool         `json:"session_active"`
	SessionAgeSec    float64      `json:"session_age_sec,omitempty"`
	UptimeSec        float64      `json:"uptime_sec"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	live := m.liveClients
	sessionStart := m.sessionStart
	m.mu.RUnlock()

	now := time.Now()
	snap := Snapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		UnlockLatency:    m.UnlockLatency.Stats(),
		UnlockSuccess:    atomic.LoadUint64(&m.unlockSuccess),
		UnlockFailure:    atomic.LoadUint64(&m.unlockFailure),
		TradesAccepted:   atomic.LoadUint64(&m.tradesAccepted),
		TradesFailed:     atomic.LoadUint64(&m.tradesFailed),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		OrdersFailed:     atomic.LoadUint64(&m.ordersFailed),
		SetupWarnings:    atomic.LoadUint64(&m.setupWarnings),
		AccountsAdded:    atomic.LoadUint64(&m.accountsAdded),
		ValidationErrors: atomic.LoadUint64(&m.validationErrs),
		LiveClients:      live,
		SessionActive:    !sessionStart.IsZero(),
		UptimeSec:        now.Sub(m.started).Seconds(),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        now,
	}
	if snap.SessionActive {
		snap.SessionAgeSec = now.Sub(sessionStart).Seconds()
	}
	return snap
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
