// Package gateway builds, validates and caches exchange clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vault-core/pkg/exchanges/common"
)

var (
	ErrClientUnhealthy = errors.New("exchange client is unhealthy")
	ErrPoolFull        = errors.New("client pool is full")
)

// CachedClient holds a client with metadata for lifecycle management.
type CachedClient struct {
	Client    common.Client
	AccountID string
	Exchange  common.ExchangeID
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config holds configuration for the Registry.
type Config struct {
	MaxSize          int           // Maximum number of cached clients (LRU eviction)
	IdleTimeout      time.Duration // Time before an idle client is dropped
	FailureThreshold int           // Consecutive failures before the circuit opens
	CircuitTimeout   time.Duration // Time to wait before retrying an unhealthy client
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          32,
		IdleTimeout:      30 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   2 * time.Minute,
	}
}

// Registry caches live clients per account for the current session. It
// holds the only in-memory reference to decrypted credentials outside
// the vault and is cleared when the session ends.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*CachedClient // accountID -> cached client
	lruOrder []string                 // oldest first

	config  Config
	factory Factory
	logger  *zap.Logger
	onSize  func(int)

	stopCh chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry.
func NewRegistry(factory Factory, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clients: make(map[string]*CachedClient),
		config:  cfg,
		factory: factory,
		logger:  logger.Named("registry"),
		stopCh:  make(chan struct{}),
	}
}

// OnSizeChange registers fn to observe the pool size (metrics).
func (r *Registry) OnSizeChange(fn func(int)) {
	r.mu.Lock()
	r.onSize = fn
	r.mu.Unlock()
}

// Start begins background idle cleanup.
func (r *Registry) Start(ctx context.Context) {
	interval := r.config.IdleTimeout / 2
	if interval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.cleanupIdle()
			}
		}
	}()
}

// Stop shuts down background work and drops every client.
func (r *Registry) Stop() {
	r.stop.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.Clear()
}

// Client returns the cached client for accountID or builds one.
func (r *Registry) Client(_ context.Context, accountID string, id common.ExchangeID, creds common.Credentials) (common.Client, error) {
	r.mu.RLock()
	if cached, ok := r.clients[accountID]; ok && cached.Exchange == id {
		if cached.Failures >= r.config.FailureThreshold && time.Since(cached.HealthyAt) < r.config.CircuitTimeout {
			r.mu.RUnlock()
			return nil, ErrClientUnhealthy
		}
		r.mu.RUnlock()
		r.touchLRU(accountID)
		return cached.Client, nil
	}
	r.mu.RUnlock()

	return r.create(accountID, id, creds)
}

func (r *Registry) create(accountID string, id common.ExchangeID, creds common.Credentials) (common.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring lock
	if cached, ok := r.clients[accountID]; ok && cached.Exchange == id {
		r.touchLRULocked(accountID)
		return cached.Client, nil
	}
	if _, ok := r.clients[accountID]; !ok && len(r.clients) >= r.config.MaxSize {
		if !r.evictOldestLocked() {
			return nil, ErrPoolFull
		}
	}

	client, err := r.factory(id, creds)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	now := time.Now()
	if _, exists := r.clients[accountID]; exists {
		r.removeLRULocked(accountID)
	}
	r.clients[accountID] = &CachedClient{
		Client:    client,
		AccountID: accountID,
		Exchange:  id,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	r.lruOrder = append(r.lruOrder, accountID)
	r.notifyLocked()
	r.logger.Debug("client created", zap.String("account_id", accountID), zap.String("exchange", string(id)))
	return client, nil
}

// Remove drops the client for accountID.
func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[accountID]; ok {
		delete(r.clients, accountID)
		r.removeLRULocked(accountID)
		r.notifyLocked()
	}
}

// Clear drops every cached client.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]*CachedClient)
	r.lruOrder = nil
	r.notifyLocked()
}

// RecordFailure records a failure for a client.
func (r *Registry) RecordFailure(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.clients[accountID]; ok {
		cached.Failures++
	}
}

// RecordSuccess resets the failure counter.
func (r *Registry) RecordSuccess(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.clients[accountID]; ok {
		cached.Failures = 0
		cached.HealthyAt = time.Now()
	}
}

// Stats returns current pool statistics.
func (r *Registry) Stats() PoolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := PoolStats{
		TotalClients: len(r.clients),
		MaxSize:      r.config.MaxSize,
		ByExchange:   make(map[string]int),
	}
	for _, cached := range r.clients {
		stats.ByExchange[string(cached.Exchange)]++
		if cached.Failures >= r.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

// PoolStats contains client pool statistics.
type PoolStats struct {
	TotalClients   int            `json:"total_clients"`
	MaxSize        int            `json:"max_size"`
	ByExchange     map[string]int `json:"by_exchange"`
	UnhealthyCount int            `json:"unhealthy_count"`
}

// --- Internal helpers ---

func (r *Registry) notifyLocked() {
	if r.onSize != nil {
		r.onSize(len(r.clients))
	}
}

func (r *Registry) touchLRU(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLRULocked(accountID)
}

func (r *Registry) touchLRULocked(accountID string) {
	if cached, ok := r.clients[accountID]; ok {
		cached.LastUsed = time.Now()
	}
	for i, id := range r.lruOrder {
		if id == accountID {
			r.lruOrder = append(r.lruOrder[:i], r.lruOrder[i+1:]...)
			r.lruOrder = append(r.lruOrder, accountID)
			break
		}
	}
}

func (r *Registry) removeLRULocked(accountID string) {
	for i, id := range r.lruOrder {
		if id == accountID {
			r.lruOrder = append(r.lruOrder[:i], r.lruOrder[i+1:]...)
			break
		}
	}
}

func (r *Registry) evictOldestLocked() bool {
	if len(r.lruOrder) == 0 {
		return false
	}
	oldestID := r.lruOrder[0]
	delete(r.clients, oldestID)
	r.lruOrder = r.lruOrder[1:]
	return true
}

func (r *Registry) cleanupIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, cached := range r.clients {
		if now.Sub(cached.LastUsed) > r.config.IdleTimeout {
			delete(r.clients, id)
			r.removeLRULocked(id)
			removed++
		}
	}
	if removed > 0 {
		r.notifyLocked()
		r.logger.Debug("idle clients dropped", zap.Int("count", removed))
	}
}
