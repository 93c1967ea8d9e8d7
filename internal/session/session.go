// Package session scopes the plaintext PIN to an explicit, expiring session.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vault-core/internal/events"
	"vault-core/internal/storage"
)

// ErrNotUnlocked is returned when an operation needs a validated PIN and none is held.
var ErrNotUnlocked = errors.New("vault is locked")

// Info describes the live session. It never includes the PIN.
type Info struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Manager owns the session-scoped storage. Start stores the PIN, End wipes
// it and notifies listeners so derived plaintext state is dropped too.
type Manager struct {
	store  *storage.Session
	ttl    time.Duration
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	info      *Info
	listeners []func(Info)
}

// NewManager creates a session manager. ttl <= 0 means sessions never expire.
func NewManager(store *storage.Session, ttl time.Duration, bus *events.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		bus:    bus,
		logger: logger.Named("session"),
		now:    time.Now,
	}
}

// OnEnd registers fn to run after every session end, including expiry.
func (m *Manager) OnEnd(fn func(Info)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start begins a new session holding pin, replacing any live one.
func (m *Manager) Start(pin string) Info {
	m.End()

	now := m.now()
	info := Info{ID: uuid.NewString(), StartedAt: now}
	if m.ttl > 0 {
		info.ExpiresAt = now.Add(m.ttl)
	}

	m.mu.Lock()
	m.store.Set(storage.SessionKeyPin, pin)
	m.store.Set(storage.SessionKeyStarted, true)
	m.info = &info
	m.mu.Unlock()

	m.logger.Info("session started", zap.String("session_id", info.ID), zap.Time("expires_at", info.ExpiresAt))
	m.bus.Publish(events.EventSessionStarted, info)
	return info
}

// End clears the session. It is a no-op when no session is live.
func (m *Manager) End() {
	m.mu.Lock()
	info := m.info
	m.info = nil
	m.store.Clear()
	listeners := append([]func(Info){}, m.listeners...)
	m.mu.Unlock()

	if info == nil {
		return
	}
	for _, fn := range listeners {
		fn(*info)
	}
	m.logger.Info("session ended", zap.String("session_id", info.ID))
	m.bus.Publish(events.EventSessionEnded, *info)
}

// PIN returns the session PIN, or ErrNotUnlocked when absent or expired.
func (m *Manager) PIN() (string, error) {
	if _, ok := m.Current(); !ok {
		return "", ErrNotUnlocked
	}
	pin, ok := m.store.GetString(storage.SessionKeyPin)
	if !ok || pin == "" {
		return "", ErrNotUnlocked
	}
	return pin, nil
}

// Current returns the live session, ending it first if it has expired.
func (m *Manager) Current() (Info, bool) {
	m.mu.RLock()
	info := m.info
	m.mu.RUnlock()

	if info == nil {
		return Info{}, false
	}
	if !info.ExpiresAt.IsZero() && !m.now().Before(info.ExpiresAt) {
		m.logger.Info("session expired", zap.String("session_id", info.ID))
		m.End()
		return Info{}, false
	}
	return *info, true
}

// IsCurrent reports whether id names the live session.
func (m *Manager) IsCurrent(id string) bool {
	info, ok := m.Current()
	return ok && id != "" && info.ID == id
}

// Live reports whether id names the unexpired session on record. Unlike
// IsCurrent it never ends an expired session, so it is safe to call while
// holding a lock that an OnEnd listener takes.
func (m *Manager) Live(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.info == nil || id == "" || m.info.ID != id {
		return false
	}
	return m.info.ExpiresAt.IsZero() || m.now().Before(m.info.ExpiresAt)
}

// Store exposes the session storage to the messaging channel.
func (m *Manager) Store() *storage.Session {
	return m.store
}
