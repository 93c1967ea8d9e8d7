// Package storage provides the durable and session-scoped key-value
// collaborators used by the PIN manager and the credential vault.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"vault-core/pkg/db"
)

// Durable keys.
const (
	KeyEncryptedPin  = "encryptedPin"
	KeyAccounts      = "accounts"
	KeyPinCreated    = "pinCreated"
	KeyTradingConfig = "tradingConfig"
)

// Session keys.
const (
	SessionKeyPin     = "pin"
	SessionKeyStarted = "started"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Durable persists JSON values across restarts.
type Durable interface {
	// Get decodes the value stored under key into dest.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// SQLiteStore implements Durable on the kv_store table.
type SQLiteStore struct {
	db *db.Database
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(database *db.Database) *SQLiteStore {
	return &SQLiteStore{db: database}
}

func (s *SQLiteStore) Get(ctx context.Context, key string, dest any) error {
	raw, err := s.db.GetValue(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.PutValue(ctx, key, raw)
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.db.DeleteValue(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// MemoryStore is a Durable backed by a map; values still round-trip
// through JSON so callers see the same encoding as SQLiteStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string, dest any) error {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

// Raw returns the stored JSON for key. Used by tests asserting what
// actually reached durable storage.
func (m *MemoryStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[key]
	return append([]byte(nil), raw...), ok
}

// Session is volatile storage cleared when the session ends or the
// process exits. Values are kept as-is, never serialized.
type Session struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewSession() *Session {
	return &Session{data: make(map[string]any)}
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// GetString returns the value for key when it is a string.
func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Clear drops every session value.
func (s *Session) Clear() {
	s.mu.Lock()
	s.data = make(map[string]any)
	s.mu.Unlock()
}
