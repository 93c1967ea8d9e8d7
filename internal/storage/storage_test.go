package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-core/pkg/db"
)

type tradingConfig struct {
	Risk      float64 `json:"risk"`
	RiskRatio float64 `json:"riskRatio"`
}

func durables(t *testing.T) map[string]Durable {
	t.Helper()
	database, err := db.New(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	return map[string]Durable{
		"sqlite": NewSQLiteStore(database),
		"memory": NewMemoryStore(),
	}
}

func TestDurableRoundTrip(t *testing.T) {
	for name, store := range durables(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var created bool
			assert.ErrorIs(t, store.Get(ctx, KeyPinCreated, &created), ErrNotFound)

			require.NoError(t, store.Set(ctx, KeyPinCreated, true))
			require.NoError(t, store.Set(ctx, KeyTradingConfig, tradingConfig{Risk: 1.5, RiskRatio: 3}))

			require.NoError(t, store.Get(ctx, KeyPinCreated, &created))
			assert.True(t, created)

			var tc tradingConfig
			require.NoError(t, store.Get(ctx, KeyTradingConfig, &tc))
			assert.Equal(t, tradingConfig{Risk: 1.5, RiskRatio: 3}, tc)

			require.NoError(t, store.Delete(ctx, KeyPinCreated, KeyTradingConfig))
			assert.ErrorIs(t, store.Get(ctx, KeyPinCreated, &created), ErrNotFound)
			assert.ErrorIs(t, store.Get(ctx, KeyTradingConfig, &tc), ErrNotFound)
		})
	}
}

func TestSession(t *testing.T) {
	s := NewSession()
	_, ok := s.GetString(SessionKeyPin)
	assert.False(t, ok)

	s.Set(SessionKeyPin, "1234")
	s.Set(SessionKeyStarted, true)

	pin, ok := s.GetString(SessionKeyPin)
	assert.True(t, ok)
	assert.Equal(t, "1234", pin)

	_, ok = s.GetString(SessionKeyStarted)
	assert.False(t, ok, "non-string value must not be returned as string")

	s.Delete(SessionKeyPin)
	_, ok = s.Get(SessionKeyPin)
	assert.False(t, ok)

	s.Clear()
	_, ok = s.Get(SessionKeyStarted)
	assert.False(t, ok)
}
