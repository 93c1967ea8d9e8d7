package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database.DB, "order_journal", "latency_ms")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyValue(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.GetValue(ctx, "pinCreated")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, database.PutValue(ctx, "pinCreated", []byte("true")))
	require.NoError(t, database.PutValue(ctx, "accounts", []byte("[]")))
	require.NoError(t, database.PutValue(ctx, "pinCreated", []byte("false")))

	v, err := database.GetValue(ctx, "pinCreated")
	require.NoError(t, err)
	assert.Equal(t, "false", string(v))

	keys, err := database.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "pinCreated"}, keys)

	require.NoError(t, database.DeleteValue(ctx, "pinCreated"))
	require.NoError(t, database.DeleteValue(ctx, "missing"))
	_, err = database.GetValue(ctx, "pinCreated")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.InsertJournalEntries(ctx, nil))
	require.NoError(t, database.InsertJournalEntries(ctx, []JournalEntry{
		{TradeID: "t1", AccountID: "a1", ExchangeID: "binance", Symbol: "BTC/USDT:USDT", Role: "entry",
			Side: "buy", OrderType: "market", Amount: "0.01", ExchangeOrderID: "42", Status: "placed"},
		{TradeID: "t1", AccountID: "a1", ExchangeID: "binance", Symbol: "BTC/USDT:USDT", Role: "stop_loss",
			Side: "sell", OrderType: "STOP_MARKET", Amount: "0.01", Status: "failed", Error: "rejected"},
		{TradeID: "t2", AccountID: "a2", ExchangeID: "bybit", Symbol: "BTC/USD:BTC", Role: "entry",
			Side: "sell", OrderType: "market", Amount: "1", Status: "placed"},
	}))

	all, err := database.ListJournal(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t2", all[0].TradeID)

	a1, err := database.ListJournal(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, a1, 2)
	assert.Equal(t, "stop_loss", a1[0].Role)
	assert.Equal(t, "rejected", a1[0].Error)
	assert.Equal(t, "", a1[0].ExchangeOrderID)
	assert.Equal(t, "42", a1[1].ExchangeOrderID)
}
