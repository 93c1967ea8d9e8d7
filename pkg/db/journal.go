package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JournalEntry is one submitted order outcome. It never carries credentials.
type JournalEntry struct {
	ID              int64     `json:"id"`
	TradeID         string    `json:"tradeId"`
	AccountID       string    `json:"accountId"`
	ExchangeID      string    `json:"exchangeId"`
	Symbol          string    `json:"symbol"`
	Role            string    `json:"role"`
	Side            string    `json:"side"`
	OrderType       string    `json:"orderType"`
	Amount          string    `json:"amount"`
	Price           string    `json:"price,omitempty"`
	ExchangeOrderID string    `json:"exchangeOrderId,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	LatencyMs       int64     `json:"latencyMs"`
	CreatedAt       time.Time `json:"createdAt"`
}

// InsertJournalEntries writes a whole batch in one transaction.
func (d *Database) InsertJournalEntries(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_journal
			(trade_id, account_id, exchange_id, symbol, role, side, order_type, amount, price,
			 exchange_order_id, status, error, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.TradeID, e.AccountID, e.ExchangeID, e.Symbol, e.Role, e.Side, e.OrderType, e.Amount,
			nullString(e.Price), nullString(e.ExchangeOrderID), e.Status, nullString(e.Error), e.LatencyMs,
		); err != nil {
			return fmt.Errorf("insert journal entry: %w", err)
		}
	}
	return tx.Commit()
}

// ListJournal returns the most recent entries, newest first. An empty
// accountID lists all accounts.
func (d *Database) ListJournal(ctx context.Context, accountID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, trade_id, account_id, exchange_id, symbol, role, side, order_type, amount,
		       COALESCE(price, ''), COALESCE(exchange_order_id, ''), status, COALESCE(error, ''),
		       COALESCE(latency_ms, 0), created_at
		FROM order_journal`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.TradeID, &e.AccountID, &e.ExchangeID, &e.Symbol, &e.Role, &e.Side,
			&e.OrderType, &e.Amount, &e.Price, &e.ExchangeOrderID, &e.Status, &e.Error, &e.LatencyMs,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
