package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/klio/internal/domain"
)

const tradeSelectCols = `id, market_id, user_id, side, input_amount, tokens_received,
	price, fee_amount, net_to_vault, execution_ref, ts`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.User, &t.Side, &t.InputAmount, &t.TokensReceived,
			&t.Price, &t.FeeAmount, &t.NetToVault, &t.ExecutionRef, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Timestamp = utc(t.Timestamp)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// AppendTrade inserts one trade. Trade ids are unique and the market must exist.
func (s *Store) AppendTrade(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (` + tradeSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		t.ID, t.MarketID, t.User, string(t.Side), t.InputAmount, t.TokensReceived,
		t.Price, t.FeeAmount, t.NetToVault, t.ExecutionRef, t.Timestamp,
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("postgres: append trade %s: market %w", t.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: append trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetTrades returns trades by market and/or user, newest first.
func (s *Store) GetTrades(ctx context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	b := queryBuilder{sql: `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`}
	if f.MarketID != "" {
		b.where("market_id = $%d", f.MarketID)
	}
	if f.User != "" {
		b.where("user_id = $%d", f.User)
	}
	b.timeRange("ts", f.ListOpts)
	b.sql += " ORDER BY ts DESC, seq DESC"
	b.page(f.ListOpts)

	rows, err := s.db.Query(ctx, b.sql, b.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListTradesBefore returns trades older than before, oldest first.
func (s *Store) ListTradesBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts < $1 ORDER BY ts ASC, seq ASC`
	rows, err := s.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}
