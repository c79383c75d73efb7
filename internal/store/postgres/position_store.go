package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/klio/internal/domain"
)

const positionSelectCols = `market_id, user_id, yes_tokens, no_tokens, total_invested,
	claimed, payout, claimed_at, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p      domain.Position
		payout decimal.NullDecimal
	)
	if err := row.Scan(
		&p.MarketID, &p.User, &p.YesTokens, &p.NoTokens, &p.TotalInvested,
		&p.Claimed, &payout, &p.ClaimedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Position{}, err
	}
	if payout.Valid {
		v := payout.Decimal
		p.Payout = &v
	}
	if p.ClaimedAt != nil {
		t := utc(*p.ClaimedAt)
		p.ClaimedAt = &t
	}
	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
	return p, nil
}

// UpsertPosition creates the position or adds d to the stored amounts.
func (s *Store) UpsertPosition(ctx context.Context, marketID, user string, d domain.PositionDelta) (domain.Position, error) {
	if err := d.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: upsert position %s/%s: %w", marketID, user, err)
	}
	const query = `
		INSERT INTO positions (market_id, user_id, yes_tokens, no_tokens, total_invested)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, user_id) DO UPDATE SET
			yes_tokens     = positions.yes_tokens + EXCLUDED.yes_tokens,
			no_tokens      = positions.no_tokens + EXCLUDED.no_tokens,
			total_invested = positions.total_invested + EXCLUDED.total_invested,
			updated_at     = NOW()
		RETURNING ` + positionSelectCols

	p, err := scanPosition(s.db.QueryRow(ctx, query,
		marketID, user, d.YesTokens, d.NoTokens, d.TotalInvested,
	))
	if isForeignKeyViolation(err) {
		return domain.Position{}, fmt.Errorf("postgres: upsert position %s/%s: market %w", marketID, user, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: upsert position %s/%s: %w", marketID, user, err)
	}
	return p, nil
}

// GetPosition returns one position or ErrNoPosition.
func (s *Store) GetPosition(ctx context.Context, marketID, user string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE market_id = $1 AND user_id = $2`
	p, err := scanPosition(s.db.QueryRow(ctx, query, marketID, user))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, user, domain.ErrNoPosition)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, user, err)
	}
	return p, nil
}

// GetPositions returns every position held by user, most recently updated first.
func (s *Store) GetPositions(ctx context.Context, user string) ([]domain.Position, error) {
	return s.listPositions(ctx, "user_id", user)
}

// ListPositionsByMarket returns every position in a market.
func (s *Store) ListPositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	return s.listPositions(ctx, "market_id", marketID)
}

func (s *Store) listPositions(ctx context.Context, col, val string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ` + col + ` = $1
		ORDER BY updated_at DESC, market_id ASC, user_id ASC`
	rows, err := s.db.Query(ctx, query, val)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by %s: %w", col, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// MarkClaimed flips the claimed flag once. The NOT claimed guard makes a
// second concurrent claim fail with ErrAlreadyClaimed.
func (s *Store) MarkClaimed(ctx context.Context, marketID, user string, payout decimal.Decimal, at time.Time) (domain.Position, error) {
	const query = `
		UPDATE positions SET claimed = TRUE, payout = $3, claimed_at = $4, updated_at = $4
		WHERE market_id = $1 AND user_id = $2 AND NOT claimed
		RETURNING ` + positionSelectCols

	p, err := scanPosition(s.db.QueryRow(ctx, query, marketID, user, payout, at))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetPosition(ctx, marketID, user); getErr != nil {
			return domain.Position{}, fmt.Errorf("postgres: mark claimed: %w", getErr)
		}
		return domain.Position{}, fmt.Errorf("postgres: mark claimed %s/%s: %w", marketID, user, domain.ErrAlreadyClaimed)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: mark claimed %s/%s: %w", marketID, user, err)
	}
	return p, nil
}
