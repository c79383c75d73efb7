package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/klio/internal/domain"
)

const marketSelectCols = `id, description, deadline, creator, oracle_source, starting_odds,
	category, vault, yes_supply, no_supply, total_volume, creator_fees,
	resolved, outcome, resolved_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	if err := row.Scan(
		&m.ID, &m.Description, &m.Deadline, &m.Creator, &m.OracleSource, &m.StartingOdds,
		&m.Category, &m.Vault, &m.YesSupply, &m.NoSupply, &m.TotalVolume, &m.CreatorFees,
		&m.Resolved, &m.Outcome, &m.ResolvedAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.Market{}, err
	}
	m.Deadline = utc(m.Deadline)
	m.CreatedAt = utc(m.CreatedAt)
	m.UpdatedAt = utc(m.UpdatedAt)
	if m.ResolvedAt != nil {
		t := utc(*m.ResolvedAt)
		m.ResolvedAt = &t
	}
	return m, nil
}

// CreateMarket inserts a new market. An existing id yields ErrAlreadyExists.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (` + marketSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			COALESCE($16, NOW()), COALESCE($17, $16, NOW()))
		ON CONFLICT (id) DO NOTHING`

	var created, updated any
	if !m.CreatedAt.IsZero() {
		created = m.CreatedAt
	}
	if !m.UpdatedAt.IsZero() {
		updated = m.UpdatedAt
	}
	tag, err := s.db.Exec(ctx, query,
		m.ID, m.Description, m.Deadline, m.Creator, m.OracleSource, m.StartingOdds,
		m.Category, m.Vault, m.YesSupply, m.NoSupply, m.TotalVolume, m.CreatorFees,
		m.Resolved, m.Outcome, m.ResolvedAt, created, updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetMarket returns a market by id.
func (s *Store) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1`
	m, err := scanMarket(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns matching markets, newest first.
func (s *Store) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	b := queryBuilder{sql: `SELECT ` + marketSelectCols + ` FROM markets WHERE 1=1`}
	switch f.Status {
	case domain.MarketStatusOpen:
		b.sql += " AND NOT resolved"
	case domain.MarketStatusResolved:
		b.sql += " AND resolved"
	}
	if f.Category != "" {
		b.where("category = $%d", f.Category)
	}
	if f.Creator != "" {
		b.where("creator = $%d", f.Creator)
	}
	b.timeRange("created_at", f.ListOpts)
	b.sql += " ORDER BY created_at DESC, id ASC"
	b.page(f.ListOpts)

	rows, err := s.db.Query(ctx, b.sql, b.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// UpdateMarket merges d into the stored row in a single statement. Supply,
// volume and fee fields are incremented server-side so concurrent writers
// never lose an update. Resolved rows are never matched.
func (s *Store) UpdateMarket(ctx context.Context, id string, d domain.MarketDelta) (domain.Market, error) {
	if err := d.Validate(); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: update market %s: %w", id, err)
	}
	const query = `
		UPDATE markets SET
			yes_supply   = yes_supply   + COALESCE($2::numeric, 0),
			no_supply    = no_supply    + COALESCE($3::numeric, 0),
			total_volume = total_volume + COALESCE($4::numeric, 0),
			creator_fees = creator_fees + COALESCE($5::numeric, 0),
			resolved     = COALESCE($6::boolean, resolved),
			outcome      = COALESCE($7::boolean, outcome),
			resolved_at  = COALESCE($8::timestamptz, resolved_at),
			updated_at   = NOW()
		WHERE id = $1 AND NOT resolved
		RETURNING ` + marketSelectCols

	m, err := scanMarket(s.db.QueryRow(ctx, query, id,
		nullDecimal(d.AddYesSupply), nullDecimal(d.AddNoSupply),
		nullDecimal(d.AddVolume), nullDecimal(d.AddCreatorFees),
		d.Resolved, d.Outcome, d.ResolvedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or already resolved.
		if _, gerr := s.GetMarket(ctx, id); gerr != nil {
			return domain.Market{}, gerr
		}
		return domain.Market{}, fmt.Errorf("postgres: update market %s: %w", id, domain.ErrAlreadyResolved)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: update market %s: %w", id, err)
	}
	return m, nil
}
