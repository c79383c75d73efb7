package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/klio/internal/domain"
)

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store using PostgreSQL. A Store returned by
// RunInTx is bound to a single transaction.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// RunInTx runs fn inside a transaction. Nested calls join the outer one.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Stats summarises the database in one round trip.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM markets),
			(SELECT COUNT(*) FROM markets WHERE NOT resolved),
			(SELECT COUNT(*) FROM markets WHERE resolved),
			(SELECT COALESCE(SUM(total_volume), 0) FROM markets),
			(SELECT COUNT(*) FROM trades),
			(SELECT COUNT(DISTINCT user_id) FROM trades),
			(SELECT COUNT(*) FROM positions)`
	var st domain.Stats
	if err := s.db.QueryRow(ctx, query).Scan(
		&st.TotalMarkets, &st.OpenMarkets, &st.ResolvedMarkets, &st.TotalVolume,
		&st.TotalTrades, &st.UniqueTraders, &st.TotalPositions,
	); err != nil {
		return domain.Stats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	return st, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by Client.
func (s *Store) Close() error {
	return nil
}

// queryBuilder accumulates WHERE clauses and positional args.
type queryBuilder struct {
	sql  string
	args []any
}

func (b *queryBuilder) where(clause string, arg any) {
	b.args = append(b.args, arg)
	b.sql += fmt.Sprintf(" AND "+clause, len(b.args))
}

func (b *queryBuilder) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		b.where(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		b.where(col+" <= $%d", *opts.Until)
	}
}

func (b *queryBuilder) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		b.args = append(b.args, opts.Limit)
		b.sql += fmt.Sprintf(" LIMIT $%d", len(b.args))
	}
	if opts.Offset > 0 {
		b.args = append(b.args, opts.Offset)
		b.sql += fmt.Sprintf(" OFFSET $%d", len(b.args))
	}
}

// Postgres error codes.
const (
	codeForeignKeyViolation = "23503"
)

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func utc(t time.Time) time.Time { return t.UTC() }

var _ domain.Store = (*Store)(nil)
