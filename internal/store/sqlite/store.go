// Package sqlite implements domain.Store on an embedded SQLite database
// (modernc.org/sqlite, pure Go). Decimals are stored as TEXT so no precision
// is lost; timestamps use a fixed-width UTC layout so they sort as text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS markets (
    id            TEXT PRIMARY KEY,
    description   TEXT    NOT NULL,
    deadline      TEXT    NOT NULL,
    creator       TEXT    NOT NULL,
    oracle_source TEXT    NOT NULL,
    starting_odds INTEGER NOT NULL,
    category      TEXT    NOT NULL,
    vault         TEXT    NOT NULL,
    yes_supply    TEXT    NOT NULL DEFAULT '0',
    no_supply     TEXT    NOT NULL DEFAULT '0',
    total_volume  TEXT    NOT NULL DEFAULT '0',
    creator_fees  TEXT    NOT NULL DEFAULT '0',
    resolved      INTEGER NOT NULL DEFAULT 0,
    outcome       INTEGER,
    resolved_at   TEXT,
    created_at    TEXT    NOT NULL,
    updated_at    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    market_id      TEXT    NOT NULL REFERENCES markets(id),
    user_id        TEXT    NOT NULL,
    yes_tokens     TEXT    NOT NULL DEFAULT '0',
    no_tokens      TEXT    NOT NULL DEFAULT '0',
    total_invested TEXT    NOT NULL DEFAULT '0',
    claimed        INTEGER NOT NULL DEFAULT 0,
    payout         TEXT,
    claimed_at     TEXT,
    created_at     TEXT    NOT NULL,
    updated_at     TEXT    NOT NULL,
    PRIMARY KEY (market_id, user_id)
);

CREATE TABLE IF NOT EXISTS trades (
    id              TEXT PRIMARY KEY,
    market_id       TEXT NOT NULL REFERENCES markets(id),
    user_id         TEXT NOT NULL,
    side            TEXT NOT NULL,
    input_amount    TEXT NOT NULL,
    tokens_received TEXT NOT NULL,
    price           TEXT NOT NULL,
    fee_amount      TEXT NOT NULL,
    net_to_vault    TEXT NOT NULL,
    execution_ref   TEXT NOT NULL DEFAULT '',
    ts              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    detail     TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_created ON markets(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_positions_user  ON positions(user_id);
CREATE INDEX IF NOT EXISTS idx_trades_market   ON trades(market_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_trades_user     ON trades(user_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_created   ON audit_log(created_at DESC);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements domain.Store on SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
	now  func() time.Time
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, q: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// RunInTx runs fn inside a database transaction. Nested calls join the
// outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, inTx: true, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

const marketCols = `id, description, deadline, creator, oracle_source, starting_odds,
	category, vault, yes_supply, no_supply, total_volume, creator_fees,
	resolved, outcome, resolved_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(row scanner) (domain.Market, error) {
	var (
		m                          domain.Market
		deadline, created, updated string
		resolved                   int
		outcome                    sql.NullBool
		resolvedAt                 sql.NullString
	)
	if err := row.Scan(
		&m.ID, &m.Description, &deadline, &m.Creator, &m.OracleSource, &m.StartingOdds,
		&m.Category, &m.Vault, &m.YesSupply, &m.NoSupply, &m.TotalVolume, &m.CreatorFees,
		&resolved, &outcome, &resolvedAt, &created, &updated,
	); err != nil {
		return domain.Market{}, err
	}
	var err error
	if m.Deadline, err = parseTime(deadline); err != nil {
		return domain.Market{}, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return domain.Market{}, err
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Market{}, err
	}
	m.Resolved = resolved != 0
	if outcome.Valid {
		o := outcome.Bool
		m.Outcome = &o
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return domain.Market{}, err
		}
		m.ResolvedAt = &t
	}
	return m, nil
}

// CreateMarket inserts a new market.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO markets (`+marketCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.Description, fmtTime(m.Deadline), m.Creator, m.OracleSource, m.StartingOdds,
		m.Category, m.Vault, m.YesSupply, m.NoSupply, m.TotalVolume, m.CreatorFees,
		boolInt(m.Resolved), nullBool(m.Outcome), nullTime(m.ResolvedAt),
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create market %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetMarket returns a market by id.
func (s *Store) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("sqlite: get market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("sqlite: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns matching markets, newest first.
func (s *Store) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	var args []any
	switch f.Status {
	case domain.MarketStatusOpen:
		query += " AND resolved = 0"
	case domain.MarketStatusResolved:
		query += " AND resolved = 1"
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Creator != "" {
		query += " AND creator = ?"
		args = append(args, f.Creator)
	}
	query, args = appendRange(query, args, "created_at", f.ListOpts)
	query += " ORDER BY created_at DESC, id ASC"
	query, args = appendPage(query, args, f.ListOpts)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMarket merges d into the stored market.
func (s *Store) UpdateMarket(ctx context.Context, id string, d domain.MarketDelta) (domain.Market, error) {
	var out domain.Market
	err := s.RunInTx(ctx, func(tx domain.Store) error {
		txs := tx.(*Store)
		m, err := txs.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Check(m); err != nil {
			return fmt.Errorf("sqlite: update market %s: %w", id, err)
		}
		m = d.Apply(m)
		m.UpdatedAt = s.now()
		_, err = txs.q.ExecContext(ctx, `
			UPDATE markets SET yes_supply = ?, no_supply = ?, total_volume = ?, creator_fees = ?,
				resolved = ?, outcome = ?, resolved_at = ?, updated_at = ?
			WHERE id = ?`,
			m.YesSupply, m.NoSupply, m.TotalVolume, m.CreatorFees,
			boolInt(m.Resolved), nullBool(m.Outcome), nullTime(m.ResolvedAt), fmtTime(m.UpdatedAt),
			id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: update market %s: %w", id, err)
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}
	return out, nil
}

const positionCols = `market_id, user_id, yes_tokens, no_tokens, total_invested,
	claimed, payout, claimed_at, created_at, updated_at`

func scanPosition(row scanner) (domain.Position, error) {
	var (
		p                domain.Position
		claimed          int
		payout           decimal.NullDecimal
		claimedAt        sql.NullString
		created, updated string
	)
	if err := row.Scan(
		&p.MarketID, &p.User, &p.YesTokens, &p.NoTokens, &p.TotalInvested,
		&claimed, &payout, &claimedAt, &created, &updated,
	); err != nil {
		return domain.Position{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return domain.Position{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Position{}, err
	}
	p.Claimed = claimed != 0
	if payout.Valid {
		v := payout.Decimal
		p.Payout = &v
	}
	if claimedAt.Valid {
		t, err := parseTime(claimedAt.String)
		if err != nil {
			return domain.Position{}, err
		}
		p.ClaimedAt = &t
	}
	return p, nil
}

// UpsertPosition creates the position or adds d to it.
func (s *Store) UpsertPosition(ctx context.Context, marketID, user string, d domain.PositionDelta) (domain.Position, error) {
	if err := d.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: upsert position %s: %w", marketID, err)
	}
	var out domain.Position
	err := s.RunInTx(ctx, func(tx domain.Store) error {
		txs := tx.(*Store)
		if _, err := txs.GetMarket(ctx, marketID); err != nil {
			return fmt.Errorf("sqlite: upsert position: %w", err)
		}
		now := s.now()
		p, err := txs.GetPosition(ctx, marketID, user)
		switch {
		case errors.Is(err, domain.ErrNoPosition):
			p = d.Apply(domain.Position{
				MarketID:      marketID,
				User:          user,
				YesTokens:     decimal.Zero,
				NoTokens:      decimal.Zero,
				TotalInvested: decimal.Zero,
				CreatedAt:     now,
			})
			p.UpdatedAt = now
			_, err = txs.q.ExecContext(ctx, `
				INSERT INTO positions (`+positionCols+`)
				VALUES (?, ?, ?, ?, ?, 0, NULL, NULL, ?, ?)`,
				marketID, user, p.YesTokens, p.NoTokens, p.TotalInvested, fmtTime(now), fmtTime(now),
			)
		case err != nil:
			return err
		default:
			p = d.Apply(p)
			p.UpdatedAt = now
			_, err = txs.q.ExecContext(ctx, `
				UPDATE positions SET yes_tokens = ?, no_tokens = ?, total_invested = ?, updated_at = ?
				WHERE market_id = ? AND user_id = ?`,
				p.YesTokens, p.NoTokens, p.TotalInvested, fmtTime(now), marketID, user,
			)
		}
		if err != nil {
			return fmt.Errorf("sqlite: upsert position %s/%s: %w", marketID, user, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

// GetPosition returns one position.
func (s *Store) GetPosition(ctx context.Context, marketID, user string) (domain.Position, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = ? AND user_id = ?`, marketID, user)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("sqlite: get position %s/%s: %w", marketID, user, domain.ErrNoPosition)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %s/%s: %w", marketID, user, err)
	}
	return p, nil
}

func (s *Store) listPositions(ctx context.Context, where string, arg string) ([]domain.Position, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE `+where+` = ?
		 ORDER BY updated_at DESC, market_id ASC, user_id ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPositions returns every position of user.
func (s *Store) GetPositions(ctx context.Context, user string) ([]domain.Position, error) {
	return s.listPositions(ctx, "user_id", user)
}

// ListPositionsByMarket returns every position in a market.
func (s *Store) ListPositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	return s.listPositions(ctx, "market_id", marketID)
}

// MarkClaimed records a claim exactly once.
func (s *Store) MarkClaimed(ctx context.Context, marketID, user string, payout decimal.Decimal, at time.Time) (domain.Position, error) {
	var out domain.Position
	err := s.RunInTx(ctx, func(tx domain.Store) error {
		txs := tx.(*Store)
		p, err := txs.GetPosition(ctx, marketID, user)
		if err != nil {
			return fmt.Errorf("sqlite: mark claimed: %w", err)
		}
		if p.Claimed {
			return fmt.Errorf("sqlite: mark claimed %s/%s: %w", marketID, user, domain.ErrAlreadyClaimed)
		}
		_, err = txs.q.ExecContext(ctx, `
			UPDATE positions SET claimed = 1, payout = ?, claimed_at = ?, updated_at = ?
			WHERE market_id = ? AND user_id = ? AND claimed = 0`,
			payout, fmtTime(at), fmtTime(at), marketID, user,
		)
		if err != nil {
			return fmt.Errorf("sqlite: mark claimed %s/%s: %w", marketID, user, err)
		}
		p.Claimed = true
		p.Payout = &payout
		t := at.UTC()
		p.ClaimedAt = &t
		p.UpdatedAt = t
		out = p
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

const tradeCols = `id, market_id, user_id, side, input_amount, tokens_received,
	price, fee_amount, net_to_vault, execution_ref, ts`

func scanTrade(row scanner) (domain.Trade, error) {
	var (
		t    domain.Trade
		side string
		ts   string
	)
	if err := row.Scan(
		&t.ID, &t.MarketID, &t.User, &side, &t.InputAmount, &t.TokensReceived,
		&t.Price, &t.FeeAmount, &t.NetToVault, &t.ExecutionRef, &ts,
	); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	var err error
	t.Timestamp, err = parseTime(ts)
	return t, err
}

// AppendTrade inserts a trade. Trade ids are unique.
func (s *Store) AppendTrade(ctx context.Context, t domain.Trade) error {
	return s.RunInTx(ctx, func(tx domain.Store) error {
		txs := tx.(*Store)
		if _, err := txs.GetMarket(ctx, t.MarketID); err != nil {
			return fmt.Errorf("sqlite: append trade %s: %w", t.ID, err)
		}
		res, err := txs.q.ExecContext(ctx, `
			INSERT INTO trades (`+tradeCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			t.ID, t.MarketID, t.User, string(t.Side), t.InputAmount, t.TokensReceived,
			t.Price, t.FeeAmount, t.NetToVault, t.ExecutionRef, fmtTime(t.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("sqlite: append trade %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: append trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return nil
	})
}

// GetTrades returns trades by market or user, newest first.
func (s *Store) GetTrades(ctx context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE 1=1`
	var args []any
	if f.MarketID != "" {
		query += " AND market_id = ?"
		args = append(args, f.MarketID)
	}
	if f.User != "" {
		query += " AND user_id = ?"
		args = append(args, f.User)
	}
	query, args = appendRange(query, args, "ts", f.ListOpts)
	query += " ORDER BY ts DESC, rowid DESC"
	query, args = appendPage(query, args, f.ListOpts)
	return s.queryTrades(ctx, query, args...)
}

// ListTradesBefore returns trades older than before, oldest first.
func (s *Store) ListTradesBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE ts < ? ORDER BY ts ASC, rowid ASC`, fmtTime(before))
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Log appends an audit entry; detail is stored as JSON.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), fmtTime(s.now()),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	query, args = appendRange(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC, id DESC"
	query, args = appendPage(query, args, opts)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  string
			created string
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal audit detail %d: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: parse audit time %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats summarises the database. Volumes are summed as decimals in Go since
// SQLite would sum TEXT columns as floating point.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	st := domain.Stats{TotalVolume: decimal.Zero}

	rows, err := s.q.QueryContext(ctx, `SELECT resolved, total_volume FROM markets`)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("sqlite: stats markets: %w", err)
	}
	for rows.Next() {
		var (
			resolved int
			vol      decimal.Decimal
		)
		if err := rows.Scan(&resolved, &vol); err != nil {
			rows.Close()
			return domain.Stats{}, fmt.Errorf("sqlite: stats scan: %w", err)
		}
		st.TotalMarkets++
		if resolved != 0 {
			st.ResolvedMarkets++
		} else {
			st.OpenMarkets++
		}
		st.TotalVolume = st.TotalVolume.Add(vol)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Stats{}, fmt.Errorf("sqlite: stats markets: %w", err)
	}

	err = s.q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM trades),
		        (SELECT COUNT(DISTINCT user_id) FROM trades),
		        (SELECT COUNT(*) FROM positions)`,
	).Scan(&st.TotalTrades, &st.UniqueTraders, &st.TotalPositions)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("sqlite: stats counts: %w", err)
	}
	return st, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database. Closing a transactional view is a no-op.
func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

func appendRange(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += " AND " + col + " >= ?"
		args = append(args, fmtTime(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND " + col + " <= ?"
		args = append(args, fmtTime(*opts.Until))
	}
	return query, args
}

func appendPage(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return query, args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

var _ domain.Store = (*Store)(nil)
