// Package memory is the in-process reference implementation of domain.Store.
// Transactions run against a private copy of the state that replaces the
// live state only when the transaction function succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/shopspring/decimal"
)

type posKey struct {
	market string
	user   string
}

type state struct {
	markets   map[string]domain.Market
	positions map[posKey]domain.Position
	trades    []domain.Trade
	audit     []domain.AuditEntry
	auditSeq  int64
}

func newState() *state {
	return &state{
		markets:   make(map[string]domain.Market),
		positions: make(map[posKey]domain.Position),
	}
}

// clone copies the maps; slices are capped so appends on the copy reallocate.
func (s *state) clone() *state {
	c := &state{
		markets:   make(map[string]domain.Market, len(s.markets)),
		positions: make(map[posKey]domain.Position, len(s.positions)),
		trades:    s.trades[:len(s.trades):len(s.trades)],
		audit:     s.audit[:len(s.audit):len(s.audit)],
		auditSeq:  s.auditSeq,
	}
	for k, v := range s.markets {
		c.markets[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	return c
}

// Store implements domain.Store in memory.
type Store struct {
	mu   sync.RWMutex
	st   *state
	inTx bool
	now  func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx runs fn against a copy of the state and publishes the copy when fn
// returns nil. Transactions are serialized with every other write.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}
	tx := &Store{st: s.st.clone(), inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// CreateMarket stores a new market.
func (s *Store) CreateMarket(_ context.Context, m domain.Market) error {
	defer s.lock()()
	if _, ok := s.st.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	s.st.markets[m.ID] = m
	return nil
}

// GetMarket returns the market with the given id.
func (s *Store) GetMarket(_ context.Context, id string) (domain.Market, error) {
	defer s.rlock()()
	m, ok := s.st.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// ListMarkets returns matching markets, newest first.
func (s *Store) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	defer s.rlock()()
	out := make([]domain.Market, 0, len(s.st.markets))
	for _, m := range s.st.markets {
		if f.Match(m) && f.InRange(m.CreatedAt) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.ListOpts), nil
}

// UpdateMarket merges d into the stored market.
func (s *Store) UpdateMarket(_ context.Context, id string, d domain.MarketDelta) (domain.Market, error) {
	defer s.lock()()
	m, ok := s.st.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: update market %s: %w", id, domain.ErrNotFound)
	}
	if err := d.Check(m); err != nil {
		return domain.Market{}, fmt.Errorf("memory: update market %s: %w", id, err)
	}
	m = d.Apply(m)
	m.UpdatedAt = s.now()
	s.st.markets[id] = m
	return m, nil
}

// UpsertPosition creates the position or adds d to it.
func (s *Store) UpsertPosition(_ context.Context, marketID, user string, d domain.PositionDelta) (domain.Position, error) {
	if err := d.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("memory: upsert position %s: %w", marketID, err)
	}
	defer s.lock()()
	if _, ok := s.st.markets[marketID]; !ok {
		return domain.Position{}, fmt.Errorf("memory: upsert position %s: %w", marketID, domain.ErrNotFound)
	}
	now := s.now()
	k := posKey{marketID, user}
	p, ok := s.st.positions[k]
	if !ok {
		p = domain.Position{
			MarketID:      marketID,
			User:          user,
			YesTokens:     decimal.Zero,
			NoTokens:      decimal.Zero,
			TotalInvested: decimal.Zero,
			CreatedAt:     now,
		}
	}
	p = d.Apply(p)
	p.UpdatedAt = now
	s.st.positions[k] = p
	return p, nil
}

// GetPosition returns the position of user in marketID.
func (s *Store) GetPosition(_ context.Context, marketID, user string) (domain.Position, error) {
	defer s.rlock()()
	p, ok := s.st.positions[posKey{marketID, user}]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: get position %s/%s: %w", marketID, user, domain.ErrNoPosition)
	}
	return p, nil
}

// GetPositions returns every position of user, most recently updated first.
func (s *Store) GetPositions(_ context.Context, user string) ([]domain.Position, error) {
	defer s.rlock()()
	var out []domain.Position
	for k, p := range s.st.positions {
		if k.user == user {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

// ListPositionsByMarket returns every position in marketID.
func (s *Store) ListPositionsByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	defer s.rlock()()
	var out []domain.Position
	for k, p := range s.st.positions {
		if k.market == marketID {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

// MarkClaimed records a claim. It fails when the position is missing or was
// already claimed.
func (s *Store) MarkClaimed(_ context.Context, marketID, user string, payout decimal.Decimal, at time.Time) (domain.Position, error) {
	defer s.lock()()
	k := posKey{marketID, user}
	p, ok := s.st.positions[k]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: mark claimed %s/%s: %w", marketID, user, domain.ErrNoPosition)
	}
	if p.Claimed {
		return domain.Position{}, fmt.Errorf("memory: mark claimed %s/%s: %w", marketID, user, domain.ErrAlreadyClaimed)
	}
	p.Claimed = true
	p.Payout = &payout
	p.ClaimedAt = &at
	p.UpdatedAt = at
	s.st.positions[k] = p
	return p, nil
}

// AppendTrade appends t to the ledger.
func (s *Store) AppendTrade(_ context.Context, t domain.Trade) error {
	defer s.lock()()
	if _, ok := s.st.markets[t.MarketID]; !ok {
		return fmt.Errorf("memory: append trade %s: %w", t.MarketID, domain.ErrNotFound)
	}
	for _, existing := range s.st.trades {
		if existing.ID == t.ID {
			return fmt.Errorf("memory: append trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
	}
	s.st.trades = append(s.st.trades, t)
	return nil
}

// GetTrades returns matching trades, newest first.
func (s *Store) GetTrades(_ context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	defer s.rlock()()
	var out []domain.Trade
	for i := len(s.st.trades) - 1; i >= 0; i-- {
		t := s.st.trades[i]
		if f.Match(t) && f.InRange(t.Timestamp) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return paginate(out, f.ListOpts), nil
}

// ListTradesBefore returns trades strictly older than before, oldest first.
func (s *Store) ListTradesBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	defer s.rlock()()
	var out []domain.Trade
	for _, t := range s.st.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	defer s.lock()()
	s.st.auditSeq++
	s.st.audit = append(s.st.audit, domain.AuditEntry{
		ID:        s.st.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	defer s.rlock()()
	var out []domain.AuditEntry
	for i := len(s.st.audit) - 1; i >= 0; i-- {
		if e := s.st.audit[i]; opts.InRange(e.CreatedAt) {
			out = append(out, e)
		}
	}
	return paginate(out, opts), nil
}

// Stats summarises the store.
func (s *Store) Stats(_ context.Context) (domain.Stats, error) {
	defer s.rlock()()
	st := domain.Stats{
		TotalMarkets:   int64(len(s.st.markets)),
		TotalVolume:    decimal.Zero,
		TotalTrades:    int64(len(s.st.trades)),
		TotalPositions: int64(len(s.st.positions)),
	}
	for _, m := range s.st.markets {
		if m.Resolved {
			st.ResolvedMarkets++
		} else {
			st.OpenMarkets++
		}
		st.TotalVolume = st.TotalVolume.Add(m.TotalVolume)
	}
	traders := make(map[string]struct{})
	for _, t := range s.st.trades {
		traders[t.User] = struct{}{}
	}
	st.UniqueTraders = int64(len(traders))
	return st, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].UpdatedAt.Equal(ps[j].UpdatedAt) {
			return ps[i].UpdatedAt.After(ps[j].UpdatedAt)
		}
		if ps[i].MarketID != ps[j].MarketID {
			return ps[i].MarketID < ps[j].MarketID
		}
		return ps[i].User < ps[j].User
	})
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.Store = (*Store)(nil)
