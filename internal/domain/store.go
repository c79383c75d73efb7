package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// InRange reports whether ts falls inside the inclusive Since/Until window.
func (o ListOpts) InRange(ts time.Time) bool {
	if o.Since != nil && ts.Before(*o.Since) {
		return false
	}
	if o.Until != nil && ts.After(*o.Until) {
		return false
	}
	return true
}

// MarketStore persists markets.
type MarketStore interface {
	CreateMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]Market, error)
	UpdateMarket(ctx context.Context, id string, d MarketDelta) (Market, error)
}

// PositionStore persists per-user positions.
type PositionStore interface {
	UpsertPosition(ctx context.Context, marketID, user string, d PositionDelta) (Position, error)
	GetPosition(ctx context.Context, marketID, user string) (Position, error)
	GetPositions(ctx context.Context, user string) ([]Position, error)
	ListPositionsByMarket(ctx context.Context, marketID string) ([]Position, error)
	MarkClaimed(ctx context.Context, marketID, user string, payout decimal.Decimal, at time.Time) (Position, error)
}

// TradeStore persists the append-only trade ledger.
type TradeStore interface {
	AppendTrade(ctx context.Context, t Trade) error
	GetTrades(ctx context.Context, f TradeFilter) ([]Trade, error)
	ListTradesBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Store is the full persistence surface used by the engine. RunInTx runs fn
// against a transactional view; every write made through that view commits
// together or not at all.
type Store interface {
	MarketStore
	PositionStore
	TradeStore
	AuditStore
	Stats(ctx context.Context) (Stats, error)
	RunInTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
