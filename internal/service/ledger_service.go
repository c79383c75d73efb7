package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
)

// LedgerService serves the read side of trades, positions, the audit log
// and the event history, and triggers ledger archives.
type LedgerService struct {
	store    domain.Store
	bus      *events.Bus
	archiver domain.Archiver // optional
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService. archiver may be nil.
func NewLedgerService(
	store domain.Store,
	bus *events.Bus,
	archiver domain.Archiver,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		store:    store,
		bus:      bus,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "ledger_service")),
	}
}

// TradesByMarket returns the market's trades, newest first.
func (s *LedgerService) TradesByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, fmt.Errorf("ledger_service: trades by market %s: %w", marketID, err)
	}
	trades, err := s.store.GetTrades(ctx, domain.TradeFilter{MarketID: marketID, ListOpts: opts})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: trades by market %s: %w", marketID, err)
	}
	return trades, nil
}

// TradesByUser returns the user's trades across all markets, newest first.
func (s *LedgerService) TradesByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.store.GetTrades(ctx, domain.TradeFilter{User: user, ListOpts: opts})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: trades by user %s: %w", user, err)
	}
	return trades, nil
}

// PositionsByMarket returns every position held in a market.
func (s *LedgerService) PositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, fmt.Errorf("ledger_service: positions by market %s: %w", marketID, err)
	}
	ps, err := s.store.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: positions by market %s: %w", marketID, err)
	}
	return ps, nil
}

// Portfolio returns every position held by user.
func (s *LedgerService) Portfolio(ctx context.Context, user string) ([]domain.Position, error) {
	ps, err := s.store.GetPositions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: portfolio %s: %w", user, err)
	}
	return ps, nil
}

// Stats summarises the store.
func (s *LedgerService) Stats(ctx context.Context) (domain.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("ledger_service: stats: %w", err)
	}
	return st, nil
}

// Audit returns audit entries, newest first.
func (s *LedgerService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: audit: %w", err)
	}
	return entries, nil
}

// History returns the buffered events of category, oldest first. An empty
// category returns all of them.
func (s *LedgerService) History(category events.Category) []events.Event {
	return s.bus.History(category)
}

// ArchiveEnabled reports whether an archiver is configured.
func (s *LedgerService) ArchiveEnabled() bool { return s.archiver != nil }

// Archive copies ledger records older than before to cold storage.
func (s *LedgerService) Archive(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	if s.archiver == nil {
		return domain.ArchiveResult{}, fmt.Errorf("ledger_service: archive: %w: archiving is disabled", domain.ErrInvalidRequest)
	}
	res, err := s.archiver.Archive(ctx, before)
	if err != nil {
		return domain.ArchiveResult{}, fmt.Errorf("ledger_service: archive: %w", err)
	}
	s.logger.InfoContext(ctx, "ledger_service: archive completed",
		slog.String("before", before.UTC().Format(time.RFC3339)),
		slog.Int64("trades", res.Trades),
		slog.Int64("audit", res.Audit),
		slog.Int("objects", len(res.Paths)),
	)
	return res, nil
}

// RunArchiveLoop archives records older than retention every interval
// until ctx is done. Failures are logged and retried on the next tick.
func (s *LedgerService) RunArchiveLoop(ctx context.Context, interval, retention time.Duration) error {
	if s.archiver == nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			// Truncate so reruns inside the same hour share an object key.
			cutoff := now.UTC().Add(-retention).Truncate(time.Hour)
			if _, err := s.Archive(ctx, cutoff); err != nil {
				s.logger.WarnContext(ctx, "ledger_service: scheduled archive failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
