package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/engine"
	"github.com/alanyoungcy/klio/internal/events"
)

// MarketService is the API-facing entry point for market operations. Writes
// go through the engine; single-market reads go through the market cache
// when one is configured.
type MarketService struct {
	engine *engine.Engine
	store  domain.Store
	cache  domain.MarketCache // optional
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	eng *engine.Engine,
	store domain.Store,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine: eng,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarket creates a market and returns it with its opening prices.
func (s *MarketService) CreateMarket(ctx context.Context, req domain.CreateMarketRequest) (domain.MarketView, error) {
	m, err := s.engine.CreateMarket(ctx, req)
	if err != nil {
		return domain.MarketView{}, err
	}
	return s.view(m)
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.MarketView, error) {
	if s.cache != nil {
		m, err := s.cache.Get(ctx, id)
		if err == nil {
			return s.view(m)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: cache get failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_service: get market %s: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return s.view(m)
}

// ListMarkets returns markets matching f, newest first.
func (s *MarketService) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.MarketView, error) {
	return s.engine.ListMarkets(ctx, f)
}

// ExecuteTrade buys tokens on one side of a market.
func (s *MarketService) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	return s.engine.ExecuteTrade(ctx, req)
}

// ResolveMarket sets the outcome of a market. Only its creator may do so.
func (s *MarketService) ResolveMarket(ctx context.Context, id string, outcome bool, requester string) (domain.MarketView, error) {
	m, err := s.engine.ResolveMarket(ctx, id, outcome, requester)
	if err != nil {
		return domain.MarketView{}, err
	}
	return s.view(m)
}

// Claim pays out the user's winning tokens.
func (s *MarketService) Claim(ctx context.Context, id, user string) (domain.ClaimResult, error) {
	return s.engine.Claim(ctx, id, user)
}

// Winnings previews a claim without changing state.
func (s *MarketService) Winnings(ctx context.Context, id, user string) (domain.ClaimResult, error) {
	return s.engine.Winnings(ctx, id, user)
}

func (s *MarketService) view(m domain.Market) (domain.MarketView, error) {
	q, err := s.engine.Model().QuoteMarket(m)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_service: quote %s: %w", m.ID, err)
	}
	return domain.MarketView{Market: m, YesPrice: q.Yes, NoPrice: q.No}, nil
}

// AttachCacheInvalidation keeps the market cache consistent with the bus:
// resolutions refresh the cached market, trades evict it.
func (s *MarketService) AttachCacheInvalidation(bus *events.Bus) (unsubscribe func()) {
	if s.cache == nil {
		return func() {}
	}
	unsubTrade := bus.Subscribe(events.CategoryTrade, func(ctx context.Context, ev events.Event) error {
		return s.cache.Invalidate(ctx, ev.MarketID)
	})
	unsubResolve := bus.Subscribe(events.CategoryResolution, func(ctx context.Context, ev events.Event) error {
		if m, ok := ev.Payload.(domain.Market); ok {
			return s.cache.Set(ctx, m)
		}
		return s.cache.Invalidate(ctx, ev.MarketID)
	})
	return func() {
		unsubTrade()
		unsubResolve()
	}
}
