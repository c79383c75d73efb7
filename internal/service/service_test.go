package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/engine"
	"github.com/alanyoungcy/klio/internal/events"
	"github.com/alanyoungcy/klio/internal/lock"
	"github.com/alanyoungcy/klio/internal/service"
	"github.com/alanyoungcy/klio/internal/settlement"
	"github.com/alanyoungcy/klio/internal/store/memory"
)

type mapCache struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	gets    int
	hits    int
}

func newMapCache() *mapCache { return &mapCache{markets: make(map[string]domain.Market)} }

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *mapCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	c.hits++
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

// jsonCache stores markets as encoded JSON, the way the Redis cache does.
type jsonCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newJSONCache() *jsonCache { return &jsonCache{data: make(map[string][]byte)} }

func (c *jsonCache) Set(_ context.Context, m domain.Market) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[m.ID] = raw
	return nil
}

func (c *jsonCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	c.hits++
	var m domain.Market
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func (c *jsonCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	return nil
}

func (c *mapCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.markets[id]
	return ok
}

type harness struct {
	store   *memory.Store
	bus     *events.Bus
	cache   *mapCache
	markets *service.MarketService
	ledger  *service.LedgerService
}

func newHarness(t *testing.T, archiver domain.Archiver) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	bus := events.NewBus(0, logger)
	eng, err := engine.New(st, settlement.NewFake(), lock.NewLocal(), bus, engine.DefaultConfig(), logger)
	require.NoError(t, err)

	h := &harness{store: st, bus: bus, cache: newMapCache()}
	h.markets = service.NewMarketService(eng, st, h.cache, logger)
	t.Cleanup(h.markets.AttachCacheInvalidation(bus))
	h.ledger = service.NewLedgerService(st, bus, archiver, logger)
	return h
}

func (h *harness) create(t *testing.T, creator string) domain.MarketView {
	t.Helper()
	v, err := h.markets.CreateMarket(context.Background(), domain.CreateMarketRequest{
		Description: "Will ETH flip BTC by 2030?",
		Deadline:    time.Now().Add(24 * time.Hour),
		Creator:     creator,
	})
	require.NoError(t, err)
	return v
}

func TestMarketService_GetMarketReadThrough(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v := h.create(t, "alice")
	assert.Equal(t, "Crypto", v.Category)
	assert.True(t, v.YesPrice.Equal(decimal.RequireFromString("0.01")))

	_, err := h.markets.GetMarket(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, h.cache.has(v.ID), "miss back-fills the cache")

	_, err = h.markets.GetMarket(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.cache.hits)

	_, err = h.markets.GetMarket(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketService_CachedReadMatchesStoreRead(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	eng, err := engine.New(st, settlement.NewFake(), lock.NewLocal(), events.NewBus(0, logger), engine.DefaultConfig(), logger)
	require.NoError(t, err)
	cache := newJSONCache()
	svc := service.NewMarketService(eng, st, cache, logger)
	ctx := context.Background()

	v, err := svc.CreateMarket(ctx, domain.CreateMarketRequest{
		Description: "Will ETH flip BTC by 2030?",
		Deadline:    time.Now().Add(24 * time.Hour),
		Creator:     "alice",
	})
	require.NoError(t, err)
	_, err = svc.ExecuteTrade(ctx, domain.TradeRequest{
		MarketID: v.ID, User: "bob", Side: domain.SideYes, Amount: decimal.RequireFromString("12.345678"),
	})
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, v.ID))

	first, err := svc.GetMarket(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, 0, cache.hits, "first read comes from the store")
	second, err := svc.GetMarket(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, 1, cache.hits, "second read comes from the cache")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Description, second.Description)
	assert.Equal(t, first.Creator, second.Creator)
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.Vault, second.Vault)
	assert.Equal(t, first.Resolved, second.Resolved)
	assert.True(t, first.YesSupply.Equal(second.YesSupply), "%s vs %s", first.YesSupply, second.YesSupply)
	assert.True(t, first.NoSupply.Equal(second.NoSupply))
	assert.True(t, first.TotalVolume.Equal(second.TotalVolume))
	assert.True(t, first.CreatorFees.Equal(second.CreatorFees))
	assert.True(t, first.YesPrice.Equal(second.YesPrice), "%s vs %s", first.YesPrice, second.YesPrice)
	assert.True(t, first.NoPrice.Equal(second.NoPrice))
	assert.True(t, first.Deadline.Equal(second.Deadline))
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestMarketService_TradeInvalidatesCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v := h.create(t, "alice")
	_, err := h.markets.GetMarket(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, h.cache.has(v.ID))

	_, err = h.markets.ExecuteTrade(ctx, domain.TradeRequest{
		MarketID: v.ID, User: "bob", Side: domain.SideYes, Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.False(t, h.cache.has(v.ID))

	got, err := h.markets.GetMarket(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalVolume.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.YesPrice.GreaterThan(got.NoPrice))
}

func TestMarketService_RejectedResolveKeepsCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v := h.create(t, "alice")
	_, err := h.markets.GetMarket(ctx, v.ID)
	require.NoError(t, err)

	_, err = h.markets.ResolveMarket(ctx, v.ID, true, "alice")
	require.ErrorIs(t, err, domain.ErrDeadlineNotReached)

	_, err = h.markets.ResolveMarket(ctx, v.ID, true, "mallory")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	cached, err := h.cache.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, cached.Resolved)
}

func TestMarketService_ResolveAndClaim(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	bus := events.NewBus(0, logger)
	cfg := engine.DefaultConfig()
	cfg.EnforceDeadlines = false
	eng, err := engine.New(st, settlement.NewFake(), lock.NewLocal(), bus, cfg, logger)
	require.NoError(t, err)
	cache := newMapCache()
	svc := service.NewMarketService(eng, st, cache, logger)
	defer svc.AttachCacheInvalidation(bus)()

	ctx := context.Background()
	v, err := svc.CreateMarket(ctx, domain.CreateMarketRequest{Description: "Rain tomorrow?", Deadline: time.Now().Add(time.Hour), Creator: "alice"})
	require.NoError(t, err)
	_, err = svc.ExecuteTrade(ctx, domain.TradeRequest{MarketID: v.ID, User: "bob", Side: domain.SideYes, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	resolved, err := svc.ResolveMarket(ctx, v.ID, true, "alice")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	cached, err := cache.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, cached.Resolved, "resolution refreshes the cached market")

	preview, err := svc.Winnings(ctx, v.ID, "bob")
	require.NoError(t, err)
	assert.True(t, preview.Payout.Equal(decimal.NewFromInt(95)))
	assert.False(t, preview.Claimed)

	res, err := svc.Claim(ctx, v.ID, "bob")
	require.NoError(t, err)
	assert.True(t, res.Payout.Equal(decimal.NewFromInt(95)))

	_, err = svc.Claim(ctx, v.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestLedgerService_Reads(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	v := h.create(t, "alice")
	for _, user := range []string{"bob", "carol", "bob"} {
		_, err := h.markets.ExecuteTrade(ctx, domain.TradeRequest{
			MarketID: v.ID, User: user, Side: domain.SideNo, Amount: decimal.NewFromInt(5),
		})
		require.NoError(t, err)
	}

	trades, err := h.ledger.TradesByMarket(ctx, v.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	byUser, err := h.ledger.TradesByUser(ctx, "bob", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	positions, err := h.ledger.PositionsByMarket(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	portfolio, err := h.ledger.Portfolio(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, portfolio, 1)
	assert.True(t, portfolio[0].TotalInvested.Equal(decimal.NewFromInt(10)))

	_, err = h.ledger.TradesByMarket(ctx, "missing", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.ledger.PositionsByMarket(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	st, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalMarkets)
	assert.Equal(t, int64(3), st.TotalTrades)
	assert.Equal(t, int64(2), st.UniqueTraders)

	hist := h.ledger.History(events.CategoryTrade)
	assert.Len(t, hist, 3)
	assert.Len(t, h.ledger.History(""), 1+3+3, "created, executed and position updates")

	audit, err := h.ledger.Audit(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

type stubArchiver struct {
	calls []time.Time
	err   error
}

func (a *stubArchiver) Archive(_ context.Context, before time.Time) (domain.ArchiveResult, error) {
	a.calls = append(a.calls, before)
	return domain.ArchiveResult{Trades: 1, Paths: []string{"archive/trades/x.jsonl"}}, a.err
}

func TestLedgerService_Archive(t *testing.T) {
	ctx := context.Background()
	disabled := newHarness(t, nil)
	assert.False(t, disabled.ledger.ArchiveEnabled())
	_, err := disabled.ledger.Archive(ctx, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	arch := &stubArchiver{}
	h := newHarness(t, arch)
	res, err := h.ledger.Archive(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Trades)

	arch.err = errors.New("s3 down")
	_, err = h.ledger.Archive(ctx, time.Now())
	assert.ErrorContains(t, err, "s3 down")
	assert.Len(t, arch.calls, 2)
}
