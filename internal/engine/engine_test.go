package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/engine"
	"github.com/alanyoungcy/klio/internal/events"
	"github.com/alanyoungcy/klio/internal/lock"
	"github.com/alanyoungcy/klio/internal/settlement"
	"github.com/alanyoungcy/klio/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(dur)
	c.mu.Unlock()
}

type fixture struct {
	eng     *engine.Engine
	store   *memory.Store
	gateway *settlement.Fake
	bus     *events.Bus
	clock   *clock
}

func newFixture(t *testing.T, mutate ...func(*engine.Config)) *fixture {
	t.Helper()
	cfg := engine.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store:   memory.New(),
		gateway: settlement.NewFake(),
		bus:     events.NewBus(100, logger),
		clock:   &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	eng, err := engine.New(f.store, f.gateway, lock.NewLocal(), f.bus, cfg, logger)
	require.NoError(t, err)
	eng.SetClock(f.clock.Now)
	f.eng = eng
	return f
}

func (f *fixture) createMarket(t *testing.T, creator string) domain.Market {
	t.Helper()
	m, err := f.eng.CreateMarket(context.Background(), domain.CreateMarketRequest{
		Description: "Will the harbour freeze this winter?",
		Deadline:    f.clock.Now().Add(24 * time.Hour),
		Creator:     creator,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) trade(t *testing.T, marketID, user string, side domain.Side, amount string) domain.TradeResult {
	t.Helper()
	res, err := f.eng.ExecuteTrade(context.Background(), domain.TradeRequest{
		MarketID: marketID, User: user, Side: side, Amount: d(amount),
	})
	require.NoError(t, err)
	return res
}

func TestCreateMarket_Defaults(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "alice", m.Creator)
	assert.Equal(t, engine.DefaultOracleSource, m.OracleSource)
	assert.Equal(t, domain.DefaultStartingOdds, m.StartingOdds)
	assert.Equal(t, "vault:"+m.ID, m.Vault)
	assert.True(t, m.YesSupply.IsZero())
	assert.False(t, m.Resolved)

	stored, err := f.store.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Description, stored.Description)

	hist := f.bus.History(events.CategoryMarket)
	require.Len(t, hist, 1)
	assert.Equal(t, events.ActionCreated, hist[0].Action)
}

func TestCreateMarket_Validation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	tests := []struct {
		name string
		req  domain.CreateMarketRequest
		want error
	}{
		{"empty description", domain.CreateMarketRequest{Description: "  ", Deadline: now.Add(time.Hour), Creator: "a"}, domain.ErrInvalidRequest},
		{"too long", domain.CreateMarketRequest{Description: strings.Repeat("x", 281), Deadline: now.Add(time.Hour), Creator: "a"}, domain.ErrDescriptionLen},
		{"no creator", domain.CreateMarketRequest{Description: "q?", Deadline: now.Add(time.Hour)}, domain.ErrInvalidRequest},
		{"past deadline", domain.CreateMarketRequest{Description: "q?", Deadline: now.Add(-time.Hour), Creator: "a"}, domain.ErrInvalidDeadline},
		{"no deadline", domain.CreateMarketRequest{Description: "q?", Creator: "a"}, domain.ErrInvalidDeadline},
		{"bad odds", domain.CreateMarketRequest{Description: "q?", Deadline: now.Add(time.Hour), Creator: "a", StartingOdds: 10000}, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreateMarket(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// 280 multi-byte characters are allowed.
	_, err := f.eng.CreateMarket(context.Background(), domain.CreateMarketRequest{
		Description: strings.Repeat("é", 280), Deadline: now.Add(time.Hour), Creator: "a",
	})
	assert.NoError(t, err)
}

func TestExecuteTrade_FirstTradeOnEmptyMarket(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")

	res := f.trade(t, m.ID, "bob", domain.SideYes, "10")

	assert.True(t, res.TokensReceived.Equal(d("1000")), "tokens %s", res.TokensReceived)
	assert.True(t, res.Trade.Price.Equal(d("0.01")))
	assert.True(t, res.FeeAmount.Equal(d("0.2")))
	assert.True(t, res.NetToVault.Equal(d("9.8")))
	assert.True(t, res.NewPrice.Equal(d("0.5")), "new price %s", res.NewPrice)

	got, err := f.store.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, got.YesSupply.Equal(d("1000")))
	assert.True(t, got.NoSupply.IsZero())
	assert.True(t, got.TotalVolume.Equal(d("10")))
	assert.True(t, got.CreatorFees.Equal(d("0.2")))

	pos, err := f.store.GetPosition(context.Background(), m.ID, "bob")
	require.NoError(t, err)
	assert.True(t, pos.YesTokens.Equal(d("1000")))
	assert.True(t, pos.TotalInvested.Equal(d("10")))

	transfers := f.gateway.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "bob", transfers[0].From)
	assert.Equal(t, m.Vault, transfers[0].To)
	assert.Equal(t, transfers[0].IdempotencyKey, "trade:"+res.Trade.ID)
	assert.NotEmpty(t, res.Trade.ExecutionRef)

	assert.Len(t, f.bus.History(events.CategoryTrade), 1)
	assert.Len(t, f.bus.History(events.CategoryPosition), 1)
}

func TestExecuteTrade_ExternalRefSkipsGateway(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")

	res, err := f.eng.ExecuteTrade(context.Background(), domain.TradeRequest{
		MarketID: m.ID, User: "bob", Side: domain.SideNo, Amount: d("1"), ExternalRef: "sig-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "sig-123", res.Trade.ExecutionRef)
	assert.Empty(t, f.gateway.Transfers())
}

func TestExecuteTrade_PriceRisesWithOwnSide(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")

	f.trade(t, m.ID, "bob", domain.SideYes, "10")
	q1, err := f.eng.Quote(context.Background(), m.ID)
	require.NoError(t, err)

	res := f.trade(t, m.ID, "carol", domain.SideYes, "5")
	assert.True(t, res.Trade.Price.Equal(q1.Yes), "trade priced at pre-trade quote")
	// tokens = amount / price at time of trade
	assert.True(t, res.TokensReceived.Equal(d("5").DivRound(q1.Yes, 18)))

	q2, err := f.eng.Quote(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, q2.Yes.GreaterThan(q1.Yes))
}

func TestExecuteTrade_Rejections(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.TradeRequest
		want error
	}{
		{"zero amount", domain.TradeRequest{MarketID: m.ID, User: "b", Side: domain.SideYes, Amount: decimal.Zero}, domain.ErrInvalidAmount},
		{"negative amount", domain.TradeRequest{MarketID: m.ID, User: "b", Side: domain.SideYes, Amount: d("-1")}, domain.ErrInvalidAmount},
		{"bad side", domain.TradeRequest{MarketID: m.ID, User: "b", Side: "maybe", Amount: d("1")}, domain.ErrInvalidSide},
		{"no user", domain.TradeRequest{MarketID: m.ID, Side: domain.SideYes, Amount: d("1")}, domain.ErrInvalidRequest},
		{"unknown market", domain.TradeRequest{MarketID: "nope", User: "b", Side: domain.SideYes, Amount: d("1")}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.ExecuteTrade(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.gateway.Transfers())
}

func TestExecuteTrade_SettlementFailureCommitsNothing(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")
	f.gateway.FailWith(errors.New("insufficient funds"))

	_, err := f.eng.ExecuteTrade(context.Background(), domain.TradeRequest{
		MarketID: m.ID, User: "bob", Side: domain.SideYes, Amount: d("10"),
	})
	require.ErrorIs(t, err, domain.ErrSettlementFailed)
	assert.Equal(t, "settlement_failed", domain.Kind(err))

	got, err := f.store.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalVolume.IsZero())
	_, err = f.store.GetPosition(context.Background(), m.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	trades, err := f.store.GetTrades(context.Background(), domain.TradeFilter{MarketID: m.ID})
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Empty(t, f.bus.History(events.CategoryTrade))
}

func TestExecuteTrade_DeadlinePolicy(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")
	f.clock.Advance(25 * time.Hour)

	_, err := f.eng.ExecuteTrade(context.Background(), domain.TradeRequest{
		MarketID: m.ID, User: "bob", Side: domain.SideYes, Amount: d("1"),
	})
	assert.ErrorIs(t, err, domain.ErrDeadlinePassed)

	lax := newFixture(t, func(c *engine.Config) { c.EnforceDeadlines = false })
	m2 := lax.createMarket(t, "alice")
	lax.clock.Advance(25 * time.Hour)
	lax.trade(t, m2.ID, "bob", domain.SideYes, "1")
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")
	ctx := context.Background()

	amounts := []string{"10", "2.5", "0.333", "7", "1", "19.99", "0.01", "3"}
	users := []string{"bob", "carol", "dave"}
	sum := decimal.Zero
	for i, a := range amounts {
		side := domain.SideYes
		if i%3 == 1 {
			side = domain.SideNo
		}
		f.trade(t, m.ID, users[i%len(users)], side, a)
		sum = sum.Add(d(a))
	}

	got, err := f.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalVolume.Equal(sum))

	trades, err := f.store.GetTrades(ctx, domain.TradeFilter{MarketID: m.ID})
	require.NoError(t, err)
	require.Len(t, trades, len(amounts))
	tradeSum, yesMinted, noMinted := decimal.Zero, decimal.Zero, decimal.Zero
	for _, tr := range trades {
		tradeSum = tradeSum.Add(tr.InputAmount)
		if tr.Side == domain.SideYes {
			yesMinted = yesMinted.Add(tr.TokensReceived)
		} else {
			noMinted = noMinted.Add(tr.TokensReceived)
		}
	}
	assert.True(t, tradeSum.Equal(got.TotalVolume))
	assert.True(t, yesMinted.Equal(got.YesSupply))
	assert.True(t, noMinted.Equal(got.NoSupply))

	yesHeld, invested := decimal.Zero, decimal.Zero
	for _, u := range users {
		p, err := f.store.GetPosition(ctx, m.ID, u)
		require.NoError(t, err)
		yesHeld = yesHeld.Add(p.YesTokens)
		invested = invested.Add(p.TotalInvested)
	}
	assert.True(t, yesHeld.Equal(got.YesSupply))
	assert.True(t, invested.Equal(sum))
}

func TestConcurrentTradesAreSerialized(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.eng.ExecuteTrade(ctx, domain.TradeRequest{
				MarketID: m.ID, User: fmt.Sprintf("u%d", i%4), Side: domain.SideYes, Amount: d("1"),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalVolume.Equal(decimal.NewFromInt(n)))

	// Replaying the recorded trades in time order must reproduce each price.
	trades, err := f.store.GetTrades(ctx, domain.TradeFilter{MarketID: m.ID})
	require.NoError(t, err)
	require.Len(t, trades, n)
	supply := decimal.Zero
	model := f.eng.Model()
	for i := len(trades) - 1; i >= 0; i-- {
		tr := trades[i]
		p, err := model.Price(domain.SideYes, supply, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, p.Equal(tr.Price), "trade %d priced %s, replay %s", i, tr.Price, p)
		supply = supply.Add(tr.TokensReceived)
	}
	assert.True(t, supply.Equal(got.YesSupply))
}

func TestSubscribeThroughEngine(t *testing.T) {
	f := newFixture(t)
	var got []string
	unsub := f.eng.Subscribe(events.CategoryAll, func(_ context.Context, ev events.Event) error {
		got = append(got, string(ev.Category)+"/"+ev.Action)
		return nil
	})
	defer unsub()

	m := f.createMarket(t, "alice")
	f.trade(t, m.ID, "bob", domain.SideNo, "1")
	assert.Equal(t, []string{"market/created", "trade/executed", "position/updated"}, got)
}

func TestGetMarketAndPositions(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "alice")
	f.trade(t, m.ID, "bob", domain.SideYes, "10")

	v, err := f.eng.GetMarket(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, v.YesPrice.Equal(d("0.5")))
	assert.True(t, v.NoPrice.Equal(d("0.01")))

	list, err := f.eng.ListMarkets(context.Background(), domain.MarketFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ps, err := f.eng.GetPositions(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, m.ID, ps[0].MarketID)

	_, err = f.eng.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetMarket_RepeatReadsAgree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, "alice")
	f.trade(t, m.ID, "bob", domain.SideYes, "10")
	f.trade(t, m.ID, "carol", domain.SideNo, "3.333333")

	first, err := f.eng.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	second, err := f.eng.GetMarket(ctx, m.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Description, second.Description)
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.Resolved, second.Resolved)
	assert.True(t, first.YesSupply.Equal(second.YesSupply))
	assert.True(t, first.NoSupply.Equal(second.NoSupply))
	assert.True(t, first.TotalVolume.Equal(second.TotalVolume))
	assert.True(t, first.CreatorFees.Equal(second.CreatorFees))
	assert.True(t, first.YesPrice.Equal(second.YesPrice))
	assert.True(t, first.NoPrice.Equal(second.NoPrice))
	assert.True(t, first.Deadline.Equal(second.Deadline))
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}
