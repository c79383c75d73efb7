// Package storetest holds the behaviour suite every domain.Store backend
// must pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) domain.Store

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewMarket returns a valid open market with the given id.
func NewMarket(id string, createdAt time.Time) domain.Market {
	return domain.Market{
		ID:           id,
		Description:  "Will " + id + " happen?",
		Deadline:     createdAt.Add(48 * time.Hour),
		Creator:      "creator-" + id,
		OracleSource: "Manual",
		StartingOdds: domain.DefaultStartingOdds,
		Category:     "Other",
		Vault:        "vault:" + id,
		YesSupply:    decimal.Zero,
		NoSupply:     decimal.Zero,
		TotalVolume:  decimal.Zero,
		CreatorFees:  decimal.Zero,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"CreateGetMarket", testCreateGetMarket},
		{"ListMarkets", testListMarkets},
		{"UpdateMarketPartialMerge", testUpdateMarket},
		{"UpsertPositionAccumulates", testUpsertPosition},
		{"RejectsInvariantBreaks", testRejectsInvariantBreaks},
		{"MarkClaimed", testMarkClaimed},
		{"Trades", testTrades},
		{"RunInTxRollback", testRunInTxRollback},
		{"RunInTxCommit", testRunInTxCommit},
		{"AuditAndStats", testAuditAndStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testCreateGetMarket(t *testing.T, s domain.Store) {
	ctx := context.Background()
	m := NewMarket("m1", base)
	require.NoError(t, s.CreateMarket(ctx, m))

	got, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Description, got.Description)
	assert.Equal(t, m.Creator, got.Creator)
	assert.True(t, m.Deadline.Equal(got.Deadline))
	assert.True(t, got.YesSupply.IsZero())
	assert.False(t, got.Resolved)
	assert.Nil(t, got.Outcome)

	again, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, got, again)

	err = s.CreateMarket(ctx, m)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.GetMarket(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testListMarkets(t *testing.T, s domain.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m := NewMarket(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			m.Category = "Crypto"
		}
		require.NoError(t, s.CreateMarket(ctx, m))
	}
	_, err := s.UpdateMarket(ctx, "m4", domain.MarketDelta{Resolved: ptr(true), Outcome: ptr(false), ResolvedAt: ptr(base)})
	require.NoError(t, err)

	all, err := s.ListMarkets(ctx, domain.MarketFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "m4", all[0].ID, "newest first")

	open, err := s.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 4)

	resolved, err := s.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "m4", resolved[0].ID)

	crypto, err := s.ListMarkets(ctx, domain.MarketFilter{Category: "Crypto"})
	require.NoError(t, err)
	assert.Len(t, crypto, 3)

	page, err := s.ListMarkets(ctx, domain.MarketFilter{ListOpts: domain.ListOpts{Limit: 2, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m2", page[1].ID)
}

func testUpdateMarket(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))

	m, err := s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddYesSupply: ptr(d("1000")), AddVolume: ptr(d("10"))})
	require.NoError(t, err)
	assert.True(t, m.YesSupply.Equal(d("1000")))
	assert.True(t, m.TotalVolume.Equal(d("10")))

	m, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddNoSupply: ptr(d("2.5")), AddCreatorFees: ptr(d("0.2"))})
	require.NoError(t, err)
	assert.True(t, m.YesSupply.Equal(d("1000")), "untouched field kept")
	assert.True(t, m.NoSupply.Equal(d("2.5")))
	assert.True(t, m.TotalVolume.Equal(d("10")))
	assert.True(t, m.CreatorFees.Equal(d("0.2")))
	assert.Equal(t, "Will m1 happen?", m.Description)

	got, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.NoSupply.Equal(d("2.5")))

	_, err = s.UpdateMarket(ctx, "missing", domain.MarketDelta{AddVolume: ptr(d("1"))})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpsertPosition(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m2", base)))

	p, err := s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{YesTokens: d("100"), TotalInvested: d("1")})
	require.NoError(t, err)
	assert.True(t, p.YesTokens.Equal(d("100")))

	p, err = s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{NoTokens: d("5"), TotalInvested: d("2")})
	require.NoError(t, err)
	assert.True(t, p.YesTokens.Equal(d("100")))
	assert.True(t, p.NoTokens.Equal(d("5")))
	assert.True(t, p.TotalInvested.Equal(d("3")))

	_, err = s.UpsertPosition(ctx, "m2", "alice", domain.PositionDelta{YesTokens: d("1"), TotalInvested: d("1")})
	require.NoError(t, err)
	_, err = s.UpsertPosition(ctx, "m1", "bob", domain.PositionDelta{NoTokens: d("1"), TotalInvested: d("1")})
	require.NoError(t, err)

	mine, err := s.GetPositions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	byMarket, err := s.ListPositionsByMarket(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, byMarket, 2)

	got, err := s.GetPosition(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.True(t, got.TotalInvested.Equal(d("3")))

	_, err = s.GetPosition(ctx, "m2", "bob")
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.UpsertPosition(ctx, "missing", "alice", domain.PositionDelta{YesTokens: d("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRejectsInvariantBreaks(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))

	_, err := s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddYesSupply: ptr(d("-50")), AddVolume: ptr(d("-50"))})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddCreatorFees: ptr(d("-0.01"))})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{YesTokens: d("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{NoTokens: d("5"), TotalInvested: d("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.GetPosition(ctx, "m1", "alice")
	assert.ErrorIs(t, err, domain.ErrNoPosition, "rejected delta leaves no position behind")

	_, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddYesSupply: ptr(d("100")), AddVolume: ptr(d("1"))})
	require.NoError(t, err)
	_, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{Resolved: ptr(true), Outcome: ptr(true), ResolvedAt: ptr(base)})
	require.NoError(t, err)

	for name, delta := range map[string]domain.MarketDelta{
		"unresolve":      {Resolved: ptr(false), Outcome: ptr(false)},
		"flip outcome":   {Outcome: ptr(false)},
		"re-resolve":     {Resolved: ptr(true), Outcome: ptr(true), ResolvedAt: ptr(base.Add(time.Hour))},
		"add supply":     {AddNoSupply: ptr(d("10"))},
		"add volume":     {AddVolume: ptr(d("1"))},
		"add fees":       {AddCreatorFees: ptr(d("0.5"))},
		"negative after": {AddYesSupply: ptr(d("-50"))},
	} {
		_, err := s.UpdateMarket(ctx, "m1", delta)
		assert.Error(t, err, name)
		if name == "negative after" {
			assert.ErrorIs(t, err, domain.ErrInvalidAmount, name)
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved, name)
	}

	got, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.Outcome)
	assert.True(t, *got.Outcome)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(base))
	assert.True(t, got.YesSupply.Equal(d("100")))
	assert.True(t, got.NoSupply.IsZero())
	assert.True(t, got.TotalVolume.Equal(d("1")))
	assert.True(t, got.CreatorFees.IsZero())

	_, err = s.UpdateMarket(ctx, "missing", domain.MarketDelta{Resolved: ptr(true), Outcome: ptr(true)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testMarkClaimed(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))
	_, err := s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{YesTokens: d("500"), TotalInvested: d("100")})
	require.NoError(t, err)

	p, err := s.MarkClaimed(ctx, "m1", "alice", d("95"), base)
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	require.NotNil(t, p.Payout)
	assert.True(t, p.Payout.Equal(d("95")))

	got, err := s.GetPosition(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.True(t, got.Claimed)
	require.NotNil(t, got.ClaimedAt)
	assert.True(t, got.ClaimedAt.Equal(base))

	_, err = s.MarkClaimed(ctx, "m1", "alice", d("95"), base)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = s.MarkClaimed(ctx, "m1", "bob", d("1"), base)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func testTrades(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m2", base)))

	users := []string{"alice", "bob", "alice"}
	for i, u := range users {
		require.NoError(t, s.AppendTrade(ctx, domain.Trade{
			ID:             fmt.Sprintf("t%d", i),
			MarketID:       "m1",
			User:           u,
			Side:           domain.SideYes,
			InputAmount:    d("10"),
			TokensReceived: d("1000"),
			Price:          d("0.01"),
			FeeAmount:      d("0.2"),
			NetToVault:     d("9.8"),
			ExecutionRef:   fmt.Sprintf("ref-%d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendTrade(ctx, domain.Trade{
		ID: "t9", MarketID: "m2", User: "bob", Side: domain.SideNo,
		InputAmount: d("1"), TokensReceived: d("100"), Price: d("0.01"),
		FeeAmount: d("0.02"), NetToVault: d("0.98"), Timestamp: base.Add(time.Hour),
	}))

	byMarket, err := s.GetTrades(ctx, domain.TradeFilter{MarketID: "m1"})
	require.NoError(t, err)
	require.Len(t, byMarket, 3)
	assert.Equal(t, "t2", byMarket[0].ID, "newest first")
	assert.True(t, byMarket[0].InputAmount.Equal(d("10")))
	assert.Equal(t, "ref-2", byMarket[0].ExecutionRef)

	byUser, err := s.GetTrades(ctx, domain.TradeFilter{User: "bob"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	limited, err := s.GetTrades(ctx, domain.TradeFilter{MarketID: "m1", ListOpts: domain.ListOpts{Limit: 1}})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	old, err := s.ListTradesBefore(ctx, base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "t0", old[0].ID)

	err = s.AppendTrade(ctx, domain.Trade{ID: "t0", MarketID: "m1", User: "x", Side: domain.SideYes,
		InputAmount: d("1"), TokensReceived: d("1"), Price: d("1"), FeeAmount: d("0"), NetToVault: d("1"), Timestamp: base})
	assert.Error(t, err)
}

var errBoom = errors.New("boom")

func testRunInTxRollback(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))

	err := s.RunInTx(ctx, func(tx domain.Store) error {
		if _, err := tx.UpdateMarket(ctx, "m1", domain.MarketDelta{AddVolume: ptr(d("10"))}); err != nil {
			return err
		}
		if _, err := tx.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{YesTokens: d("1000"), TotalInvested: d("10")}); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.TotalVolume.IsZero(), "rolled back")
	_, err = s.GetPosition(ctx, "m1", "alice")
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func testRunInTxCommit(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))

	err := s.RunInTx(ctx, func(tx domain.Store) error {
		if _, err := tx.UpdateMarket(ctx, "m1", domain.MarketDelta{AddVolume: ptr(d("10")), AddYesSupply: ptr(d("1000"))}); err != nil {
			return err
		}
		if _, err := tx.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{YesTokens: d("1000"), TotalInvested: d("10")}); err != nil {
			return err
		}
		if err := tx.AppendTrade(ctx, domain.Trade{ID: "t1", MarketID: "m1", User: "alice", Side: domain.SideYes,
			InputAmount: d("10"), TokensReceived: d("1000"), Price: d("0.01"), FeeAmount: d("0.2"),
			NetToVault: d("9.8"), Timestamp: base}); err != nil {
			return err
		}
		return tx.Log(ctx, "trade_executed", map[string]any{"trade_id": "t1"})
	})
	require.NoError(t, err)

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.TotalVolume.Equal(d("10")))
	p, err := s.GetPosition(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.True(t, p.YesTokens.Equal(d("1000")))
	trades, err := s.GetTrades(ctx, domain.TradeFilter{MarketID: "m1"})
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func testAuditAndStats(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.Log(ctx, "first", map[string]any{"n": 1}))
	require.NoError(t, s.Log(ctx, "second", map[string]any{"n": 2}))
	entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event)

	require.NoError(t, s.CreateMarket(ctx, NewMarket("m1", base)))
	require.NoError(t, s.CreateMarket(ctx, NewMarket("m2", base)))
	_, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddVolume: ptr(d("12.5")), Resolved: ptr(true), Outcome: ptr(true), ResolvedAt: ptr(base)})
	require.NoError(t, err)
	_, err = s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{YesTokens: d("1"), TotalInvested: d("12.5")})
	require.NoError(t, err)
	require.NoError(t, s.AppendTrade(ctx, domain.Trade{ID: "t1", MarketID: "m1", User: "alice", Side: domain.SideYes,
		InputAmount: d("12.5"), TokensReceived: d("1"), Price: d("0.01"), FeeAmount: d("0.25"),
		NetToVault: d("12.25"), Timestamp: base}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalMarkets)
	assert.Equal(t, int64(1), st.OpenMarkets)
	assert.Equal(t, int64(1), st.ResolvedMarkets)
	assert.True(t, st.TotalVolume.Equal(d("12.5")))
	assert.Equal(t, int64(1), st.TotalTrades)
	assert.Equal(t, int64(1), st.UniqueTraders)
	assert.Equal(t, int64(1), st.TotalPositions)

	require.NoError(t, s.Ping(ctx))
}
