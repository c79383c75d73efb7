package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/store/sqlite"
	"github.com/alanyoungcy/klio/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		s, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "klio.db")
	created := time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateMarket(ctx, storetest.NewMarket("m1", created)))
	tokens := decimal.RequireFromString("1234.567890123456789012")
	_, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{AddYesSupply: &tokens})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close()

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.YesSupply.Equal(tokens), "decimal kept exactly: %s", m.YesSupply)
	assert.True(t, m.CreatedAt.Equal(created), "nanosecond timestamps kept")
}

func TestStore_ResolvedFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateMarket(ctx, storetest.NewMarket("m1", now)))
	resolved, outcome := true, false
	_, err = s.UpdateMarket(ctx, "m1", domain.MarketDelta{Resolved: &resolved, Outcome: &outcome, ResolvedAt: &now})
	require.NoError(t, err)

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.Resolved)
	require.NotNil(t, m.Outcome)
	assert.False(t, *m.Outcome)
	require.NotNil(t, m.ResolvedAt)
	assert.True(t, m.ResolvedAt.Equal(now))
}
