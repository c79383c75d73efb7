package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/store/memory"
	"github.com/alanyoungcy/klio/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) domain.Store { return memory.New() })
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateMarket(ctx, storetest.NewMarket("m1", epoch)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertPosition(ctx, "m1", "alice", domain.PositionDelta{
				YesTokens:     decimal.NewFromInt(2),
				TotalInvested: decimal.NewFromInt(1),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.GetPosition(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.True(t, p.YesTokens.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.TotalInvested.Equal(decimal.NewFromInt(50)))
}

func TestStore_NestedTxFlattens(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateMarket(ctx, storetest.NewMarket("m1", epoch)))

	err := s.RunInTx(ctx, func(tx domain.Store) error {
		return tx.RunInTx(ctx, func(inner domain.Store) error {
			vol := decimal.NewFromInt(3)
			_, err := inner.UpdateMarket(ctx, "m1", domain.MarketDelta{AddVolume: &vol})
			return err
		})
	})
	require.NoError(t, err)

	m, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.TotalVolume.Equal(decimal.NewFromInt(3)))
}
