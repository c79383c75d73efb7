package redis_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/klio/internal/cache/redis"
	"github.com/alanyoungcy/klio/internal/domain"
)

// newClient connects to KLIO_TEST_REDIS_ADDR with a per-test key prefix.
func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("KLIO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KLIO_TEST_REDIS_ADDR not set")
	}
	c, err := redis.New(context.Background(), redis.ClientConfig{
		Addr:   addr,
		Prefix: fmt.Sprintf("klio-test-%s:", uuid.NewString()[:8]),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarketCache(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	mc := redis.NewMarketCache(c, time.Minute)

	_, err := mc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.Market{ID: "m1", Description: "Will it rain?", YesSupply: decimal.RequireFromString("12.5")}
	require.NoError(t, mc.Set(ctx, m))

	got, err := mc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", got.Description)
	assert.True(t, got.YesSupply.Equal(m.YesSupply))

	require.NoError(t, mc.Invalidate(ctx, "m1"))
	_, err = mc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	lm := redis.NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:m1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "market:m2", time.Second)
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "market:m1", time.Second)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	rl := redis.NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestSignalBus(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := redis.NewSignalBus(c)
	prefix := "klio-test-" + uuid.NewString()[:8]

	ch, err := sb.Subscribe(ctx, prefix+":*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, prefix+":trade", []byte(`{"n":1}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"n":1}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	stream := prefix + ":events"
	require.NoError(t, sb.StreamAppend(ctx, stream, []byte("a")))
	require.NoError(t, sb.StreamAppend(ctx, stream, []byte("b")))
	msgs, err := sb.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))

	rest, err := sb.StreamRead(ctx, stream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", string(rest[0].Payload))

	require.NoError(t, c.Underlying().Del(ctx, stream).Err())
}
