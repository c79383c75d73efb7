package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_AllowsBurstThenRefills(t *testing.T) {
	l := NewLocal()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "ip:1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "ip:1", 5, time.Minute)
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "ip:2", 5, time.Minute)
	assert.True(t, ok, "other key unaffected")

	now = now.Add(13 * time.Second)
	ok, _ = l.Allow(ctx, "ip:1", 5, time.Minute)
	assert.True(t, ok, "one token refilled")
	ok, _ = l.Allow(ctx, "ip:1", 5, time.Minute)
	assert.False(t, ok)
}

func TestLocal_ZeroLimitDenies(t *testing.T) {
	ok, err := NewLocal().Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_SweepsIdleKeys(t *testing.T) {
	l := NewLocal()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a", 1, time.Second)
	now = now.Add(idleTTL + time.Minute)
	_, _ = l.Allow(ctx, "b", 1, time.Second)
	assert.Equal(t, 1, l.Len())
}
