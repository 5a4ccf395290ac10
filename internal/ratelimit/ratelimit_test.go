package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("limit per key within a window", func(t *testing.T) {
		l := NewMemoryLimiter(2, time.Minute)
		l.now = func() time.Time { return start }

		for i, want := range []bool{true, true, false, false} {
			ok, err := l.Allow(ctx, "1.2.3.4")
			require.NoError(t, err)
			assert.Equal(t, want, ok, "request %d", i)
		}

		ok, err := l.Allow(ctx, "5.6.7.8")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("window resets", func(t *testing.T) {
		now := start
		l := NewMemoryLimiter(1, time.Minute)
		l.now = func() time.Time { return now }

		ok, _ := l.Allow(ctx, "k")
		assert.True(t, ok)
		ok, _ = l.Allow(ctx, "k")
		assert.False(t, ok)

		now = now.Add(time.Minute)
		ok, _ = l.Allow(ctx, "k")
		assert.True(t, ok)
	})

	t.Run("expired keys are swept", func(t *testing.T) {
		now := start
		l := NewMemoryLimiter(5, time.Minute)
		l.now = func() time.Time { return now }

		_, _ = l.Allow(ctx, "a")
		_, _ = l.Allow(ctx, "b")
		now = now.Add(2 * time.Minute)
		_, _ = l.Allow(ctx, "c")

		assert.Len(t, l.counters, 1)
	})
}
