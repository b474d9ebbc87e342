package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/repository/memory"
)

func TestTryConsume_FixedWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))
	l := New(memory.New().RateLimits(), clk)

	for i := 1; i <= 3; i++ {
		ok, n, err := l.TryConsume(ctx, "ws1", 3)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, n)
	}

	ok, n, err := l.TryConsume(ctx, "ws1", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, n, "counter keeps counting past the limit")

	// Other workspaces have their own budget.
	ok, _, err = l.TryConsume(ctx, "ws2", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Set(time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC))
	ok, n, err = l.TryConsume(ctx, "ws1", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestTryConsume_ConcurrentCallersNeverOvershoot(t *testing.T) {
	ctx := context.Background()
	l := New(memory.New().RateLimits(), clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	const limit, callers = 10, 50
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := l.TryConsume(ctx, "ws1", limit)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, limit, allowed.Load())
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, Limit(0))
	assert.Equal(t, 1, Limit(-5))
	assert.Equal(t, 250, Limit(250))
}

func TestWindowStart(t *testing.T) {
	got := WindowStart(time.Date(2026, 3, 1, 12, 34, 56, 789, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC), got)
}
