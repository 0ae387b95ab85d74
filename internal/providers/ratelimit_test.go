package providers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiterAdmitsUpToCapacity(t *testing.T) {
	l := NewWindowLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}

	st := l.Status()
	assert.Equal(t, 3, st.Limit)
	assert.Equal(t, 3, st.Used)
	assert.True(t, st.ResetAt.After(time.Now()))
}

func TestWindowLimiterUnlimitedWhenCapacityZero(t *testing.T) {
	l := NewWindowLimiter(0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	assert.Equal(t, RateLimitStatus{}, l.Status())
}

func TestWindowLimiterBlocksWhenFull(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowLimiterReleasesAfterWindow(t *testing.T) {
	l := NewWindowLimiter(1, 80*time.Millisecond)
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWindowLimiterFIFOOrdering(t *testing.T) {
	l := NewWindowLimiter(1, 60*time.Millisecond)
	require.NoError(t, l.Wait(context.Background()))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, l.Wait(context.Background()))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
		// Stagger arrivals so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWindowLimiterCancelledWaiterRemoved(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx))

	l.mu.Lock()
	waiters := len(l.waiters)
	l.mu.Unlock()
	assert.Zero(t, waiters)
}
