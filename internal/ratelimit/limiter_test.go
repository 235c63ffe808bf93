package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestAcquire_RespectsBudget checks that Acquire blocks once the budget is spent: 7
// acquisitions at N=3 per T=200ms cannot all return within the first window (spec.md §8).
func TestAcquire_RespectsBudget(t *testing.T) {
	l := New(3, 200*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 7; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	elapsed := time.Since(start)

	// 7 acquisitions at budget 3/200ms must span at least one extra window.
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}

func TestAcquire_NoOp(t *testing.T) {
	l := NoOp()
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquire_CancelledContext(t *testing.T) {
	l := New(1, time.Second)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(cancelled)
	require.Error(t, err)
}
