package executorpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PayRpc/translate-engine/internal/executor"
)

func handles(n int) []executor.Handle {
	out := make([]executor.Handle, n)
	for i := range out {
		out[i] = &executor.Fake{}
	}
	return out
}

func TestAcquireReleaseBalance(t *testing.T) {
	p := New(handles(2), zap.NewNop())
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.FreeCount())

	h2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, p.FreeCount())

	p.Release(h1)
	assert.Equal(t, 1, p.FreeCount())
	p.Release(h2)
	assert.Equal(t, 2, p.FreeCount())
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := New(handles(1), zap.NewNop())
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h2, err := p.Acquire(ctx)
		require.NoError(t, err)
		close(acquired)
		p.Release(h2)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(h1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestAcquireFIFOOrder(t *testing.T) {
	p := New(handles(1), zap.NewNop())
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			// Stagger enqueue so waiters line up in order.
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			h, err := p.Acquire(ctx)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			p.Release(h)
		}()
		time.Sleep(15 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond)
	p.Release(h1)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(handles(1), zap.NewNop())
	ctx := context.Background()
	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(cancelCtx)
	assert.Error(t, err)
}

func TestGuardOpensBreakerOnRepeatedFailure(t *testing.T) {
	p := New(handles(1), zap.NewNop())
	failing := errors.New("executor-1: connection refused")

	for i := 0; i < 3; i++ {
		_, err := p.Guard(func() (any, error) { return nil, failing })
		assert.ErrorIs(t, err, failing)
	}

	calls := 0
	_, err := p.Guard(func() (any, error) {
		calls++
		return nil, nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 0, calls, "breaker should fail fast without invoking the guarded function")
}
