// Package executorpool implements the bounded pool of executor handles:
// blocking FIFO acquisition, idle-count reporting, and guaranteed
// release on every code path.
package executorpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/PayRpc/translate-engine/internal/executor"
	"github.com/PayRpc/translate-engine/internal/metrics"
)

// Pool owns a fixed set of executor.Handle values. |busy| + |free| is
// always the total handed to New; every acquired handle is released
// exactly once regardless of how the job that holds it ends.
type Pool struct {
	sem     *semaphore.Weighted
	total   int
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker

	mu   sync.Mutex
	idle []executor.Handle
}

// New constructs a pool over the given handles. The semaphore has one
// weight per handle, so Acquire blocks exactly when all handles are
// busy, and golang.org/x/sync/semaphore serves FIFO among waiters.
func New(handles []executor.Handle, logger *zap.Logger) *Pool {
	idle := make([]executor.Handle, len(handles))
	copy(idle, handles)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "executor-pool",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("executor pool circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.Set(float64(to))
		},
	})

	metrics.PoolTotal.Set(float64(len(handles)))
	metrics.PoolFree.Set(float64(len(handles)))

	return &Pool{
		sem:     semaphore.NewWeighted(int64(len(handles))),
		total:   len(handles),
		logger:  logger,
		breaker: breaker,
		idle:    idle,
	}
}

// Acquire blocks until an idle handle is available, per FIFO arrival
// order of waiters, and returns it marked busy.
func (p *Pool) Acquire(ctx context.Context) (executor.Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("executorpool: acquire cancelled: %w", err)
	}

	p.mu.Lock()
	n := len(p.idle)
	h := p.idle[n-1]
	p.idle = p.idle[:n-1]
	free := len(p.idle)
	p.mu.Unlock()
	metrics.PoolFree.Set(float64(free))

	return h, nil
}

// Release returns h to the idle set. It must be called exactly once
// per successful Acquire, on every exit path.
func (p *Pool) Release(h executor.Handle) {
	p.mu.Lock()
	p.idle = append(p.idle, h)
	free := len(p.idle)
	p.mu.Unlock()
	metrics.PoolFree.Set(float64(free))
	p.sem.Release(1)
}

// FreeCount returns the number of idle handles right now. It is
// advisory — the result may be stale by the time the caller acts on it.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Total is the fixed executor count the pool was constructed with.
func (p *Pool) Total() int {
	return p.total
}

// Guard runs fn through the pool's single circuit breaker, which trips
// after three consecutive failures of any kind (for example a backend
// that hasn't come up yet) and then fails fast instead of calling fn. Classification of the underlying
// error for the user-facing message still happens in the dispatch
// loop — the breaker only governs whether Guard itself short-circuits.
func (p *Pool) Guard(fn func() (any, error)) (any, error) {
	result, err := p.breaker.Execute(fn)
	if err != nil {
		return nil, err
	}
	return result, nil
}
