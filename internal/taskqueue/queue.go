// Package taskqueue implements the in-memory FIFO of pending work
// items: position lookup, disconnect reaping, and the signal-then-rearm
// change-event broadcast the dispatch loop waits on.
package taskqueue

import (
	"context"
	"sync"

	"github.com/decred/dcrd/lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PayRpc/translate-engine/internal/metrics"
)

// Liveness probes whether the client behind a queue item is still
// connected. The dispatch loop and reap both use it; a real
// implementation wraps an HTTP request's context/body.
type Liveness interface {
	Disconnected(ctx context.Context) bool
}

// Item is one pending unit of work. Two callers never share an *Item —
// identity (pointer equality) is how PositionOf/Remove recognise it: a
// queue item's lifetime ends the moment it is either dispatched or
// reaped.
type Item struct {
	TaskID string
	UserID string
	Conn   Liveness
	Meta   map[string]any

	// Batch carries the extra fields a batch queue item needs; nil for
	// a single-image item.
	Batch *BatchInfo
}

// BatchInfo distinguishes a batch queue item from a single-image one.
type BatchInfo struct {
	ImageCount int
	BatchSize  int
}

// Queue is the process-wide FIFO. The zero value is not usable; use New.
type Queue struct {
	mu    sync.Mutex
	items []*Item

	// claimed guards against a reap and a dispatcher's own removal
	// racing on the same item: both sides "claim" a task-id before
	// acting on it, and whichever claims first wins. Bounded by an LRU
	// rather than an unbounded map because claims are only ever needed
	// briefly around a removal — decred/dcrd/lru's hash-set is exactly
	// that kind of "have I seen this recently" cache.
	claimed *lru.Cache

	event  chan struct{}
	logger *zap.Logger
}

// New constructs an empty queue. claimSize bounds the recently-claimed
// guard; a few hundred is ample for any realistic in-flight count.
func New(claimSize uint, logger *zap.Logger) *Queue {
	return &Queue{
		claimed: lru.NewCache(claimSize),
		event:   make(chan struct{}),
		logger:  logger,
	}
}

// Enqueue appends item at the tail. A fresh arrival never changes the
// position of items ahead of it, so this does not fire the change
// event — only Remove and ReapDisconnected do.
func (q *Queue) Enqueue(item *Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(depth))
}

// PositionOf returns item's zero-based index, or ok=false if it is
// absent (already dispatched or reaped).
func (q *Queue) PositionOf(item *Item) (pos int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it == item {
			return i, true
		}
	}
	return 0, false
}

// Remove deletes item by identity, preserving the order of the
// remaining items, then fires the change event. It is a no-op if the
// item is not present — including when a concurrent reap already
// claimed and removed it.
func (q *Queue) Remove(item *Item) {
	if !q.claim(item.TaskID) {
		return
	}
	q.removeLocked(item)
	metrics.QueueDepth.Set(float64(q.Len()))
	q.fire()
}

// claim reports whether item.TaskID was not already claimed, and
// claims it atomically if so. Used to make Remove idempotent across a
// race between the dispatch loop's own removal and a concurrent reap.
func (q *Queue) claim(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimed.Contains(taskID) {
		return false
	}
	q.claimed.Add(taskID)
	return true
}

func (q *Queue) removeLocked(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// ReapDisconnected probes every queued item's client liveness
// concurrently and removes the ones whose clients are gone. Every call
// fires the change event once, whether or not anything was removed, so
// waiters re-evaluate their position and the pool's free count.
func (q *Queue) ReapDisconnected(ctx context.Context) {
	defer q.fire()

	q.mu.Lock()
	snapshot := make([]*Item, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	var mu sync.Mutex
	var dead []*Item

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range snapshot {
		item := item
		g.Go(func() error {
			if item.Conn != nil && item.Conn.Disconnected(gctx) {
				mu.Lock()
				dead = append(dead, item)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // liveness probes never return an error worth propagating

	if len(dead) == 0 {
		return
	}

	removed := 0
	for _, item := range dead {
		if !q.claim(item.TaskID) {
			continue
		}
		q.removeLocked(item)
		removed++
	}
	if removed > 0 {
		metrics.QueueDepth.Set(float64(q.Len()))
		metrics.TasksReaped.Add(float64(removed))
		q.logger.Info("reaped disconnected tasks", zap.Int("count", removed))
	}
}

// WaitForChange suspends until the next change-event edge, or until ctx
// is done.
func (q *Queue) WaitForChange(ctx context.Context) {
	q.mu.Lock()
	ch := q.event
	q.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// fire performs signal-then-immediately-rearm: close the current event
// channel (waking every current waiter exactly once) and install a
// fresh one, all without an intervening suspension point, so there is
// no lost-wakeup window.
func (q *Queue) fire() {
	q.mu.Lock()
	close(q.event)
	q.event = make(chan struct{})
	q.mu.Unlock()
}

// Len reports the current queue length — a point-in-time observation,
// like PositionOf.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
