package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu           sync.Mutex
	disconnected bool
}

func (c *fakeConn) Disconnected(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeConn) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func newItem(taskID string) (*Item, *fakeConn) {
	conn := &fakeConn{}
	return &Item{TaskID: taskID, UserID: "u1", Conn: conn}, conn
}

func TestPositionOfOrdering(t *testing.T) {
	q := New(64, zap.NewNop())
	a, _ := newItem("a")
	b, _ := newItem("b")
	c, _ := newItem("c")
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	pos, ok := q.PositionOf(a)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	pos, ok = q.PositionOf(b)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	pos, ok = q.PositionOf(c)
	require.True(t, ok)
	assert.Equal(t, 2, pos)
}

func TestRemoveShiftsPositions(t *testing.T) {
	q := New(64, zap.NewNop())
	a, _ := newItem("a")
	b, _ := newItem("b")
	c, _ := newItem("c")
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	q.Remove(a)

	_, ok := q.PositionOf(a)
	assert.False(t, ok)
	pos, ok := q.PositionOf(b)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	pos, ok = q.PositionOf(c)
	require.True(t, ok)
	assert.Equal(t, 1, pos)
}

func TestPositionOfAbsentItem(t *testing.T) {
	q := New(64, zap.NewNop())
	a, _ := newItem("a")
	_, ok := q.PositionOf(a)
	assert.False(t, ok)
}

func TestReapDisconnectedRemovesOnlyDeadClients(t *testing.T) {
	q := New(64, zap.NewNop())
	a, connA := newItem("a")
	b, _ := newItem("b")
	q.Enqueue(a)
	q.Enqueue(b)

	connA.disconnect()
	q.ReapDisconnected(context.Background())

	_, ok := q.PositionOf(a)
	assert.False(t, ok)
	pos, ok := q.PositionOf(b)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
}

func TestWaitForChangeWakesOnRemove(t *testing.T) {
	q := New(64, zap.NewNop())
	a, _ := newItem("a")
	q.Enqueue(a)

	woke := make(chan struct{})
	go func() {
		q.WaitForChange(context.Background())
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Remove(a)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken by Remove")
	}
}

func TestWaitForChangeRespectsContext(t *testing.T) {
	q := New(64, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	q.WaitForChange(ctx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoubleRemoveIsIdempotent(t *testing.T) {
	q := New(64, zap.NewNop())
	a, connA := newItem("a")
	q.Enqueue(a)
	connA.disconnect()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); q.Remove(a) }()
	go func() { defer wg.Done(); q.ReapDisconnected(context.Background()) }()
	wg.Wait()

	assert.Equal(t, 0, q.Len())
}
