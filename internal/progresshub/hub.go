// Package progresshub fans each task's frame stream out to any number
// of passive WebSocket observers, supplementing the primary streaming
// HTTP response with a read-only tail an operator can attach to
// mid-task.
//
// Grounded on the client-map-plus-broadcast-channel shape of
// cmd/cb-monitor/main.go's CircuitBreakerMonitor, narrowed to one topic
// (a task-id) per subscriber set instead of one global broadcast.
package progresshub

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Upgrader is shared across all task topics; CheckOrigin is permissive
// because this endpoint carries no credentials of its own — it only
// ever replays frames already addressed to the task-id in the URL.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans out frame bytes for in-flight tasks to subscribed
// connections. The zero value is not usable; use New.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*websocket.Conn]struct{}
	logger *zap.Logger
}

// New constructs an empty Hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Subscribe registers conn to receive every future Publish for taskID,
// until Unsubscribe is called for it. A topic is removed once its last
// subscriber is gone.
func (h *Hub) Subscribe(taskID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[taskID]
	if !ok {
		subs = make(map[*websocket.Conn]struct{})
		h.topics[taskID] = subs
	}
	subs[conn] = struct{}{}
}

// Unsubscribe removes conn from taskID's subscriber set.
func (h *Hub) Unsubscribe(taskID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[taskID]
	if !ok {
		return
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(h.topics, taskID)
	}
}

// Publish relays one frame to every current subscriber of taskID. A
// subscriber whose write fails is dropped — progresshub is best-effort,
// never a source of truth (the task store remains that).
func (h *Hub) Publish(taskID string, frameBytes []byte) {
	h.mu.Lock()
	subs := make([]*websocket.Conn, 0, len(h.topics[taskID]))
	for conn := range h.topics[taskID] {
		subs = append(subs, conn)
	}
	h.mu.Unlock()

	for _, conn := range subs {
		if err := conn.WriteMessage(websocket.BinaryMessage, frameBytes); err != nil {
			h.logger.Debug("progresshub: dropping subscriber after write error", zap.String("task_id", taskID), zap.Error(err))
			h.Unsubscribe(taskID, conn)
		}
	}
}
