package progresshub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc("/v1/tasks/{id}/ws", hub.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, taskID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/tasks/" + taskID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	hub := New(zap.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "t1")

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.topics["t1"]) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Publish("t1", []byte("hello"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}

func TestPublishToDifferentTaskDoesNotDeliver(t *testing.T) {
	hub := New(zap.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "t1")

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.topics["t1"]) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Publish("t2", []byte("nope"))

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err) // read times out, nothing was ever delivered
}

func TestMissingTaskIDReturnsBadRequest(t *testing.T) {
	hub := New(zap.NewNop())
	// SkipClean keeps the router from redirecting the empty segment away.
	router := mux.NewRouter().SkipClean(true)
	router.HandleFunc("/v1/tasks//ws", hub.ServeWS)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/tasks//ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
