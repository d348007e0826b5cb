package progresshub

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ServeWS upgrades the request and subscribes the resulting connection
// to the task-id path variable's topic until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if taskID == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("progresshub: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.Subscribe(taskID, conn)
	defer h.Unsubscribe(taskID, conn)

	// The client never sends anything meaningful on this connection; the
	// read loop only exists to notice when it goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
