package fanout

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS is the websocket alternate transport for the same per-home
// stream, grounded on entity-registry-service's read/write pump pair
// (internal/realtime/hub.go) and automation-service's run-events ws
// handler (internal/httpapi/server.go handleRunEventsWS).
func ServeWS(hub *Hub, homeID uint64, keepAlive time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var afterID int64
		if v := r.URL.Query().Get("last_event_id"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				afterID = n
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ch, resync, cancel := hub.Subscribe(homeID, afterID)
		defer cancel()

		_ = conn.WriteJSON(map[string]any{"type": "ready", "resync": resync})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(2*time.Second)); err != nil {
					return
				}
			case evt, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(evt); err != nil {
					slog.Debug("fanout ws write failed", "error", err)
					return
				}
			}
		}
	}
}
