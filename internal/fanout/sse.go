package fanout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ServeSSE is a standalone text/event-stream handler scoped to homeID,
// resuming from the Last-Event-ID header per §4.F. The router's
// GET /events route does not use it (httpapi serves that route with its
// own handler). No library in the retrieved corpus wires
// text/event-stream (grep across the pack found zero matches); this
// handler is intentionally stdlib net/http, the one ambient concern in
// corebroker with no ecosystem library to ground on.
func ServeSSE(hub *Hub, homeID uint64, keepAlive time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var afterID int64
		if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
			if n, err := strconv.ParseInt(lastID, 10, 64); err == nil {
				afterID = n
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ch, resync, cancel := hub.Subscribe(homeID, afterID)
		defer cancel()

		writeSSE(w, "ready", 0, map[string]any{"resync": resync})
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				b, _ := json.Marshal(evt)
				writeSSERaw(w, string(evt.Type), evt.ID, b)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, id int64, data any) {
	b, _ := json.Marshal(data)
	writeSSERaw(w, event, id, b)
}

func writeSSERaw(w http.ResponseWriter, event string, id int64, data []byte) {
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
