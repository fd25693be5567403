package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
)

// handleEvents streams one home's fan-out as SSE (§4.F). Last-Event-ID
// resumes from the replay buffer; a resync tells the client its
// cursor fell outside the retained window and it must refetch
// snapshots before continuing to consume the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	homeIDStr := r.URL.Query().Get("homeId")
	homeID, err := strconv.ParseUint(homeIDStr, 10, 64)
	if err != nil {
		apierr.Write(w, apierr.ValidationErr("homeId query parameter is required"))
		return
	}

	var afterID int64
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		if v, err := strconv.ParseInt(lastID, 10, 64); err == nil {
			afterID = v
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.Write(w, apierr.InternalErr("streaming unsupported", nil))
		return
	}

	ch, resync, cancel := s.hub.Subscribe(homeID, afterID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if resync {
		fmt.Fprintf(w, "event: resync\ndata: {}\n\n")
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, b)
			flusher.Flush()
		}
	}
}
