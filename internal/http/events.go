package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"broadcaster/internal/sse"
)

// handleEvents streams campaign progress, logs, countdown and send outcomes.
// The current state is sent first so a client never starts blank.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := a.Hub.Subscribe(sse.CampaignTopic)
	defer unsub()

	_, _ = fmt.Fprintf(w, ": connected\n\n")
	if b, err := json.Marshal(a.Campaign.Status()); err == nil {
		_, _ = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", b)
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
