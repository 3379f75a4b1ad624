package server

import (
	"net/http"
	"time"

	"github.com/alphahunt-ai/alphahunt/internal/broker"
)

// keepAliveInterval paces SSE comment lines so intermediaries don't reap an
// idle stream.
const keepAliveInterval = 30 * time.Second

// handleStream streams round-progress events as Server-Sent Events until the
// client disconnects. Events a slow client cannot drain are dropped by the
// broker, never queued unboundedly.
func (h *handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Lift the server write deadline: this response is intentionally
	// long-lived.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("sse: clearing write deadline failed", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	h.logger.Debug("sse: subscriber connected",
		"request_id", RequestIDFromContext(r.Context()))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			msg := broker.FormatSSE(ev)
			if msg == nil {
				continue
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
