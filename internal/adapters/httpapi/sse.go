// Package httpapi holds the one HTTP surface this service exposes: the
// SSE stream that lets a client watch a single request's progress. The
// general request/response API is an explicit non-goal.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/services"
)

type SSEHandler struct {
	registry *services.Registry
	logger   *slog.Logger
}

func NewSSEHandler(registry *services.Registry, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{registry: registry, logger: logger}
}

// ServeHTTP streams events for the request id in the path
// (/v1/requests/{id}/events), bypassing any router so the raw Flusher is
// reachable without middleware buffering the response.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var requestID string
	if len(parts) >= 3 {
		requestID = parts[2] // v1/requests/{id}/events -> index 2
	}
	if requestID == "" {
		http.Error(w, "missing request id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ch, unsub, err := h.registry.Subscribe(ctx, domain.RequestID(requestID))
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			fmt.Fprintf(w, "event: %s\ndata: {\"message\":\"request not found\"}\n\n", domain.EventError)
			flusher.Flush()
			return
		}
		h.logger.Error("subscribe to request events", "request_id", requestID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				h.logger.Error("marshal event data", "request_id", requestID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.EventType, data)
			flusher.Flush()
		}
	}
}
