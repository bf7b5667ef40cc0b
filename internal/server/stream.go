package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
)

const (
	streamBuffer      = 64
	heartbeatInterval = 15 * time.Second
)

// stream pushes tracker changes as server-sent events. A snapshot of the
// current entries goes first, then live events until the client leaves.
func (h *SessionsHandler) stream(c echo.Context) error {
	s, err := h.lookup(c)
	if err != nil {
		return err
	}
	tracker := s.Orchestrator.Tracker()
	events, cancel := tracker.Subscribe(streamBuffer)
	defer cancel()

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for _, entry := range tracker.Entries() {
		if err := writeEvent(resp, status.Event{Kind: status.EventUpserted, Entry: entry}); err != nil {
			return nil
		}
	}
	flusher.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, ev); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev status.Event) error {
	var payload []byte
	var err error
	if ev.Kind == status.EventCleared {
		payload = []byte("{}")
	} else {
		payload, err = json.Marshal(ev.Entry)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
	return err
}
