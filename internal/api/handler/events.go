package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/api/middleware"
	"github.com/cyclick/cyclick/internal/notify"
)

// EventSource delivers notification events to subscribers.
type EventSource interface {
	Subscribe(name string, h notify.Handler) (unsubscribe func())
}

// EventsHandler streams notification events as server-sent events.
type EventsHandler struct {
	source    EventSource
	logger    zerolog.Logger
	heartbeat time.Duration
	buffer    int
}

// NewEventsHandler creates an EventsHandler. A heartbeat comment is written
// every heartbeat interval to keep proxies from closing idle streams.
func NewEventsHandler(source EventSource, logger zerolog.Logger, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{source: source, logger: logger, heartbeat: heartbeat, buffer: 16}
}

// Stream handles GET /v1/events. Only events for the caller's wallet are
// delivered.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	wallet := middleware.GetWallet(r.Context())

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{}) //nolint:errcheck // unsupported by some writers

	events := make(chan notify.Event, h.buffer)
	unsubscribe := h.source.Subscribe("sse:"+r.RemoteAddr, func(e notify.Event) {
		if e.Wallet != wallet {
			return
		}
		select {
		case events <- e:
		default:
			h.logger.Warn().Str("event_id", e.ID).Msg("sse client too slow, dropping event")
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error().Err(err).Msg("response writer cannot stream")
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case e := <-events:
			if err := writeEvent(w, e); err != nil {
				h.logger.Debug().Err(err).Msg("sse write failed")
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e notify.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Kind, data)
	return err
}
