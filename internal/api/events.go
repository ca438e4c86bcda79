package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const (
	sseKeepalive = 15 * time.Second
	sseRetryMs   = 3000
)

// EventsHandler streams job, recording and watcher events as server-sent
// events.
type EventsHandler struct {
	live LiveDataSource
}

func NewEventsHandler(live LiveDataSource) *EventsHandler {
	return &EventsHandler{live: live}
}

func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}

// StreamEvents replays anything after Last-Event-ID (header, or the
// last_event_id query parameter for clients that cannot set headers) and
// then follows the live feed until the client goes away.
//
// Filters: ?types=job_completed,recording:saved and ?jobs=<id>,<id>.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := EventFilter{Types: QueryStringList(r, "types"), Jobs: QueryStringList(r, "jobs")}
	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID, _ = QueryString(r, "last_event_id")
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMs)
	// ids sent during replay that may also be queued on ch
	var replayed map[string]bool
	if lastID != "" {
		events := h.live.ReplaySince(lastID, filter)
		replayed = make(map[string]bool, len(events))
		for _, e := range events {
			writeEvent(w, e)
			replayed[e.ID] = true
		}
	}
	flusher.Flush()

	log := hlog.FromRequest(r)
	log.Debug().Str("last_event_id", lastID).Strs("types", filter.Types).Msg("event stream opened")
	defer log.Debug().Msg("event stream closed")

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if replayed[e.ID] {
				delete(replayed, e.ID)
				continue
			}
			writeEvent(w, e)
			flusher.Flush()
		case <-keepalive.C:
			io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeEvent frames one event. Events with a sub-type are named
// "type:subtype" so clients can listen for a single kind.
func writeEvent(w io.Writer, e SSEEvent) {
	name := e.Type
	if e.SubType != "" {
		name += ":" + e.SubType
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, name, e.Data)
}
