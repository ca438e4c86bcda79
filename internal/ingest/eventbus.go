package ingest

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/metrics"
)

// subscriberBuffer is how many events a slow SSE client may lag before
// events are dropped for it.
const subscriberBuffer = 64

// EventBus fans events out to SSE subscribers and keeps the most recent
// ones for Last-Event-ID replay. Event ids are a decimal sequence starting
// at 1, so the event with sequence n lives in ring slot n % len(ring).
type EventBus struct {
	mu   sync.Mutex
	seq  uint64
	ring []api.SSEEvent
	subs map[*busSub]struct{}
}

type busSub struct {
	ch     chan api.SSEEvent
	filter api.EventFilter
}

// EventData is an event before it is sequenced and serialized.
type EventData struct {
	Type    string
	SubType string
	JobID   string
	Payload any
}

// NewEventBus creates a bus that retains the last ringSize events.
func NewEventBus(ringSize int) *EventBus {
	return &EventBus{
		ring: make([]api.SSEEvent, max(ringSize, 1)),
		subs: make(map[*busSub]struct{}),
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and may be called more than once.
func (eb *EventBus) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	s := &busSub{ch: make(chan api.SSEEvent, subscriberBuffer), filter: filter}
	eb.mu.Lock()
	eb.subs[s] = struct{}{}
	eb.mu.Unlock()

	return s.ch, func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := eb.subs[s]; ok {
			delete(eb.subs, s)
			close(s.ch)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.subs)
}

// Publish sequences the event, stores it for replay and delivers it to
// matching subscribers without blocking. Delivery happens under the bus
// lock so every subscriber sees events in id order.
func (eb *EventBus) Publish(e EventData) (api.SSEEvent, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return api.SSEEvent{}, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.seq++
	ev := api.SSEEvent{
		ID:        strconv.FormatUint(eb.seq, 10),
		Type:      e.Type,
		SubType:   e.SubType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		JobID:     e.JobID,
		Data:      data,
	}
	eb.ring[eb.seq%uint64(len(eb.ring))] = ev

	for s := range eb.subs {
		if !matchesFilter(ev, s.filter) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.SSEEventsDroppedTotal.Inc()
		}
	}
	return ev, nil
}

// ReplaySince returns buffered events after lastEventID that match filter.
// An id that is unparseable, already evicted or from before a restart
// replays everything still buffered, so a reconnecting client sees a
// duplicate rather than a gap.
func (eb *EventBus) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	size := uint64(len(eb.ring))
	oldest := uint64(1)
	if eb.seq > size {
		oldest = eb.seq - size + 1
	}
	from := oldest
	if last, err := strconv.ParseUint(lastEventID, 10, 64); err == nil && last >= oldest && last <= eb.seq {
		from = last + 1
	}

	var out []api.SSEEvent
	for n := from; n <= eb.seq; n++ {
		if ev := eb.ring[n%size]; matchesFilter(ev, filter) {
			out = append(out, ev)
		}
	}
	return out
}

// matchesFilter applies the type and job filters. A type entry of the form
// "type:subtype" matches only that subtype. Events with no job id, such as
// recording and watcher events, pass the job filter.
func matchesFilter(e api.SSEEvent, f api.EventFilter) bool {
	if len(f.Types) > 0 && !slices.ContainsFunc(f.Types, func(t string) bool {
		base, sub, compound := strings.Cut(strings.TrimSpace(t), ":")
		return base == e.Type && (!compound || sub == e.SubType)
	}) {
		return false
	}
	return len(f.Jobs) == 0 || e.JobID == "" || slices.Contains(f.Jobs, e.JobID)
}
