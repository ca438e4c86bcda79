// Package ingest collects transcription work from MQTT and the watch folder
// and fans job and recording events out to SSE subscribers and the broker.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Submitter queues transcription requests. *transcribe.WorkerPool satisfies it.
type Submitter interface {
	Submit(req transcribe.Request, source string) (string, error)
}

// Publisher forwards events to the broker. *mqttclient.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// forwarded lists the event types that are also published to MQTT.
var forwarded = map[string]bool{
	"job_completed":         true,
	"job_failed":            true,
	"job_rejected":          true,
	"recording:saved":       true,
	"recording:interrupted": true,
}

// HubOptions configures a Hub.
type HubOptions struct {
	Jobs       Submitter
	Defaults   transcribe.Defaults
	EventTopic string // MQTT topic prefix for outgoing events; empty disables forwarding
	RingSize   int    // SSE replay buffer, default 1024
	Log        zerolog.Logger
}

// Hub routes incoming MQTT messages and watch-folder files into the job
// queue, and distributes job and recording events.
type Hub struct {
	jobs       Submitter
	defaults   transcribe.Defaults
	eventTopic string
	eventBus   *EventBus
	log        zerolog.Logger

	mu        sync.RWMutex
	publisher Publisher
	recorder  api.Recorder
	watcher   *FileWatcher

	// job id → request_id from the originating MQTT message
	requestIDs sync.Map

	ctx    context.Context
	cancel context.CancelFunc

	msgCount     atomic.Int64
	handlerCount sync.Map // handler name → *atomic.Int64
}

// NewHub creates a hub. Jobs is required.
func NewHub(opts HubOptions) *Hub {
	if opts.RingSize <= 0 {
		opts.RingSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		jobs:       opts.Jobs,
		defaults:   opts.Defaults,
		eventTopic: opts.EventTopic,
		eventBus:   NewEventBus(opts.RingSize),
		log:        opts.Log.With().Str("component", "ingest").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins periodic stats logging.
func (h *Hub) Start() {
	go h.statsLoop()
	h.log.Info().Msg("ingest hub started")
}

// Stop stops the watcher, if any, and the stats loop.
func (h *Hub) Stop() {
	h.mu.RLock()
	w := h.watcher
	h.mu.RUnlock()
	if w != nil {
		w.Stop()
	}
	h.cancel()
	h.log.Info().Int64("total_messages", h.msgCount.Load()).Msg("ingest hub stopped")
}

// SetPublisher enables forwarding of finished-job and recording events to
// the broker.
func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

// SetRecorder enables recording control over MQTT.
func (h *Hub) SetRecorder(r api.Recorder) {
	h.mu.Lock()
	h.recorder = r
	h.mu.Unlock()
}

// StartWatcher begins watching dir for new audio files. With backfill,
// audio already in the directory is queued too.
func (h *Hub) StartWatcher(dir string, backfill bool) error {
	fw := newFileWatcher(h, dir, backfill)
	if err := fw.Start(); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	h.mu.Lock()
	h.watcher = fw
	h.mu.Unlock()
	return nil
}

func (h *Hub) statsLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	var lastTotal int64
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			total := h.msgCount.Load()
			delta := total - lastTotal
			lastTotal = total
			if delta == 0 {
				continue
			}

			evt := h.log.Info().
				Int64("total", total).
				Int64("last_60s", delta).
				Int("sse_subscribers", h.eventBus.SubscriberCount())

			h.handlerCount.Range(func(key, value any) bool {
				evt = evt.Int64(key.(string), value.(*atomic.Int64).Load())
				return true
			})

			evt.Msg("stats")
		}
	}
}

// HandleMessage is the MQTT message callback.
func (h *Hub) HandleMessage(topic string, payload []byte) {
	h.msgCount.Add(1)
	metrics.MQTTMessagesTotal.Inc()

	route, ok := ParseTopic(topic)
	if !ok {
		h.log.Warn().Str("topic", topic).Msg("unknown topic, skipping")
		return
	}
	h.incHandler(route.Handler)

	var err error
	switch route.Handler {
	case "job":
		err = h.handleJob(payload)
	case "recording":
		err = h.handleRecording(route.Action, payload)
	default:
		h.log.Warn().Str("handler", route.Handler).Msg("no handler for route")
		return
	}

	if err != nil {
		h.log.Error().Err(err).
			Str("handler", route.Handler).
			Str("topic", topic).
			Msg("handler error")
	}
}

func (h *Hub) incHandler(name string) {
	v, _ := h.handlerCount.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

func (h *Hub) handleJob(payload []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.reject(msg, err)
		return fmt.Errorf("decode job message: %w", err)
	}
	req, err := msg.Request(h.defaults)
	if err != nil {
		h.reject(msg, err)
		return fmt.Errorf("job message: %w", err)
	}
	id, err := h.jobs.Submit(req, "mqtt")
	if err != nil {
		h.reject(msg, err)
		return fmt.Errorf("submit %s: %w", req.AudioPath, err)
	}
	if msg.RequestID != "" {
		h.requestIDs.Store(id, msg.RequestID)
	}
	h.log.Debug().Str("job_id", id).Str("audio", req.AudioPath).Msg("mqtt job queued")
	return nil
}

func (h *Hub) reject(msg JobMessage, err error) {
	payload := map[string]any{
		"audio_path": msg.AudioPath,
		"error":      err.Error(),
	}
	if msg.RequestID != "" {
		payload["request_id"] = msg.RequestID
	}
	h.PublishEvent("job_rejected", payload)
}

func (h *Hub) handleRecording(action string, payload []byte) error {
	h.mu.RLock()
	rec := h.recorder
	h.mu.RUnlock()
	if rec == nil {
		return fmt.Errorf("recording %s: no recorder configured", action)
	}

	switch action {
	case "start":
		var req api.RecordingRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode recording request: %w", err)
			}
		}
		return rec.Start(h.ctx, req)
	case "stop":
		_, err := rec.Stop(h.ctx)
		return err
	}
	return fmt.Errorf("unknown recording action %q", action)
}

// PublishEvent publishes a job event. It satisfies transcribe.EventPublishFunc;
// the job id is taken from payload["job_id"].
func (h *Hub) PublishEvent(eventType string, payload map[string]any) {
	jobID, _ := payload["job_id"].(string)
	if jobID != "" {
		if rid, ok := h.requestIDs.Load(jobID); ok {
			payload["request_id"] = rid
			if eventType == "job_completed" || eventType == "job_failed" {
				h.requestIDs.Delete(jobID)
			}
		}
	}
	h.Publish(EventData{Type: eventType, JobID: jobID, Payload: payload})
}

// Publish sends an event to SSE subscribers and, for finished jobs and
// recordings, to the broker.
func (h *Hub) Publish(e EventData) {
	event, err := h.eventBus.Publish(e)
	if err != nil {
		h.log.Warn().Err(err).Msg("event dropped")
		return
	}
	metrics.SSEEventsPublishedTotal.Inc()

	key := e.Type
	if e.SubType != "" {
		key += ":" + e.SubType
	}
	if !forwarded[key] || h.eventTopic == "" {
		return
	}
	h.mu.RLock()
	pub := h.publisher
	h.mu.RUnlock()
	if pub == nil {
		return
	}
	topic := h.eventTopic + "/" + e.Type
	if e.SubType != "" {
		topic += "/" + e.SubType
	}
	if err := pub.Publish(topic, event.Data); err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("mqtt event publish failed")
	}
}

// Subscribe implements api.LiveDataSource.
func (h *Hub) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	return h.eventBus.Subscribe(filter)
}

// ReplaySince implements api.LiveDataSource.
func (h *Hub) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	return h.eventBus.ReplaySince(lastEventID, filter)
}

// WatcherStatus implements api.LiveDataSource.
func (h *Hub) WatcherStatus() *api.WatcherStatusData {
	h.mu.RLock()
	w := h.watcher
	h.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.Status()
}

// SSESubscriberCount reports connected SSE clients for metrics.
func (h *Hub) SSESubscriberCount() int {
	return h.eventBus.SubscriberCount()
}

// Recording reports whether a recording is in progress, for metrics.
func (h *Hub) Recording() bool {
	h.mu.RLock()
	rec := h.recorder
	h.mu.RUnlock()
	return rec != nil && rec.Status().State == "recording"
}
