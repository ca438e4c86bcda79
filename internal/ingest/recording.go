package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/record"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// levelInterval throttles recording level events on the SSE stream.
const levelInterval = 250 * time.Millisecond

// Session is the capture session a RecordingController drives.
// *record.Session satisfies it.
type Session interface {
	Start(ctx context.Context, opts record.Options) error
	Stop(ctx context.Context) (string, error)
	Status() record.Status
}

// Uploader copies finished recordings to remote storage in the background.
// *storage.AsyncUploader satisfies it.
type Uploader interface {
	EnqueueFile(key, path string)
}

// RecordingOptions configures a RecordingController.
type RecordingOptions struct {
	Session    Session
	Hub        *Hub
	Defaults   record.Options // device, rate, channels and format used when a request leaves them empty
	Transcribe bool           // queue saved recordings for transcription unless the request says otherwise
	Uploader   Uploader       // nil disables remote backup
	Log        zerolog.Logger
}

// RecordingController wraps a capture session with the work that follows a
// saved recording: events, remote backup and transcription.
type RecordingController struct {
	session    Session
	hub        *Hub
	defaults   record.Options
	transcribe bool
	uploader   Uploader
	log        zerolog.Logger

	// transcription choice for the recording in progress
	pendingTranscribe atomic.Bool
	lastLevel         atomic.Int64 // unix nanos of the last level event
}

// NewRecordingController creates a controller. Session and Hub are required.
func NewRecordingController(opts RecordingOptions) *RecordingController {
	return &RecordingController{
		session:    opts.Session,
		hub:        opts.Hub,
		defaults:   opts.Defaults,
		transcribe: opts.Transcribe,
		uploader:   opts.Uploader,
		log:        opts.Log.With().Str("component", "recording").Logger(),
	}
}

// Start begins a recording. It implements api.Recorder.
func (c *RecordingController) Start(ctx context.Context, req api.RecordingRequest) error {
	opts := c.defaults
	if req.Device != "" {
		opts.DeviceID = req.Device
	}
	if req.Format != "" {
		opts.Format = req.Format
	}
	opts.OnLevel = c.onLevel
	opts.OnInterrupted = c.onInterrupted

	auto := c.transcribe
	if req.Transcribe != nil {
		auto = *req.Transcribe
	}

	if err := c.session.Start(ctx, opts); err != nil {
		return err
	}
	c.pendingTranscribe.Store(auto)
	c.hub.Publish(EventData{Type: "recording", SubType: "started", Payload: map[string]any{
		"device":     opts.DeviceID,
		"format":     opts.Format,
		"transcribe": auto,
	}})
	return nil
}

// Stop ends the recording and handles the saved file. It implements
// api.Recorder.
func (c *RecordingController) Stop(ctx context.Context) (api.RecordingResult, error) {
	path, err := c.session.Stop(ctx)
	metrics.RecordingLevel.Set(0)
	if errors.Is(err, record.ErrNoAudio) {
		metrics.RecordingsTotal.WithLabelValues("empty").Inc()
		c.hub.Publish(EventData{Type: "recording", SubType: "empty", Payload: map[string]any{}})
		return api.RecordingResult{}, err
	}
	if err != nil {
		return api.RecordingResult{}, err
	}
	metrics.RecordingsTotal.WithLabelValues("saved").Inc()
	return c.saved(path, "saved", nil), nil
}

// Status implements api.Recorder.
func (c *RecordingController) Status() record.Status {
	return c.session.Status()
}

// onLevel runs on the capture goroutine and must not block.
func (c *RecordingController) onLevel(level float64) {
	metrics.RecordingLevel.Set(level)
	now := time.Now().UnixNano()
	last := c.lastLevel.Load()
	if now-last < int64(levelInterval) || !c.lastLevel.CompareAndSwap(last, now) {
		return
	}
	c.hub.Publish(EventData{Type: "recording", SubType: "level", Payload: map[string]any{"level": level}})
}

func (c *RecordingController) onInterrupted(path string, err error) {
	metrics.RecordingLevel.Set(0)
	metrics.RecordingsTotal.WithLabelValues("interrupted").Inc()
	if path == "" {
		c.hub.Publish(EventData{Type: "recording", SubType: "interrupted", Payload: map[string]any{
			"error": err.Error(),
		}})
		return
	}
	c.saved(path, "interrupted", err)
}

// saved backs up the recording, queues it for transcription when asked,
// and announces it.
func (c *RecordingController) saved(path, subType string, cause error) api.RecordingResult {
	res := api.RecordingResult{Path: path}

	if c.uploader != nil {
		c.uploader.EnqueueFile("recordings/"+filepath.Base(path), path)
	}

	if c.pendingTranscribe.Load() {
		req := c.hub.defaults.Fill(transcribe.Request{AudioPath: path}, nil)
		id, err := c.hub.jobs.Submit(req, "recording")
		if err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("failed to queue recording for transcription")
		} else {
			res.JobID = id
		}
	}

	payload := map[string]any{"path": path}
	if res.JobID != "" {
		payload["job_id"] = res.JobID
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	c.hub.Publish(EventData{Type: "recording", SubType: subType, JobID: res.JobID, Payload: payload})
	return res
}
