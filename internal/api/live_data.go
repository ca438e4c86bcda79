package api

import (
	"context"

	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/record"
	"github.com/snarg/scribe-engine/internal/transcribe"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// LiveDataSource provides real-time data from the ingest hub to the API layer.
// The hub implements it; api owns the interface so there is no import cycle.
type LiveDataSource interface {
	// Subscribe returns a channel that receives SSE events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent

	// WatcherStatus returns the watch-folder status, or nil if not active.
	WatcherStatus() *WatcherStatusData
}

// JobQueue accepts transcription requests. *transcribe.WorkerPool satisfies it.
type JobQueue interface {
	Submit(req transcribe.Request, source string) (string, error)
	Get(id string) (transcribe.JobStatus, bool)
	Stats() transcribe.QueueStats
}

// TranscriptArchive reads archived transcripts. *database.DB satisfies it.
type TranscriptArchive interface {
	ListTranscripts(ctx context.Context, f database.TranscriptFilter) ([]database.TranscriptSummary, int, error)
	GetTranscript(ctx context.Context, id int64) (*transcript.Transcript, error)
	HealthCheck(ctx context.Context) error
}

// Recorder controls the live capture session. *ingest.RecordingController
// satisfies it.
type Recorder interface {
	Start(ctx context.Context, req RecordingRequest) error
	Stop(ctx context.Context) (RecordingResult, error)
	Status() record.Status
}

// RecordingRequest starts a recording. Empty fields use the configured
// device and format.
type RecordingRequest struct {
	Device     string `json:"device,omitempty"`
	Format     string `json:"format,omitempty"`
	Transcribe *bool  `json:"transcribe,omitempty"`
}

// RecordingResult describes a saved recording.
type RecordingResult struct {
	Path  string `json:"path"`
	JobID string `json:"job_id,omitempty"` // set when the recording was queued for transcription
}

// WatcherStatusData represents the status of the watch-folder intake.
type WatcherStatusData struct {
	Status        string `json:"status"` // "watching", "backfilling", "stopped"
	WatchDir      string `json:"watch_dir"`
	FilesQueued   int64  `json:"files_queued"`
	FilesSkipped  int64  `json:"files_skipped"`
	FilesRejected int64  `json:"files_rejected"`
}

// EventFilter specifies which events an SSE subscriber wants to receive.
type EventFilter struct {
	Types []string
	Jobs  []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	SubType   string `json:"sub_type,omitempty"`
	Timestamp string `json:"timestamp"`
	JobID     string `json:"job_id,omitempty"`
	Data      []byte `json:"-"` // pre-serialized JSON payload
}
