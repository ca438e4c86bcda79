package api

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/record"
	"github.com/snarg/scribe-engine/internal/transcribe"
	"github.com/snarg/scribe-engine/internal/transcript"
)

type fakeJobs struct {
	mu        sync.Mutex
	err       error
	submitted []transcribe.Request
	statuses  map[string]transcribe.JobStatus
	stats     transcribe.QueueStats
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		statuses: make(map[string]transcribe.JobStatus),
		stats:    transcribe.QueueStats{Workers: 2, Capacity: 10},
	}
}

func (f *fakeJobs) Submit(req transcribe.Request, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, req)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	f.statuses[id] = transcribe.JobStatus{ID: id, Source: source, State: transcribe.JobQueued, AudioPath: req.AudioPath}
	return id, nil
}

func (f *fakeJobs) Get(id string) (transcribe.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	return st, ok
}

func (f *fakeJobs) Stats() transcribe.QueueStats { return f.stats }

type fakeArchive struct {
	transcripts map[int64]*transcript.Transcript
	lastFilter  database.TranscriptFilter
	healthErr   error
}

func (f *fakeArchive) ListTranscripts(ctx context.Context, filter database.TranscriptFilter) ([]database.TranscriptSummary, int, error) {
	f.lastFilter = filter
	var out []database.TranscriptSummary
	for id, t := range f.transcripts {
		out = append(out, database.TranscriptSummary{ID: id, Source: t.Source, Language: t.Language})
	}
	return out, len(out), nil
}

func (f *fakeArchive) GetTranscript(ctx context.Context, id int64) (*transcript.Transcript, error) {
	t, ok := f.transcripts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return t, nil
}

func (f *fakeArchive) HealthCheck(ctx context.Context) error { return f.healthErr }

type fakeRecorder struct {
	startErr error
	stopErr  error
	result   RecordingResult
	lastReq  RecordingRequest
	state    string
}

func (f *fakeRecorder) Start(ctx context.Context, req RecordingRequest) error {
	f.lastReq = req
	if f.startErr != nil {
		return f.startErr
	}
	f.state = "recording"
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context) (RecordingResult, error) {
	if f.stopErr != nil {
		return RecordingResult{}, f.stopErr
	}
	f.state = "idle"
	return f.result, nil
}

func (f *fakeRecorder) Status() record.Status {
	if f.state == "" {
		return record.Status{State: "idle"}
	}
	return record.Status{State: f.state, Device: f.lastReq.Device}
}

type fakeDevices struct {
	list []record.DeviceInfo
	err  error
}

func (f fakeDevices) List(ctx context.Context) ([]record.DeviceInfo, error) { return f.list, f.err }

type fakeLive struct {
	replay  []SSEEvent
	ch      chan SSEEvent
	watcher *WatcherStatusData

	mu         sync.Mutex
	lastFilter EventFilter
	lastID     string
}

func (f *fakeLive) Subscribe(filter EventFilter) (<-chan SSEEvent, func()) {
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()
	return f.ch, func() {}
}

func (f *fakeLive) ReplaySince(lastEventID string, filter EventFilter) []SSEEvent {
	f.mu.Lock()
	f.lastID = lastEventID
	f.mu.Unlock()
	return f.replay
}

func (f *fakeLive) WatcherStatus() *WatcherStatusData { return f.watcher }

type fakeOutputs map[string]string

func (f fakeOutputs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s, ok := f[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

// URL links keys under "remote/" to a bucket, like an evicted tiered file.
func (f fakeOutputs) URL(ctx context.Context, key string) (string, error) {
	if strings.HasPrefix(key, "remote/") {
		return "https://bucket.example/" + key, nil
	}
	return "", nil
}

type fakeMQTT bool

func (f fakeMQTT) IsConnected() bool { return bool(f) }

func testConfig() *config.Config {
	return &config.Config{MaxUploadMB: 1}
}

func testOptions() ServerOptions {
	return ServerOptions{
		Config:    testConfig(),
		Jobs:      newFakeJobs(),
		Version:   "test",
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	}
}
