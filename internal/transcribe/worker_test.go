package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/errs"
	"github.com/snarg/scribe-engine/internal/transcript"
)

type fakeRunner struct {
	err   error
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{
		Transcript:  &transcript.Transcript{Language: "en"},
		Outputs:     []transcript.Output{{Format: transcript.FormatTXT, Key: "a.txt"}},
		Diarization: "none",
	}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) publish(eventType string, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func newTestPool(workers, queueSize int) *WorkerPool {
	return NewWorkerPool(WorkerPoolOptions{
		Runner:    &fakeRunner{},
		Workers:   workers,
		QueueSize: queueSize,
		Log:       zerolog.Nop(),
	})
}

func waitState(t *testing.T, wp *WorkerPool, id string, want JobState) JobStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := wp.Get(id); ok && st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := wp.Get(id)
	t.Fatalf("job %s state = %q, want %q", id, st.State, want)
	return st
}

func TestNewWorkerPool(t *testing.T) {
	wp := newTestPool(4, 100)
	if wp == nil {
		t.Fatal("NewWorkerPool returned nil")
	}
	if cap(wp.jobs) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(wp.jobs))
	}
}

func TestWorkerPool_EnqueueBeforeStart(t *testing.T) {
	wp := newTestPool(2, 5)
	// Enqueue should work even before Start(); it just buffers
	if !wp.Enqueue(Job{Request: Request{AudioPath: "a.wav"}}) {
		t.Error("Enqueue should return true when queue has space")
	}
}

func TestWorkerPool_EnqueueFull(t *testing.T) {
	wp := newTestPool(0, 2) // 0 workers = nobody draining

	wp.Enqueue(Job{})
	wp.Enqueue(Job{})

	if wp.Enqueue(Job{}) {
		t.Error("Enqueue should return false when queue is full")
	}
	if _, err := wp.Submit(Request{}, "api"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit err = %v, want ErrQueueFull", err)
	}
}

func TestWorkerPool_EnqueueAfterStop(t *testing.T) {
	wp := newTestPool(1, 10)
	wp.Start()
	wp.Stop()

	if wp.Enqueue(Job{}) {
		t.Error("Enqueue should return false after Stop()")
	}
	if _, err := wp.Submit(Request{}, "api"); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit err = %v, want ErrPoolStopped", err)
	}
	wp.Stop() // second Stop is a no-op
}

func TestWorkerPool_Stats(t *testing.T) {
	wp := newTestPool(0, 10) // 0 workers so nothing drains

	wp.Enqueue(Job{})
	wp.Enqueue(Job{})

	stats := wp.Stats()
	if stats.Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats.Pending)
	}
	if stats.Completed != 0 {
		t.Errorf("Completed = %d, want 0", stats.Completed)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}
	if stats.Capacity != 10 {
		t.Errorf("Capacity = %d, want 10", stats.Capacity)
	}
}

func TestWorkerPool_JobLifecycle(t *testing.T) {
	events := &eventLog{}
	runner := &fakeRunner{block: make(chan struct{})}
	wp := NewWorkerPool(WorkerPoolOptions{
		Runner:       runner,
		Workers:      1,
		QueueSize:    4,
		PublishEvent: events.publish,
		Log:          zerolog.Nop(),
	})
	wp.Start()
	defer wp.Stop()

	id, err := wp.Submit(Request{AudioPath: "talk.wav"}, "api")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("job id %q is not a uuid", id)
	}

	waitState(t, wp, id, JobRunning)
	if wp.Running() != 1 {
		t.Errorf("Running = %d, want 1", wp.Running())
	}
	close(runner.block)

	st := waitState(t, wp, id, JobDone)
	if len(st.Outputs) != 1 || st.Outputs[0].Key != "a.txt" {
		t.Errorf("Outputs = %+v", st.Outputs)
	}
	if st.StartedAt == nil || st.FinishedAt == nil {
		t.Error("timestamps not set")
	}
	if st.Source != "api" || st.AudioPath != "talk.wav" {
		t.Errorf("status = %+v", st)
	}

	// job_queued and job_started may interleave; completion is always last.
	got := events.list()
	for deadline := time.Now().Add(2 * time.Second); len(got) < 3 && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
		got = events.list()
	}
	if len(got) != 3 || got[2] != "job_completed" {
		t.Fatalf("events = %v, want queued, started, completed", got)
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	if !seen["job_queued"] || !seen["job_started"] {
		t.Errorf("events = %v, missing queued or started", got)
	}
}

func TestWorkerPool_FailedJob(t *testing.T) {
	wp := NewWorkerPool(WorkerPoolOptions{
		Runner:    &fakeRunner{err: errs.Engine("speech", "x.wav", ErrModelLoad)},
		Workers:   1,
		QueueSize: 1,
		Log:       zerolog.Nop(),
	})
	wp.Start()

	id, _ := wp.Submit(Request{AudioPath: "x.wav"}, "mqtt")
	st := waitState(t, wp, id, JobFailed)
	wp.Stop()

	if st.ErrorKind != "engine" {
		t.Errorf("ErrorKind = %q, want engine", st.ErrorKind)
	}
	if st.Error == "" {
		t.Error("Error is empty")
	}
	if wp.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", wp.Stats().Failed)
	}
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	wp := newTestPool(1, 10)
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := wp.Submit(Request{}, "watch")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	wp.Start()
	wp.Stop()

	if got := wp.Stats().Completed; got != 5 {
		t.Errorf("Completed = %d, want 5", got)
	}
	for _, id := range ids {
		if st, _ := wp.Get(id); st.State != JobDone {
			t.Errorf("job %s state = %q, want done", id, st.State)
		}
	}
}

func TestWorkerPool_HistoryEviction(t *testing.T) {
	wp := NewWorkerPool(WorkerPoolOptions{
		Runner:     &fakeRunner{},
		Workers:    1,
		QueueSize:  10,
		MaxHistory: 2,
		Log:        zerolog.Nop(),
	})
	first, _ := wp.Submit(Request{}, "api")
	wp.Start()
	waitState(t, wp, first, JobDone)

	wp.Submit(Request{}, "api")
	wp.Submit(Request{}, "api")
	wp.Stop()

	if _, ok := wp.Get(first); ok {
		t.Error("oldest finished job should have been evicted")
	}
}

func TestWorkerPool_GetUnknown(t *testing.T) {
	wp := newTestPool(0, 1)
	if _, ok := wp.Get("missing"); ok {
		t.Error("Get should report unknown ids")
	}
}
