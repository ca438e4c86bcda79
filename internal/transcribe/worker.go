package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/errs"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcript"
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no space.
	ErrQueueFull = errors.New("transcription queue full")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Runner executes one transcription request. *Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Job is a queued transcription request.
type Job struct {
	ID      string
	Source  string // "api", "mqtt", "watch"
	Request Request
	Created time.Time
}

// JobState is the lifecycle position of a job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	ID           string              `json:"id"`
	Source       string              `json:"source"`
	State        JobState            `json:"state"`
	AudioPath    string              `json:"audio_path"`
	Diarization  string              `json:"diarization,omitempty"`
	Degraded     bool                `json:"degraded,omitempty"`
	Outputs      []transcript.Output `json:"outputs,omitempty"`
	TranscriptID int64               `json:"transcript_id,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
}

// EventPublishFunc is a callback for publishing job events.
type EventPublishFunc func(eventType string, payload map[string]any)

// WorkerPoolOptions configures the transcription worker pool.
type WorkerPoolOptions struct {
	Runner       Runner
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration // 0 means no limit
	MaxHistory   int           // finished statuses kept for Get; default 1000
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// WorkerPool runs queued transcription jobs on a fixed number of workers.
type WorkerPool struct {
	jobs   chan Job
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards statuses, order and the send side of jobs against Stop.
	mu       sync.Mutex
	statuses map[string]*JobStatus
	order    []string
	stopped  bool

	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new transcription worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 1000
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:     make(chan Job, opts.QueueSize),
		opts:     opts,
		log:      opts.Log.With().Str("component", "worker-pool").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		statuses: make(map[string]*JobStatus),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop stops accepting jobs, lets workers drain the queue, and waits for
// them to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Submit queues req and returns the new job id.
func (wp *WorkerPool) Submit(req Request, source string) (string, error) {
	j := Job{ID: uuid.NewString(), Source: source, Request: req, Created: time.Now().UTC()}
	if err := wp.enqueue(j); err != nil {
		return "", err
	}
	return j.ID, nil
}

// Enqueue adds a job to the queue. Returns false if the queue is full or
// the pool is stopped. A missing job id is generated.
func (wp *WorkerPool) Enqueue(j Job) bool {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Created.IsZero() {
		j.Created = time.Now().UTC()
	}
	return wp.enqueue(j) == nil
}

func (wp *WorkerPool) enqueue(j Job) error {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return ErrPoolStopped
	}
	select {
	case wp.jobs <- j:
	default:
		wp.mu.Unlock()
		return ErrQueueFull
	}
	wp.statuses[j.ID] = &JobStatus{
		ID:        j.ID,
		Source:    j.Source,
		State:     JobQueued,
		AudioPath: j.Request.AudioPath,
		CreatedAt: j.Created,
	}
	wp.order = append(wp.order, j.ID)
	wp.evictLocked()
	wp.mu.Unlock()

	wp.publish("job_queued", map[string]any{
		"job_id":     j.ID,
		"source":     j.Source,
		"audio_path": j.Request.AudioPath,
	})
	return nil
}

// evictLocked drops the oldest finished statuses beyond MaxHistory.
func (wp *WorkerPool) evictLocked() {
	excess := len(wp.order) - wp.opts.MaxHistory
	if excess <= 0 {
		return
	}
	kept := wp.order[:0]
	for _, id := range wp.order {
		st := wp.statuses[id]
		if excess > 0 && (st.State == JobDone || st.State == JobFailed) {
			delete(wp.statuses, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	wp.order = kept
}

// Get returns a snapshot of a job's status.
func (wp *WorkerPool) Get(id string) (JobStatus, bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	st, ok := wp.statuses[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Running:   int(wp.running.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Workers:   wp.opts.Workers,
		Capacity:  cap(wp.jobs),
	}
}

// Pending returns the number of queued jobs.
func (wp *WorkerPool) Pending() int { return len(wp.jobs) }

// Running returns the number of jobs currently being processed.
func (wp *WorkerPool) Running() int { return int(wp.running.Load()) }

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		wp.running.Add(1)
		err := wp.processJob(log, job)
		wp.running.Add(-1)
		if err != nil {
			wp.failed.Add(1)
			metrics.JobsTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).
				Str("job_id", job.ID).
				Str("audio", job.Request.AudioPath).
				Msg("transcription failed")
		} else {
			wp.completed.Add(1)
			metrics.JobsTotal.WithLabelValues("done").Inc()
		}
	}
}

func (wp *WorkerPool) processJob(log zerolog.Logger, job Job) error {
	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}

	now := time.Now().UTC()
	wp.update(job.ID, func(st *JobStatus) {
		st.State = JobRunning
		st.StartedAt = &now
	})
	wp.publish("job_started", map[string]any{"job_id": job.ID})

	res, err := wp.opts.Runner.Run(ctx, job.Request)
	finished := time.Now().UTC()

	// Partial format failures still produce a result; the job is failed
	// but its written outputs stay visible.
	wp.update(job.ID, func(st *JobStatus) {
		st.FinishedAt = &finished
		if res != nil {
			st.Outputs = res.Outputs
			st.Diarization = res.Diarization
			st.Degraded = res.Degraded != nil
			st.TranscriptID = res.TranscriptID
		}
		if err != nil {
			st.State = JobFailed
			st.Error = err.Error()
			if kind := errs.KindOf(err); kind != errs.KindUnknown {
				st.ErrorKind = kind.String()
			}
			return
		}
		st.State = JobDone
	})

	if err != nil {
		wp.publish("job_failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return err
	}

	payload := map[string]any{
		"job_id":      job.ID,
		"source":      job.Source,
		"outputs":     res.Outputs,
		"diarization": res.Diarization,
		"language":    res.Transcript.Language,
		"utterances":  len(res.Transcript.Utterances),
		"speakers":    res.Transcript.Speakers(),
		"elapsed_ms":  res.Elapsed.Milliseconds(),
	}
	if res.TranscriptID > 0 {
		payload["transcript_id"] = res.TranscriptID
	}
	wp.publish("job_completed", payload)

	log.Debug().
		Str("job_id", job.ID).
		Int("outputs", len(res.Outputs)).
		Dur("elapsed", res.Elapsed).
		Msg("job complete")
	return nil
}

func (wp *WorkerPool) update(id string, fn func(*JobStatus)) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if st, ok := wp.statuses[id]; ok {
		fn(st)
	}
}

func (wp *WorkerPool) publish(eventType string, payload map[string]any) {
	if wp.opts.PublishEvent != nil {
		wp.opts.PublishEvent(eventType, payload)
	}
}
