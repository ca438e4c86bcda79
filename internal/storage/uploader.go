package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
)

// AsyncUploader copies finished recordings to the remote tier in the
// background. The file is read by the worker, so large recordings are never
// held in memory while queued.
type AsyncUploader struct {
	remote   Remote
	workers  int
	attempts int
	backoff  time.Duration
	ch       chan uploadJob
	quit     chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
}

type uploadJob struct {
	key  string
	path string
}

// NewAsyncUploader creates an uploader with the given worker count and
// queue depth. Each file is tried three times before it is given up on.
func NewAsyncUploader(remote Remote, workers, queue int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		remote:   remote,
		workers:  max(1, workers),
		attempts: 3,
		backoff:  2 * time.Second,
		ch:       make(chan uploadJob, max(1, queue)),
		quit:     make(chan struct{}),
		log:      log.With().Str("component", "async-uploader").Logger(),
	}
}

// EnqueueFile schedules path for upload under key. It never blocks; when the
// queue is full or the uploader stopped the file stays on local disk only.
func (u *AsyncUploader) EnqueueFile(key, path string) {
	if u.stopped.Load() {
		metrics.UploadsTotal.WithLabelValues("recording", "dropped").Inc()
		return
	}
	select {
	case u.ch <- uploadJob{key: key, path: path}:
	default:
		metrics.UploadsTotal.WithLabelValues("recording", "dropped").Inc()
		u.log.Warn().Str("key", key).Msg("upload queue full, file kept on local disk only")
	}
}

func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("queue", cap(u.ch)).Msg("async uploader started")
}

// Stop drains queued uploads and waits for the workers. Retries still
// waiting on backoff are abandoned.
func (u *AsyncUploader) Stop() {
	u.stopOnce.Do(func() {
		u.stopped.Store(true)
		close(u.quit)
		close(u.ch)
	})
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		result := "failed"
		if err := u.upload(job); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("upload failed, file kept on local disk")
		} else {
			result = "uploaded"
		}
		metrics.UploadsTotal.WithLabelValues("recording", result).Inc()
	}
}

func (u *AsyncUploader) upload(job uploadJob) error {
	data, err := os.ReadFile(job.path)
	if err != nil {
		return err
	}
	ct := ContentTypeFromExt(filepath.Ext(job.path))
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = u.remote.Save(ctx, job.key, data, ct)
		cancel()
		if err == nil || attempt >= u.attempts {
			return err
		}
		u.log.Warn().Err(err).Str("key", job.key).Int("attempt", attempt).Msg("upload failed, retrying")
		select {
		case <-time.After(u.backoff * time.Duration(attempt)):
		case <-u.quit:
			return err
		}
	}
}
