package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// A file is queued once its size and mtime hold still for settleDelay.
const settleDelay = 400 * time.Millisecond

// backfillRetry is how long backfill waits when the job queue is full.
const backfillRetry = time.Second

const (
	watcherStarting    = "starting"
	watcherBackfilling = "backfilling"
	watcherWatching    = "watching"
	watcherStopped     = "stopped"
)

// FileWatcher queues audio dropped anywhere under a directory tree.
type FileWatcher struct {
	hub      *Hub
	root     string
	backfill bool
	log      zerolog.Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*settling // files still being written
	seen    map[string]fileStamp // version of each file already queued

	state    atomic.Value // one of the watcher* states
	queued   atomic.Int64
	skipped  atomic.Int64
	rejected atomic.Int64
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

type settling struct {
	timer *time.Timer
	last  fileStamp
}

func newFileWatcher(h *Hub, root string, backfill bool) *FileWatcher {
	fw := &FileWatcher{
		hub:      h,
		root:     root,
		backfill: backfill,
		log:      h.log.With().Str("component", "watcher").Logger(),
		pending:  make(map[string]*settling),
		seen:     make(map[string]fileStamp),
	}
	fw.state.Store(watcherStarting)
	return fw
}

// Start watches every directory under the root. With backfill, audio
// already present is queued in the background, oldest first.
func (fw *FileWatcher) Start() error {
	if err := os.MkdirAll(fw.root, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.fsw = fsw

	dirs := fw.addTree(fw.root, false)
	fw.log.Info().Int("directories", dirs).Str("watch_dir", fw.root).Bool("backfill", fw.backfill).Msg("file watcher started")

	go fw.run()
	if fw.backfill {
		go fw.runBackfill()
	} else {
		fw.state.Store(watcherWatching)
	}
	return nil
}

// Stop closes the watcher and abandons files that have not settled.
func (fw *FileWatcher) Stop() {
	fw.state.Store(watcherStopped)
	if fw.fsw != nil {
		fw.fsw.Close()
	}
	fw.mu.Lock()
	for path, s := range fw.pending {
		s.timer.Stop()
		delete(fw.pending, path)
	}
	fw.mu.Unlock()
	fw.log.Info().
		Int64("files_queued", fw.queued.Load()).
		Int64("files_skipped", fw.skipped.Load()).
		Int64("files_rejected", fw.rejected.Load()).
		Msg("file watcher stopped")
}

func (fw *FileWatcher) Status() *api.WatcherStatusData {
	st, _ := fw.state.Load().(string)
	return &api.WatcherStatusData{
		Status:        st,
		WatchDir:      fw.root,
		FilesQueued:   fw.queued.Load(),
		FilesSkipped:  fw.skipped.Load(),
		FilesRejected: fw.rejected.Load(),
	}
}

func (fw *FileWatcher) run() {
	for {
		select {
		case <-fw.hub.ctx.Done():
			return
		case ev, ok := <-fw.fsw.Events:
			if !ok {
				return
			}
			fw.handle(ev)
		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (fw *FileWatcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		// A folder moved or copied in may already hold audio.
		fw.addTree(ev.Name, true)
		return
	}
	if candidate(ev.Name) {
		fw.schedule(ev.Name)
	}
}

// addTree watches root and every directory below it, returning how many
// were added. With queue set, audio files found on the way are scheduled.
func (fw *FileWatcher) addTree(root string, queue bool) int {
	n := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			fw.log.Warn().Err(err).Str("path", path).Msg("cannot read directory")
		case d.IsDir():
			if err := fw.fsw.Add(path); err != nil {
				fw.log.Warn().Err(err).Str("path", path).Msg("cannot watch directory")
			} else {
				n++
			}
		case queue && candidate(path):
			fw.schedule(path)
		}
		return nil
	})
	return n
}

// candidate reports whether path looks like a finished audio file. Hidden
// and partial downloads are ignored.
func candidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return audio.Supported(path)
}

// schedule (re)starts the settle timer for path.
func (fw *FileWatcher) schedule(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if s, ok := fw.pending[path]; ok {
		s.timer.Reset(settleDelay)
		return
	}
	fw.pending[path] = &settling{timer: time.AfterFunc(settleDelay, func() { fw.settle(path) })}
}

// settle queues path once two consecutive checks see the same size and
// mtime, so slow copies are not picked up half written.
func (fw *FileWatcher) settle(path string) {
	info, statErr := os.Stat(path)

	fw.mu.Lock()
	s, ok := fw.pending[path]
	if !ok {
		fw.mu.Unlock()
		return
	}
	if statErr == nil {
		if stamp := stampOf(info); stamp != s.last {
			s.last = stamp
			s.timer.Reset(settleDelay)
			fw.mu.Unlock()
			return
		}
	}
	delete(fw.pending, path)
	fw.mu.Unlock()

	if statErr != nil {
		fw.log.Debug().Err(statErr).Str("path", path).Msg("watched file vanished")
		return
	}
	fw.processFile(path)
}

func stampOf(info fs.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), modTime: info.ModTime()}
}

// processFile submits path unless this version of it was already queued.
// Rejected files are forgotten so a later event or backfill retry can
// queue them; transcribe.ErrQueueFull is returned for that purpose.
func (fw *FileWatcher) processFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		fw.skipped.Add(1)
		return nil
	}
	stamp := stampOf(info)

	fw.mu.Lock()
	if fw.seen[path] == stamp {
		fw.mu.Unlock()
		fw.skipped.Add(1)
		return nil
	}
	fw.seen[path] = stamp
	fw.mu.Unlock()

	id, err := fw.hub.jobs.Submit(fw.hub.defaults.Fill(transcribe.Request{AudioPath: path}, nil), "watch")
	if err != nil {
		fw.mu.Lock()
		delete(fw.seen, path)
		fw.mu.Unlock()
		fw.rejected.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("watched file not queued")
		return err
	}
	fw.queued.Add(1)
	metrics.WatchFilesTotal.Inc()
	fw.log.Info().Str("path", path).Str("job_id", id).Msg("queued watched file")
	return nil
}

func (fw *FileWatcher) runBackfill() {
	fw.state.Store(watcherBackfilling)
	start := time.Now()
	files := scanAudio(fw.root)
	fw.log.Info().Int("files", len(files)).Msg("backfill starting")

	done := 0
	for _, path := range files {
		for {
			err := fw.processFile(path)
			if errors.Is(err, transcribe.ErrPoolStopped) {
				return
			}
			if !errors.Is(err, transcribe.ErrQueueFull) {
				break
			}
			select {
			case <-fw.hub.ctx.Done():
				fw.log.Info().Int("processed", done).Msg("backfill interrupted by shutdown")
				return
			case <-time.After(backfillRetry):
			}
		}
		done++
	}

	fw.state.CompareAndSwap(watcherBackfilling, watcherWatching)
	fw.log.Info().Int("processed", done).Dur("elapsed", time.Since(start)).Msg("backfill complete")
}

// scanAudio lists candidate audio files under root, oldest first.
func scanAudio(root string) []string {
	type found struct {
		path string
		mod  time.Time
	}
	var files []found
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !candidate(path) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files = append(files, found{path, info.ModTime()})
		}
		return nil
	})
	slices.SortFunc(files, func(a, b found) int { return a.mod.Compare(b.mod) })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out
}
