package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snarg/scribe-engine/internal/transcribe"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitRequests(t *testing.T, jobs *fakeSubmitter, n int) []transcribe.Request {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if reqs := jobs.requests(); len(reqs) >= n {
			return reqs
		}
		time.Sleep(20 * time.Millisecond)
	}
	reqs := jobs.requests()
	t.Fatalf("got %d submitted jobs, want %d", len(reqs), n)
	return reqs
}

func TestCandidate(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/in/meeting.wav", true},
		{"/in/Meeting.MP3", true},
		{"/in/notes.txt", false},
		{"/in/.hidden.wav", false},
		{"/in/upload.wav.part", false},
		{"/in/upload.tmp", false},
	}
	for _, tt := range tests {
		if got := candidate(tt.path); got != tt.want {
			t.Errorf("candidate(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFileWatcher_ProcessFile(t *testing.T) {
	dir := t.TempDir()
	jobs := &fakeSubmitter{}
	h := newTestHub(jobs)
	fw := newFileWatcher(h, dir, false)

	path := filepath.Join(dir, "talk.wav")
	writeFile(t, path, "RIFF....WAVE")

	t.Run("queues_with_defaults", func(t *testing.T) {
		if err := fw.processFile(path); err != nil {
			t.Fatalf("processFile: %v", err)
		}
		reqs := jobs.requests()
		if len(reqs) != 1 || reqs[0].AudioPath != path || !reqs[0].Diarize {
			t.Fatalf("requests = %+v", reqs)
		}
		if jobs.sources[0] != "watch" {
			t.Errorf("source = %q, want watch", jobs.sources[0])
		}
	})

	t.Run("same_version_skipped", func(t *testing.T) {
		fw.processFile(path)
		if n := len(jobs.requests()); n != 1 {
			t.Errorf("submitted %d jobs, want 1", n)
		}
		if fw.Status().FilesSkipped != 1 {
			t.Errorf("FilesSkipped = %d, want 1", fw.Status().FilesSkipped)
		}
	})

	t.Run("rewritten_file_queued_again", func(t *testing.T) {
		writeFile(t, path, "RIFF....WAVE plus more")
		fw.processFile(path)
		if n := len(jobs.requests()); n != 2 {
			t.Errorf("submitted %d jobs, want 2", n)
		}
	})

	t.Run("empty_file_skipped", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.wav")
		writeFile(t, empty, "")
		fw.processFile(empty)
		if n := len(jobs.requests()); n != 2 {
			t.Errorf("submitted %d jobs, want 2", n)
		}
	})

	t.Run("queue_full_forgets_file", func(t *testing.T) {
		full := &fakeSubmitter{err: transcribe.ErrQueueFull}
		fw2 := newFileWatcher(newTestHub(full), dir, false)
		if err := fw2.processFile(path); err != transcribe.ErrQueueFull {
			t.Fatalf("err = %v, want ErrQueueFull", err)
		}
		if _, ok := fw2.seen[path]; ok {
			t.Error("rejected file still marked as seen")
		}
		if fw2.Status().FilesRejected != 1 {
			t.Errorf("FilesRejected = %d, want 1", fw2.Status().FilesRejected)
		}
	})
}

func TestFileWatcher_Backfill(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a", "older.wav")
	newer := filepath.Join(dir, "newer.mp3")
	writeFile(t, older, "old audio")
	writeFile(t, newer, "new audio")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	past := time.Now().Add(-time.Hour)
	os.Chtimes(older, past, past)

	jobs := &fakeSubmitter{}
	h := newTestHub(jobs)
	if err := h.StartWatcher(dir, true); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	defer h.Stop()

	reqs := waitRequests(t, jobs, 2)
	if reqs[0].AudioPath != older || reqs[1].AudioPath != newer {
		t.Errorf("order = %s, %s; want oldest first", reqs[0].AudioPath, reqs[1].AudioPath)
	}

	deadline := time.Now().Add(time.Second)
	for h.WatcherStatus().Status != "watching" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if st := h.WatcherStatus(); st.Status != "watching" || st.FilesQueued != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestFileWatcher_NewFileQueued(t *testing.T) {
	dir := t.TempDir()
	jobs := &fakeSubmitter{}
	h := newTestHub(jobs)
	if err := h.StartWatcher(dir, false); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	defer h.Stop()

	path := filepath.Join(dir, "dropped.wav")
	writeFile(t, path, "RIFF....WAVE")
	writeFile(t, filepath.Join(dir, "dropped.txt"), "not audio")

	reqs := waitRequests(t, jobs, 1)
	if reqs[0].AudioPath != path {
		t.Errorf("AudioPath = %q, want %q", reqs[0].AudioPath, path)
	}

	// Give a stray second submission time to show up.
	time.Sleep(700 * time.Millisecond)
	if n := len(jobs.requests()); n != 1 {
		t.Errorf("submitted %d jobs, want 1", n)
	}
}

func TestHub_WatcherStatusNilWithoutWatcher(t *testing.T) {
	h := newTestHub(&fakeSubmitter{})
	if h.WatcherStatus() != nil {
		t.Error("WatcherStatus should be nil when no watcher runs")
	}
}

func TestFileWatcher_NewSubfolderQueued(t *testing.T) {
	dir := t.TempDir()
	jobs := &fakeSubmitter{}
	h := newTestHub(jobs)
	if err := h.StartWatcher(dir, false); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	defer h.Stop()

	// Build the folder elsewhere and move it in, as a sync tool would.
	staging := filepath.Join(t.TempDir(), "batch")
	writeFile(t, filepath.Join(staging, "one.wav"), "RIFF....WAVE")
	moved := filepath.Join(dir, "batch")
	if err := os.Rename(staging, moved); err != nil {
		t.Skipf("rename across temp dirs not supported here: %v", err)
	}

	reqs := waitRequests(t, jobs, 1)
	if want := filepath.Join(moved, "one.wav"); reqs[0].AudioPath != want {
		t.Errorf("AudioPath = %q, want %q", reqs[0].AudioPath, want)
	}
}

func TestScanAudio_OldestFirst(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "x", "a.flac")
	b := filepath.Join(dir, "b.wav")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	writeFile(t, filepath.Join(dir, ".c.wav"), "hidden")
	past := time.Now().Add(-time.Hour)
	os.Chtimes(b, past, past)

	got := scanAudio(dir)
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Errorf("scanAudio = %v, want [%s %s]", got, b, a)
	}
}
