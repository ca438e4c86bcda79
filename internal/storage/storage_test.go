package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
)

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	t.Run("save_and_open", func(t *testing.T) {
		if err := s.Save(ctx, "recordings/a.wav", []byte("RIFF"), "audio/wav"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		r, err := s.Open(ctx, "recordings/a.wav")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer r.Close()
		data, _ := io.ReadAll(r)
		if string(data) != "RIFF" {
			t.Errorf("data = %q, want RIFF", data)
		}
		if !s.Exists(ctx, "recordings/a.wav") {
			t.Error("Exists = false after Save")
		}
		if got := s.LocalPath("recordings/a.wav"); got != filepath.Join(dir, "recordings", "a.wav") {
			t.Errorf("LocalPath = %q", got)
		}
	})

	t.Run("missing_key", func(t *testing.T) {
		if s.Exists(ctx, "nope.txt") {
			t.Error("Exists = true for missing key")
		}
		if got := s.LocalPath("nope.txt"); got != "" {
			t.Errorf("LocalPath = %q, want empty", got)
		}
	})

	t.Run("no_temp_files_left", func(t *testing.T) {
		if err := s.Save(ctx, "talk.srt", []byte("1\n"), "application/x-subrip"); err != nil {
			t.Fatal(err)
		}
		matches, _ := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
		if len(matches) != 0 {
			t.Errorf("leftover temp files: %v", matches)
		}
	})

	t.Run("rejects_escaping_keys", func(t *testing.T) {
		for _, key := range []string{"../outside.txt", "/etc/passwd", "a/../../b", ""} {
			if err := s.Save(ctx, key, []byte("x"), ""); !errors.Is(err, fs.ErrInvalid) {
				t.Errorf("Save(%q) err = %v, want fs.ErrInvalid", key, err)
			}
			if s.Exists(ctx, key) {
				t.Errorf("Exists(%q) = true", key)
			}
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "outside.txt")); err == nil {
			t.Error("file written outside the store root")
		}
	})

	if s.Type() != "local" {
		t.Errorf("Type = %q, want local", s.Type())
	}
}

func TestNew_LocalWhenS3Disabled(t *testing.T) {
	store, services, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Type() != "local" {
		t.Errorf("Type = %q, want local", store.Type())
	}
	if len(services) != 0 {
		t.Errorf("services = %d, want 0", len(services))
	}
}

func TestContentTypeFromExt(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".wav", "audio/wav"},
		{".MP3", "audio/mpeg"},
		{".srt", "application/x-subrip"},
		{".vtt", "text/vtt; charset=utf-8"},
		{".json", "application/json"},
		{".bin", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentTypeFromExt(tt.ext); got != tt.want {
			t.Errorf("ContentTypeFromExt(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

// fakeRemote is an in-memory Remote. failSaves makes the next n Saves fail.
type fakeRemote struct {
	mu        sync.Mutex
	objects   map[string]string
	failSaves int
	saves     int
}

func newFakeRemote() *fakeRemote { return &fakeRemote{objects: make(map[string]string)} }

func (f *fakeRemote) Save(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSaves > 0 {
		f.failSaves--
		return errors.New("bucket unavailable")
	}
	f.objects[key] = string(data)
	return nil
}

func (f *fakeRemote) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.objects[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func (f *fakeRemote) Exists(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeRemote) URL(_ context.Context, key string) (string, error) {
	return "https://bucket.example/" + key, nil
}

func (f *fakeRemote) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.objects[key]
	return s, ok
}

func writeAged(t *testing.T, path, data string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatal(err)
	}
}

func TestTieredStore(t *testing.T) {
	dir := t.TempDir()
	remote := newFakeRemote()
	s := NewTieredStore(NewLocalStore(dir), remote, zerolog.Nop())
	ctx := context.Background()

	t.Run("save_writes_both_tiers", func(t *testing.T) {
		if err := s.Save(ctx, "talk.vtt", []byte("WEBVTT\n"), "text/vtt"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if got, ok := remote.get("talk.vtt"); !ok || got != "WEBVTT\n" {
			t.Errorf("remote = %q, %v", got, ok)
		}
		if u, _ := s.URL(ctx, "talk.vtt"); u != "" {
			t.Errorf("URL = %q, want empty while cached locally", u)
		}
	})

	t.Run("remote_failure_is_not_fatal", func(t *testing.T) {
		remote.failSaves = 1
		if err := s.Save(ctx, "late.txt", []byte("x"), ""); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if s.LocalPath("late.txt") == "" {
			t.Error("local copy missing")
		}
	})

	t.Run("evicted_file_is_recached", func(t *testing.T) {
		os.Remove(filepath.Join(dir, "talk.vtt"))
		if u, _ := s.URL(ctx, "talk.vtt"); u != "https://bucket.example/talk.vtt" {
			t.Errorf("URL = %q, want remote link", u)
		}
		r, err := s.Open(ctx, "talk.vtt")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		data, _ := io.ReadAll(r)
		r.Close()
		if string(data) != "WEBVTT\n" {
			t.Errorf("data = %q", data)
		}
		if s.LocalPath("talk.vtt") == "" {
			t.Error("file not re-cached after remote read")
		}
	})

	if RemoteOf(s) != remote || RemoteOf(NewLocalStore(dir)) != nil {
		t.Error("RemoteOf returned the wrong tier")
	}
}

func TestEvictable(t *testing.T) {
	now := time.Now()
	files := []localFile{
		{key: "a", size: 40, modTime: now.Add(-72 * time.Hour)},
		{key: "b", size: 40, modTime: now.Add(-30 * time.Hour)},
		{key: "c", size: 40, modTime: now.Add(-time.Hour)},
	}
	keys := func(fs []localFile) string {
		var out []string
		for _, f := range fs {
			out = append(out, f.key)
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		name      string
		retention time.Duration
		maxBytes  int64
		want      string
	}{
		{"no_limits", 0, 0, ""},
		{"age_only", 48 * time.Hour, 0, "a"},
		{"size_only", 0, 50, "a,b"},
		{"age_then_size", 48 * time.Hour, 80, "a"},
		{"size_after_age", 48 * time.Hour, 40, "a,b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keys(evictable(files, now, tt.retention, tt.maxBytes)); got != tt.want {
				t.Errorf("evictable = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiskPruner(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "recordings", "old.wav")
	orphan := filepath.Join(dir, "orphan.srt")
	fresh := filepath.Join(dir, "fresh.txt")
	writeAged(t, old, "x", 48*time.Hour)
	writeAged(t, orphan, "x", 48*time.Hour)
	writeAged(t, fresh, "x", 0)

	remote := newFakeRemote()
	remote.objects["recordings/old.wav"] = "x"

	res := NewDiskPruner(dir, 24*time.Hour, 0, remote, zerolog.Nop()).prune(context.Background())
	if res.removed != 1 || res.notUploaded != 1 {
		t.Errorf("result = %+v, want 1 removed and 1 not uploaded", res)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("backed-up file should have been removed")
	}
	if _, err := os.Stat(orphan); err != nil {
		t.Error("file missing from the bucket must stay on disk")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file should remain")
	}
	if _, err := os.Stat(filepath.Join(dir, "recordings")); !os.IsNotExist(err) {
		t.Error("empty subdirectory should have been removed")
	}
}

func TestUploadReconciler(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, filepath.Join(dir, "recordings", "r.wav"), "pcm", 0)
	writeAged(t, filepath.Join(dir, "done.srt"), "1\n", 0)
	writeAged(t, filepath.Join(dir, tempPrefix+"123"), "partial", 0)
	writeAged(t, filepath.Join(dir, "stale.txt"), "x", 72*time.Hour)

	remote := newFakeRemote()
	remote.objects["done.srt"] = "1\n"

	uploaded, failed := NewUploadReconciler(dir, remote, zerolog.Nop()).reconcile(context.Background())
	if uploaded != 1 || failed != 0 {
		t.Errorf("uploaded=%d failed=%d, want 1 and 0", uploaded, failed)
	}
	if got, ok := remote.get("recordings/r.wav"); !ok || got != "pcm" {
		t.Errorf("recordings/r.wav = %q, %v", got, ok)
	}
	for _, key := range []string{tempPrefix+"123", "stale.txt"} {
		if _, ok := remote.get(key); ok {
			t.Errorf("%s should not be uploaded", key)
		}
	}
}

func TestAsyncUploader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording_20240101_120000.wav")
	writeAged(t, path, "RIFF", 0)

	t.Run("retries_then_uploads", func(t *testing.T) {
		remote := newFakeRemote()
		remote.failSaves = 1
		u := NewAsyncUploader(remote, 1, 4, zerolog.Nop())
		u.backoff = time.Millisecond
		u.Start()
		u.EnqueueFile("recordings/a.wav", path)
		u.Stop()
		if got, ok := remote.get("recordings/a.wav"); !ok || got != "RIFF" {
			t.Errorf("uploaded = %q, %v", got, ok)
		}
		if remote.saves != 2 {
			t.Errorf("saves = %d, want 2", remote.saves)
		}
	})

	t.Run("gives_up_after_attempts", func(t *testing.T) {
		remote := newFakeRemote()
		remote.failSaves = 10
		u := NewAsyncUploader(remote, 1, 4, zerolog.Nop())
		u.backoff = time.Millisecond
		u.Start()
		u.EnqueueFile("recordings/b.wav", path)
		// Stop abandons pending backoff, so wait for the attempts first.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			remote.mu.Lock()
			n := remote.saves
			remote.mu.Unlock()
			if n >= 3 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		u.Stop()
		if remote.saves != 3 {
			t.Errorf("saves = %d, want 3", remote.saves)
		}
	})

	t.Run("enqueue_after_stop_is_dropped", func(t *testing.T) {
		remote := newFakeRemote()
		u := NewAsyncUploader(remote, 1, 4, zerolog.Nop())
		u.Start()
		u.Stop()
		u.EnqueueFile("recordings/c.wav", path)
		if remote.Exists(context.Background(), "recordings/c.wav") {
			t.Error("upload after Stop should be dropped")
		}
	})
}

func TestS3ObjectKey(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "meeting.srt", "meeting.srt"},
		{"", "/meeting.srt", "meeting.srt"},
		{"scribe", "recordings/a.wav", "scribe/recordings/a.wav"},
	}
	for _, tt := range tests {
		s := &S3Store{prefix: tt.prefix}
		if got := s.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}

func TestPeriodic(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	p := &periodic{delay: 0, interval: 10 * time.Millisecond, fn: func(ctx context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
	}}
	p.stop() // before start is a no-op
	p.start()
	p.start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ran %d times, want at least 3", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.stop()
	mu.Lock()
	after := runs
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if runs != after {
		t.Errorf("ran %d more times after stop", runs-after)
	}
}
