package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/record"
)

type fakeSession struct {
	opts    record.Options
	path    string
	stopErr error
	state   string
}

func (f *fakeSession) Start(_ context.Context, opts record.Options) error {
	if f.state == "recording" {
		return record.ErrAlreadyRecording
	}
	f.opts = opts
	f.state = "recording"
	return nil
}

func (f *fakeSession) Stop(context.Context) (string, error) {
	if f.state != "recording" {
		return "", record.ErrNotRecording
	}
	f.state = "idle"
	return f.path, f.stopErr
}

func (f *fakeSession) Status() record.Status { return record.Status{State: f.state} }

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	paths []string
}

func (f *fakeUploader) EnqueueFile(key, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.paths = append(f.paths, path)
}

func newTestController(t *testing.T, jobs *fakeSubmitter, up Uploader, auto bool) (*RecordingController, *fakeSession, *Hub) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording_20240101_120000.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	sess := &fakeSession{path: path, state: "idle"}
	h := newTestHub(jobs)
	c := NewRecordingController(RecordingOptions{
		Session:    sess,
		Hub:        h,
		Defaults:   record.Options{DeviceID: "default", Format: "wav"},
		Transcribe: auto,
		Uploader:   up,
		Log:        zerolog.Nop(),
	})
	return c, sess, h
}

func TestRecordingController_StartAppliesDefaults(t *testing.T) {
	c, sess, _ := newTestController(t, &fakeSubmitter{}, nil, false)

	if err := c.Start(context.Background(), api.RecordingRequest{Format: "mp3"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.opts.DeviceID != "default" || sess.opts.Format != "mp3" {
		t.Errorf("opts = %+v", sess.opts)
	}
	if sess.opts.OnLevel == nil || sess.opts.OnInterrupted == nil {
		t.Error("callbacks not installed")
	}
	if err := c.Start(context.Background(), api.RecordingRequest{}); !errors.Is(err, record.ErrAlreadyRecording) {
		t.Errorf("second Start err = %v, want ErrAlreadyRecording", err)
	}
}

func TestRecordingController_StopTranscribesAndUploads(t *testing.T) {
	jobs := &fakeSubmitter{}
	up := &fakeUploader{}
	c, sess, h := newTestController(t, jobs, up, true)
	ch, cancel := h.Subscribe(api.EventFilter{Types: []string{"recording:saved"}})
	defer cancel()

	c.Start(context.Background(), api.RecordingRequest{})
	res, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.Path != sess.path || res.JobID != "job-1" {
		t.Errorf("result = %+v", res)
	}
	reqs := jobs.requests()
	if len(reqs) != 1 || reqs[0].AudioPath != sess.path || jobs.sources[0] != "recording" {
		t.Errorf("requests = %+v", reqs)
	}
	if len(up.keys) != 1 || up.keys[0] != "recordings/recording_20240101_120000.wav" || up.paths[0] != sess.path {
		t.Errorf("uploads = %v %v", up.keys, up.paths)
	}
	select {
	case evt := <-ch:
		if evt.JobID != "job-1" {
			t.Errorf("saved event JobID = %q", evt.JobID)
		}
	default:
		t.Error("no recording:saved event")
	}
}

func TestRecordingController_RequestOverridesTranscribe(t *testing.T) {
	jobs := &fakeSubmitter{}
	c, _, _ := newTestController(t, jobs, nil, true)

	off := false
	c.Start(context.Background(), api.RecordingRequest{Transcribe: &off})
	res, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res.JobID != "" || len(jobs.requests()) != 0 {
		t.Errorf("recording was queued despite transcribe=false: %+v", res)
	}
}

func TestRecordingController_StopErrors(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		c, _, _ := newTestController(t, &fakeSubmitter{}, nil, false)
		if _, err := c.Stop(context.Background()); !errors.Is(err, record.ErrNotRecording) {
			t.Errorf("err = %v, want ErrNotRecording", err)
		}
	})

	t.Run("no_audio", func(t *testing.T) {
		jobs := &fakeSubmitter{}
		c, sess, _ := newTestController(t, jobs, nil, true)
		sess.stopErr = record.ErrNoAudio
		c.Start(context.Background(), api.RecordingRequest{})
		if _, err := c.Stop(context.Background()); !errors.Is(err, record.ErrNoAudio) {
			t.Errorf("err = %v, want ErrNoAudio", err)
		}
		if len(jobs.requests()) != 0 {
			t.Error("empty recording queued")
		}
	})
}

func TestRecordingController_Interrupted(t *testing.T) {
	jobs := &fakeSubmitter{}
	c, sess, h := newTestController(t, jobs, nil, true)
	ch, cancel := h.Subscribe(api.EventFilter{Types: []string{"recording:interrupted"}})
	defer cancel()

	c.Start(context.Background(), api.RecordingRequest{})
	sess.opts.OnInterrupted(sess.path, errors.New("device unplugged"))

	if n := len(jobs.requests()); n != 1 {
		t.Errorf("partial recording queued %d times, want 1", n)
	}
	select {
	case evt := <-ch:
		if evt.SubType != "interrupted" {
			t.Errorf("SubType = %q", evt.SubType)
		}
	default:
		t.Error("no recording:interrupted event")
	}

	// Nothing saved: only the event.
	sess.opts.OnInterrupted("", errors.New("device unplugged"))
	if n := len(jobs.requests()); n != 1 {
		t.Errorf("queued %d jobs, want 1", n)
	}
}

func TestRecordingController_LevelThrottled(t *testing.T) {
	c, sess, h := newTestController(t, &fakeSubmitter{}, nil, false)
	c.Start(context.Background(), api.RecordingRequest{})

	for i := 0; i < 10; i++ {
		sess.opts.OnLevel(0.5)
	}
	levels := h.ReplaySince("", api.EventFilter{Types: []string{"recording:level"}})
	if len(levels) != 1 {
		t.Errorf("level events = %d, want 1 within the throttle window", len(levels))
	}
}
