// Package record captures audio from an input device into timestamped
// WAV (or transcoded) files.
package record

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/errs"
)

var (
	ErrNotRecording     = errors.New("not recording")
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNoAudio is returned by Stop when no frames were captured.
	ErrNoAudio = errors.New("no audio captured")
)

// active guards the process-wide single-recording rule.
var active atomic.Bool

// State is the session state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Options configures one recording.
type Options struct {
	DeviceID   string
	SampleRate int    // default 16000
	Channels   int    // default 1
	Format     string // "wav" (default) or a format audio.Transcode accepts

	// OnLevel receives every level update from the capture goroutine. It
	// must not block.
	OnLevel func(level float64)
	// OnInterrupted is called after a device failure stopped the recording
	// and the partial audio was flushed. path is empty when nothing could
	// be saved.
	OnInterrupted func(path string, err error)
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.Format == "" {
		o.Format = "wav"
	}
	return o
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	State    string    `json:"state"`
	Level    float64   `json:"level"`
	Device   string    `json:"device,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Duration float64   `json:"duration"`
}

// Session drives one input device through Idle -> Recording -> Idle.
type Session struct {
	dev       Device
	dir       string
	log       zerolog.Logger
	now       func() time.Time
	transcode func(ctx context.Context, wavPath, format string) (string, error)

	mu       sync.Mutex
	state    State
	gen      uint64
	opts     Options
	capture  Capture
	buf      *Buffer
	started  time.Time
	done     chan struct{}
	stopping atomic.Bool
	loopErr  error

	level   atomic.Uint64 // math.Float64bits of the last chunk's level
	samples atomic.Int64
}

// NewSession creates a session writing recordings into dir.
func NewSession(dev Device, dir string, log zerolog.Logger) *Session {
	return &Session{
		dev:       dev,
		dir:       dir,
		log:       log.With().Str("component", "recorder").Logger(),
		now:       time.Now,
		transcode: audio.Transcode,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Level returns the RMS level of the most recent chunk in [0, 1]. It never
// blocks and may lag the capture goroutine by one chunk.
func (s *Session) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Status returns a snapshot for display.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state.String()}
	if s.state == Recording {
		st.Level = s.Level()
		st.Device = s.opts.DeviceID
		st.Started = s.started
		st.Duration = float64(s.samples.Load()) / float64(s.opts.SampleRate*s.opts.Channels)
	}
	return st
}

// Start opens the device and begins capturing. Only one session in the
// process may record at a time.
func (s *Session) Start(ctx context.Context, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Recording || !active.CompareAndSwap(false, true) {
		return ErrAlreadyRecording
	}
	opts = opts.withDefaults()

	capture, err := s.dev.Open(ctx, opts.DeviceID, Format{SampleRate: opts.SampleRate, Channels: opts.Channels})
	if err != nil {
		active.Store(false)
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return errs.Device("open", opts.DeviceID, err)
	}

	s.gen++
	s.state = Recording
	s.opts = opts
	s.capture = capture
	s.buf = &Buffer{}
	s.started = s.now()
	s.done = make(chan struct{})
	s.loopErr = nil
	s.stopping.Store(false)
	s.level.Store(0)
	s.samples.Store(0)

	go s.captureLoop(capture, s.buf, s.done)
	go s.watch(s.gen, s.done)

	s.log.Info().Str("device", opts.DeviceID).Int("rate", opts.SampleRate).Int("channels", opts.Channels).
		Str("format", opts.Format).Msg("recording started")
	return nil
}

// Stop halts capture, writes the buffered audio to disk and returns the
// file path. Calling Stop while idle returns ErrNotRecording and changes
// nothing.
func (s *Session) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return "", ErrNotRecording
	}
	s.stopping.Store(true)
	s.capture.Close()
	<-s.done

	path, err := s.finish(ctx)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("path", path).Msg("recording saved")
	return path, nil
}

// captureLoop is the only writer of buf. It performs no file I/O.
func (s *Session) captureLoop(c Capture, buf *Buffer, done chan struct{}) {
	defer close(done)
	onLevel := s.opts.OnLevel
	for {
		chunk, err := c.Read()
		if err != nil {
			if !s.stopping.Load() {
				s.loopErr = err
			}
			return
		}
		buf.Append(chunk)
		s.samples.Add(int64(len(chunk)))
		lvl := audio.Level(chunk)
		s.level.Store(math.Float64bits(lvl))
		if onLevel != nil {
			onLevel(lvl)
		}
	}
}

// watch handles a capture loop that ended on its own (device failure):
// the partial buffer is flushed and the session returns to Idle.
func (s *Session) watch(gen uint64, done chan struct{}) {
	<-done
	if s.stopping.Load() {
		return
	}

	s.mu.Lock()
	if s.state != Recording || s.gen != gen {
		s.mu.Unlock()
		return
	}
	cause := s.loopErr
	deviceID := s.opts.DeviceID
	s.capture.Close()
	path, err := s.finish(context.Background())
	cb := s.opts.OnInterrupted
	s.mu.Unlock()

	devErr := errs.Device("capture", deviceID, cause)
	if err != nil && !errors.Is(err, ErrNoAudio) {
		devErr = errors.Join(devErr, err)
	}
	s.log.Error().Err(devErr).Str("path", path).Msg("recording interrupted")
	if cb != nil {
		cb(path, devErr)
	}
}

// finish flushes the buffer and resets to Idle. Caller holds s.mu and the
// capture loop has exited.
func (s *Session) finish(ctx context.Context) (string, error) {
	defer func() {
		s.state = Idle
		s.capture = nil
		s.buf = nil
		s.level.Store(0)
		active.Store(false)
	}()

	if s.buf.Len() == 0 {
		return "", ErrNoAudio
	}

	wavPath := s.nextPath()
	if err := audio.WriteWAV(wavPath, s.buf.Samples(), s.opts.SampleRate, s.opts.Channels); err != nil {
		return "", errs.Device("flush", wavPath, err)
	}
	s.buf.Reset()

	if s.opts.Format == "wav" {
		return wavPath, nil
	}
	out, err := s.transcode(ctx, wavPath, s.opts.Format)
	if err != nil {
		s.log.Warn().Err(err).Str("path", wavPath).Msg("transcode failed, keeping wav")
		return wavPath, nil
	}
	os.Remove(wavPath)
	return out, nil
}

// nextPath names the file recording_YYYYmmdd_HHMMSS.wav, adding a counter
// when a file with that name already exists.
func (s *Session) nextPath() string {
	base := "recording_" + s.now().Format("20060102_150405")
	path := filepath.Join(s.dir, base+".wav")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d.wav", base, i))
	}
}

// Buffer accumulates captured chunks.
type Buffer struct {
	chunks [][]int16
	n      int
}

// Append adds a chunk. The slice is retained.
func (b *Buffer) Append(chunk []int16) {
	b.chunks = append(b.chunks, chunk)
	b.n += len(chunk)
}

// Len returns the number of samples held.
func (b *Buffer) Len() int { return b.n }

// Samples returns all samples as one slice.
func (b *Buffer) Samples() []int16 {
	out := make([]int16, 0, b.n)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset drops all samples.
func (b *Buffer) Reset() {
	b.chunks = nil
	b.n = 0
}
