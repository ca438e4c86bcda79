package record

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
)

// ErrDeviceUnavailable is returned when a capture device cannot be opened.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Format describes the PCM stream requested from a device.
type Format struct {
	SampleRate int
	Channels   int
}

// Device opens capture streams and enumerates inputs.
type Device interface {
	Open(ctx context.Context, id string, f Format) (Capture, error)
	List(ctx context.Context) ([]DeviceInfo, error)
}

// Capture is an open stream of interleaved 16-bit frames. Read blocks until
// a chunk is available. Close ends the stream: chunks the source already
// produced are still returned by Read, after which Read fails.
type Capture interface {
	Read() ([]int16, error)
	Close() error
}

// DeviceInfo describes one input.
type DeviceInfo struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"` // "microphone" or "system"
}

// classify guesses whether an input captures a microphone or system output.
func classify(name string) string {
	n := strings.ToLower(name)
	for _, hint := range []string{"monitor", "loopback", "stereo mix", "what u hear", "wave out"} {
		if strings.Contains(n, hint) {
			return "system"
		}
	}
	return "microphone"
}

// ExecDevice captures through an external recorder writing raw s16le PCM
// to stdout: arecord for ALSA, or ffmpeg for PulseAudio.
type ExecDevice struct {
	Backend     string // "alsa" or "pulse"
	ChunkFrames int

	newCmd func(id string, f Format) (*exec.Cmd, error)
}

// NewExecDevice returns a device for backend with 1024-frame chunks.
func NewExecDevice(backend string) *ExecDevice {
	return &ExecDevice{Backend: backend, ChunkFrames: 1024}
}

// drainTimeout bounds how long Close waits for the recorder to flush and exit
// after an interrupt before killing it.
const drainTimeout = 2 * time.Second

// command builds the recorder. It outlives the request that opened it, so it
// is not bound to a context; Close stops it.
func (d *ExecDevice) command(id string, f Format) (*exec.Cmd, error) {
	if id == "" {
		id = "default"
	}
	rate, ch := fmt.Sprint(f.SampleRate), fmt.Sprint(f.Channels)
	switch d.Backend {
	case "", "alsa":
		return exec.Command("arecord", "-q", "-D", id, "-f", "S16_LE", "-r", rate, "-c", ch, "-t", "raw"), nil
	case "pulse":
		return exec.Command("ffmpeg", "-loglevel", "error", "-f", "pulse", "-i", id,
			"-ac", ch, "-ar", rate, "-f", "s16le", "-"), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", d.Backend)
	}
}

// Open starts the recorder and waits for the first chunk, so a missing or
// busy device fails here rather than mid-recording.
func (d *ExecDevice) Open(ctx context.Context, id string, f Format) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	build := d.command
	if d.newCmd != nil {
		build = d.newCmd
	}
	cmd, err := build(id, f)
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	chunk := max(1, d.ChunkFrames) * max(1, f.Channels) * 2
	c := &execCapture{
		cmd:     cmd,
		r:       bufio.NewReaderSize(stdout, chunk*4),
		buf:     make([]byte, chunk),
		drained: make(chan struct{}),
	}
	first, err := c.readChunk()
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("%w: %s: %s", ErrDeviceUnavailable, id, msg)
	}
	c.primed = first
	return c, nil
}

// List parses `arecord -L`. Unindented lines are device ids; the indented
// lines after them describe the device.
func (d *ExecDevice) List(ctx context.Context) ([]DeviceInfo, error) {
	out, err := exec.CommandContext(ctx, "arecord", "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return parseDeviceList(string(out)), nil
}

func parseDeviceList(out string) []DeviceInfo {
	var devs []DeviceInfo
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(devs); n > 0 {
				desc := strings.TrimSpace(line)
				if devs[n-1].Description == "" {
					devs[n-1].Description = desc
				} else {
					devs[n-1].Description += ", " + desc
				}
				devs[n-1].Kind = classify(devs[n-1].ID + " " + devs[n-1].Description)
			}
			continue
		}
		id := strings.TrimSpace(line)
		if id == "null" {
			continue
		}
		devs = append(devs, DeviceInfo{ID: id, Kind: classify(id)})
	}
	return devs
}

type execCapture struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	buf    []byte
	primed []int16

	drained   chan struct{} // closed once Read has hit the end of the pipe
	endOnce   sync.Once
	closeOnce sync.Once
}

func (c *execCapture) readChunk() ([]int16, error) {
	n, err := io.ReadFull(c.r, c.buf)
	if n >= 2 {
		return audio.DecodePCM16LE(c.buf[:n]), nil
	}
	if err == nil || err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return nil, err
}

func (c *execCapture) Read() ([]int16, error) {
	if c.primed != nil {
		p := c.primed
		c.primed = nil
		return p, nil
	}
	chunk, err := c.readChunk()
	if err != nil {
		c.endOnce.Do(func() { close(c.drained) })
		return nil, fmt.Errorf("%w: capture stream ended: %v", ErrDeviceUnavailable, err)
	}
	return chunk, nil
}

// Close interrupts the recorder so it flushes and exits, waits for Read to
// consume the pipe up to EOF, then reaps the process. Wait closes the pipe,
// so it must not run while a Read is still pending.
func (c *execCapture) Close() error {
	c.closeOnce.Do(func() {
		if c.cmd.Process == nil {
			return
		}
		if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
			c.cmd.Process.Kill()
		}
		select {
		case <-c.drained:
		case <-time.After(drainTimeout):
			// No reader, or the recorder ignored the interrupt.
			c.cmd.Process.Kill()
			select {
			case <-c.drained:
			case <-time.After(drainTimeout):
			}
		}
		c.cmd.Wait()
	})
	return nil
}
