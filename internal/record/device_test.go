package record

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

// shellRecorder stands in for arecord: it writes one chunk of 1s at start and,
// when interrupted, one chunk of 2s before exiting.
func shellRecorder(t *testing.T) func(string, Format) (*exec.Cmd, error) {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	const script = `trap 'printf "\002\000\002\000\002\000\002\000"; exit 0' INT
printf '\001\000\001\000\001\000\001\000'
while :; do sleep 1 >/dev/null & wait $!; done`
	return func(string, Format) (*exec.Cmd, error) {
		return exec.Command(sh, "-c", script), nil
	}
}

func TestExecCapture_CloseDrainsRecorder(t *testing.T) {
	d := &ExecDevice{ChunkFrames: 4, newCmd: shellRecorder(t)}
	ctx, cancel := context.WithCancel(context.Background())
	c, err := d.Open(ctx, "test", Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// The recorder outlives the context that opened it.
	cancel()

	first, err := c.Read()
	if err != nil || len(first) != 4 || first[0] != 1 {
		t.Fatalf("first Read = %v, %v; want four 1s", first, err)
	}

	type result struct {
		chunks [][]int16
		err    error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		for {
			chunk, err := c.Read()
			if err != nil {
				r.err = err
				done <- r
				return
			}
			r.chunks = append(r.chunks, chunk)
		}
	}()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
	if !errors.Is(r.err, ErrDeviceUnavailable) {
		t.Errorf("final Read error = %v, want ErrDeviceUnavailable", r.err)
	}
	if len(r.chunks) != 1 || len(r.chunks[0]) != 4 || r.chunks[0][0] != 2 {
		t.Errorf("chunks after Close = %v, want the recorder's flushed [2 2 2 2]", r.chunks)
	}
	if st := c.(*execCapture).cmd.ProcessState; st == nil {
		t.Error("recorder was not reaped")
	} else if !st.Success() {
		t.Errorf("recorder exit = %v, want clean exit from the interrupt", st)
	}
}

func TestExecDevice_OpenCancelled(t *testing.T) {
	d := &ExecDevice{ChunkFrames: 4, newCmd: shellRecorder(t)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Open(ctx, "test", Format{SampleRate: 16000, Channels: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Open with cancelled context = %v, want context.Canceled", err)
	}
}
