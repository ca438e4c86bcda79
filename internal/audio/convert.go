package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ErrToolMissing is returned when ffmpeg is needed but not in PATH.
var ErrToolMissing = errors.New("ffmpeg not found in PATH")

var (
	ffmpegOnce  sync.Once
	ffmpegAvail bool
	soxOnce     sync.Once
	soxAvail    bool
)

// CheckFFmpeg reports whether ffmpeg is in PATH. The lookup runs once.
func CheckFFmpeg() bool {
	ffmpegOnce.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		ffmpegAvail = err == nil
	})
	return ffmpegAvail
}

// CheckSox reports whether sox is in PATH. The lookup runs once.
func CheckSox() bool {
	soxOnce.Do(func() {
		_, err := exec.LookPath("sox")
		soxAvail = err == nil
	})
	return soxAvail
}

// runTool executes name with args, returning stderr in the error.
var runTool = func(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 400 {
			msg = msg[len(msg)-400:]
		}
		return fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return nil
}

// Decode loads any supported audio file as mono PCM at rate Hz. WAV files
// are read directly; other containers go through ffmpeg.
func Decode(ctx context.Context, path string, rate int) (PCM, error) {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		p, err := ReadWAV(path)
		if err == nil {
			return Resample(p, rate), nil
		}
		if !errors.Is(err, ErrInvalidWAV) {
			return PCM{}, err
		}
	}

	if !CheckFFmpeg() {
		return PCM{}, ErrToolMissing
	}
	tmp, cleanup, err := tempPath("decode", ".wav")
	if err != nil {
		return PCM{}, err
	}
	defer cleanup()

	if err := runTool(ctx, "ffmpeg", "-y", "-i", path, "-ac", "1", "-ar", fmt.Sprint(rate), "-f", "wav", tmp); err != nil {
		return PCM{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	p, err := ReadWAV(tmp)
	if err != nil {
		return PCM{}, err
	}
	return Resample(p, rate), nil
}

// Transcode converts a WAV file to format ("mp3") next to the source and
// returns the new path. The source file is left untouched.
func Transcode(ctx context.Context, wavPath, format string) (string, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if format == "" || format == "wav" {
		return wavPath, nil
	}
	if !CheckFFmpeg() {
		return "", ErrToolMissing
	}

	out := strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + "." + format
	var args []string
	switch format {
	case "mp3":
		args = []string{"-i", wavPath, "-acodec", "mp3", "-ab", "128k", "-ar", "44100", "-y", out}
	default:
		args = []string{"-i", wavPath, "-y", out}
	}
	if err := runTool(ctx, "ffmpeg", args...); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("transcode to %s: %w", format, err)
	}
	return out, nil
}

// Prepare resamples the input to 16kHz mono and normalizes volume ahead of
// recognition. It prefers sox, then ffmpeg. Returns the path to use and a
// cleanup function. When neither tool is available the original path is
// returned with a no-op cleanup.
func Prepare(ctx context.Context, inputPath string) (string, func(), error) {
	noop := func() {}

	var tool string
	switch {
	case CheckSox():
		tool = "sox"
	case CheckFFmpeg():
		tool = "ffmpeg"
	default:
		return inputPath, noop, nil
	}

	outPath, cleanup, err := tempPath("prepare", ".wav")
	if err != nil {
		return inputPath, noop, err
	}

	var args []string
	if tool == "sox" {
		args = []string{inputPath, outPath, "rate", "16000", "channels", "1", "highpass", "80", "norm"}
	} else {
		args = []string{"-y", "-i", inputPath, "-ac", "1", "-ar", "16000", "-af", "highpass=f=80,loudnorm", "-f", "wav", outPath}
	}
	if err := runTool(ctx, tool, args...); err != nil {
		cleanup()
		return inputPath, noop, fmt.Errorf("%s prepare: %w", tool, err)
	}
	return outPath, cleanup, nil
}

func tempPath(purpose, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "scribe-"+purpose+"-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("create temp: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, func() { os.Remove(path) }, nil
}
