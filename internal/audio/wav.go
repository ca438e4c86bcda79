// Package audio reads, writes and converts the audio files that flow
// through the pipeline.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultSampleRate is the rate every analysis stage works at.
const DefaultSampleRate = 16000

// ErrInvalidWAV is returned when a file does not parse as RIFF/WAVE.
var ErrInvalidWAV = errors.New("invalid wav file")

// PCM is mono float samples in [-1, 1] at Rate Hz.
type PCM struct {
	Samples []float32
	Rate    int
}

// Duration returns the length in seconds.
func (p PCM) Duration() float64 {
	if p.Rate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.Rate)
}

// ReadWAV decodes a WAV file, mixing all channels down to mono.
func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV decodes WAV data from r, mixing all channels down to mono.
func DecodeWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return PCM{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil {
		return PCM{}, errors.New("empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	channels := int(dec.NumChans)
	if channels <= 0 && buf.Format != nil {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		channels = 1
	}

	rate := int(dec.SampleRate)
	if rate == 0 && buf.Format != nil {
		rate = buf.Format.SampleRate
	}
	if rate == 0 {
		rate = DefaultSampleRate
	}

	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return PCM{Samples: out, Rate: rate}, nil
}

// WriteWAV writes interleaved 16-bit samples to path atomically (temp file
// in the same directory, then rename).
func WriteWAV(path string, samples []int16, rate, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".wav-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if err := EncodeWAV(tmp, samples, rate, channels); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// EncodeWAV writes 16-bit PCM WAV to w.
func EncodeWAV(w io.WriteSeeker, samples []int16, rate, channels int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	enc := wav.NewEncoder(w, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// DecodePCM16LE converts little-endian signed 16-bit bytes into samples.
// A trailing odd byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

// ToFloat converts 16-bit samples to floats in [-1, 1).
func ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Level is the RMS of samples relative to full scale, clamped to [0, 1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return min(1, rms/32767)
}
