// Package features computes MFCC summary vectors over fixed-size windows of
// a mono PCM signal.
package features

import (
	"errors"
	"iter"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Dim is the number of cepstral coefficients in every Vector.
const Dim = 13

const (
	frameDuration = 0.025 // seconds per analysis frame
	frameStep     = 0.010 // seconds between analysis frames
	melFilters    = 26
	preEmphasis   = 0.97
	logFloor      = 1e-10

	// Frames quieter than this (about -80 dBFS) are left out of a window's
	// mean so digital silence and tail padding do not drag it toward zero.
	silentFrameRMS = 1e-4
)

// ErrInvalidWindow is returned for non-positive window or hop sizes.
var ErrInvalidWindow = errors.New("window and hop must be positive")

// Vector summarises one window: the mean MFCC over its audible frames (all
// frames when none are audible) and the window's RMS energy.
type Vector struct {
	Index  int
	Window Window
	Coeffs [Dim]float64
	RMS    float64
}

// Window is a [Start, End) range of sample indices.
type Window struct {
	Start int
	End   int
}

// Len returns the number of samples covered.
func (w Window) Len() int { return w.End - w.Start }

// Count returns how many windows Extract yields for n samples. Empty input
// yields none; input no longer than one window yields exactly one.
func Count(n, window, hop int) int {
	if n <= 0 || window <= 0 || hop <= 0 {
		return 0
	}
	if n <= window {
		return 1
	}
	return 1 + (n-window+hop-1)/hop
}

// Windows lists the window layout for n samples. The last window may run
// past n; Extract zero-pads it.
func Windows(n, window, hop int) []Window {
	c := Count(n, window, hop)
	out := make([]Window, c)
	for i := range out {
		out[i] = Window{Start: i * hop, End: i*hop + window}
	}
	return out
}

// Extractor computes Vectors for a fixed sample rate. Safe for concurrent
// use; each iteration owns its scratch buffers.
type Extractor struct {
	sampleRate int
	frameLen   int
	frameHop   int
	nfft       int
	filters    [][]float64
	hamming    []float64
}

// NewExtractor builds an extractor for sampleRate Hz audio.
func NewExtractor(sampleRate int) *Extractor {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	frameLen := max(2, int(math.Round(frameDuration*float64(sampleRate))))
	frameHop := max(1, int(math.Round(frameStep*float64(sampleRate))))
	nfft := 1
	for nfft < frameLen {
		nfft <<= 1
	}
	ham := make([]float64, frameLen)
	for i := range ham {
		ham[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(frameLen-1))
	}
	return &Extractor{
		sampleRate: sampleRate,
		frameLen:   frameLen,
		frameHop:   frameHop,
		nfft:       nfft,
		filters:    melFilterbank(melFilters, nfft, sampleRate),
		hamming:    ham,
	}
}

// SampleRate returns the rate the extractor was built for.
func (e *Extractor) SampleRate() int { return e.sampleRate }

// Extract returns a lazy sequence of one Vector per window starting at
// 0, hop, 2*hop, ... The sequence is restartable: every range over it walks
// the signal again and produces identical values. Windows running past the
// end of samples are zero-padded.
func (e *Extractor) Extract(samples []float32, window, hop int) (iter.Seq[Vector], error) {
	if window <= 0 || hop <= 0 {
		return nil, ErrInvalidWindow
	}
	n := Count(len(samples), window, hop)
	return func(yield func(Vector) bool) {
		s := e.newScratch(window)
		for i := 0; i < n; i++ {
			w := Window{Start: i * hop, End: i*hop + window}
			if !yield(e.vector(samples, i, w, s)) {
				return
			}
		}
	}, nil
}

type scratch struct {
	fft    *fourier.FFT
	buf    []float64
	frame  []float64
	coeffs []complex128
	logMel []float64
}

func (e *Extractor) newScratch(window int) *scratch {
	return &scratch{
		fft:    fourier.NewFFT(e.nfft),
		buf:    make([]float64, window),
		frame:  make([]float64, e.nfft),
		coeffs: make([]complex128, e.nfft/2+1),
		logMel: make([]float64, melFilters),
	}
}

func (e *Extractor) vector(samples []float32, idx int, w Window, s *scratch) Vector {
	// Copy the window into scratch, zero-padding past the signal end.
	var energy float64
	for i := range s.buf {
		j := w.Start + i
		if j < len(samples) {
			s.buf[i] = float64(samples[j])
		} else {
			s.buf[i] = 0
		}
		energy += s.buf[i] * s.buf[i]
	}

	v := Vector{Index: idx, Window: w, RMS: math.Sqrt(energy / float64(len(s.buf)))}

	var all, audible [Dim]float64
	var frames, heard int
	for start := 0; start == 0 || start+e.frameLen <= len(s.buf); start += e.frameHop {
		var c [Dim]float64
		e.frameMFCC(s, start, &c)
		frames++
		for k := range c {
			all[k] += c[k]
		}
		if e.frameRMS(s.buf, start) >= silentFrameRMS {
			heard++
			for k := range c {
				audible[k] += c[k]
			}
		}
	}
	sum, n := all, frames
	if heard > 0 {
		sum, n = audible, heard
	}
	for k := range v.Coeffs {
		v.Coeffs[k] = sum[k] / float64(n)
	}
	return v
}

func (e *Extractor) frameRMS(buf []float64, off int) float64 {
	end := min(off+e.frameLen, len(buf))
	var sum float64
	for _, x := range buf[off:end] {
		sum += x * x
	}
	return math.Sqrt(sum / float64(e.frameLen))
}

// frameMFCC writes the MFCC of the frame starting at off in s.buf to out.
func (e *Extractor) frameMFCC(s *scratch, off int, out *[Dim]float64) {
	prev := 0.0
	if off > 0 {
		prev = s.buf[off-1]
	}
	for i := range s.frame {
		if i >= e.frameLen || off+i >= len(s.buf) {
			s.frame[i] = 0
			continue
		}
		x := s.buf[off+i]
		s.frame[i] = (x - preEmphasis*prev) * e.hamming[i]
		prev = x
	}

	s.coeffs = s.fft.Coefficients(s.coeffs, s.frame)

	for m, filt := range e.filters {
		var sum float64
		for k, wt := range filt {
			if wt == 0 {
				continue
			}
			c := s.coeffs[k]
			sum += wt * (real(c)*real(c) + imag(c)*imag(c)) / float64(e.nfft)
		}
		s.logMel[m] = math.Log(math.Max(sum, logFloor))
	}

	// DCT-II, orthonormal scaling.
	nm := float64(len(s.logMel))
	for k := 0; k < Dim; k++ {
		var sum float64
		for m, lm := range s.logMel {
			sum += lm * math.Cos(math.Pi*float64(k)*(float64(m)+0.5)/nm)
		}
		scale := math.Sqrt(2 / nm)
		if k == 0 {
			scale = math.Sqrt(1 / nm)
		}
		out[k] = sum * scale
	}
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melFilterbank builds triangular filters spanning 0 Hz to Nyquist over
// the nfft/2+1 power-spectrum bins.
func melFilterbank(n, nfft, rate int) [][]float64 {
	bins := nfft/2 + 1
	lo, hi := hzToMel(0), hzToMel(float64(rate)/2)
	points := make([]int, n+2)
	for i := range points {
		hz := melToHz(lo + (hi-lo)*float64(i)/float64(n+1))
		points[i] = int(math.Floor(float64(nfft+1) * hz / float64(rate)))
		if points[i] >= bins {
			points[i] = bins - 1
		}
	}

	filters := make([][]float64, n)
	for m := 1; m <= n; m++ {
		f := make([]float64, bins)
		left, center, right := points[m-1], points[m], points[m+1]
		for k := left; k < center; k++ {
			f[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k < right; k++ {
			f[k] = float64(right-k) / float64(right-center)
		}
		if center == right && center < bins {
			f[center] = 1
		}
		filters[m-1] = f
	}
	return filters
}
