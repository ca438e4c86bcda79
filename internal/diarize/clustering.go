package diarize

import (
	"context"
	"fmt"
	"math"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/features"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// Params tunes local clustering. Zero fields take the defaults from
// DefaultParams; a negative SilenceRMS disables silence gating.
type Params struct {
	WindowSeconds       float64 // analysis window length
	HopSeconds          float64 // distance between window starts
	MaxSpeakers         int     // largest k evaluated
	MinSilhouette       float64 // below this the audio is treated as one speaker
	MinCentroidDistance float64 // closer centroids, in unscaled cepstral units, collapse to one speaker
	MinTurnSeconds      float64 // shorter turns are absorbed by a neighbour
	SilenceRMS          float64 // windows quieter than this inherit a neighbour's label
	StdFloor            float64 // lower bound on per-dimension std when standardising
	SilhouetteSample    int     // max windows scored for silhouette
	MaxIterations       int     // k-means iteration cap
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		WindowSeconds:       1.5,
		HopSeconds:          0.75,
		MaxSpeakers:         6,
		MinSilhouette:       0.25,
		MinCentroidDistance: 12.0,
		MinTurnSeconds:      1.0,
		SilenceRMS:          0.003,
		StdFloor:            1.0,
		SilhouetteSample:    1000,
		MaxIterations:       100,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.WindowSeconds <= 0 {
		p.WindowSeconds = d.WindowSeconds
	}
	if p.HopSeconds <= 0 {
		p.HopSeconds = d.HopSeconds
	}
	if p.MaxSpeakers < 2 {
		p.MaxSpeakers = d.MaxSpeakers
	}
	if p.MinSilhouette <= 0 {
		p.MinSilhouette = d.MinSilhouette
	}
	if p.MinCentroidDistance <= 0 {
		p.MinCentroidDistance = d.MinCentroidDistance
	}
	if p.MinTurnSeconds <= 0 {
		p.MinTurnSeconds = d.MinTurnSeconds
	}
	switch {
	case p.SilenceRMS == 0:
		p.SilenceRMS = d.SilenceRMS
	case p.SilenceRMS < 0:
		p.SilenceRMS = 0 // gating disabled
	}
	if p.StdFloor <= 0 {
		p.StdFloor = d.StdFloor
	}
	if p.SilhouetteSample <= 1 {
		p.SilhouetteSample = d.SilhouetteSample
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = d.MaxIterations
	}
	return p
}

// Clustering diarizes audio by clustering MFCC window vectors. It is
// deterministic: identical audio and parameters give identical turns.
type Clustering struct {
	params Params
	rate   int
}

// NewClustering returns a local diarizer working at 16kHz.
func NewClustering(p Params) *Clustering {
	return &Clustering{params: p.withDefaults(), rate: audio.DefaultSampleRate}
}

// Params returns the effective parameters.
func (c *Clustering) Params() Params { return c.params }

// Diarize decodes audioPath and clusters it into speaker turns.
func (c *Clustering) Diarize(ctx context.Context, audioPath string) ([]transcript.Turn, error) {
	turns, _, err := c.diarizeFile(ctx, audioPath)
	return turns, err
}

func (c *Clustering) diarizeFile(ctx context.Context, audioPath string) ([]transcript.Turn, float64, error) {
	pcm, err := audio.Decode(ctx, audioPath, c.rate)
	if err != nil {
		return nil, 0, fmt.Errorf("decode for diarization: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	turns, err := c.DiarizeSamples(pcm.Samples, pcm.Rate)
	return turns, pcm.Duration(), err
}

// DiarizeSamples clusters mono PCM at rate Hz into speaker turns ordered by
// start, with ids relabelled by first appearance from 0.
func (c *Clustering) DiarizeSamples(samples []float32, rate int) ([]transcript.Turn, error) {
	p := c.params
	window := int(math.Round(p.WindowSeconds * float64(rate)))
	hop := int(math.Round(p.HopSeconds * float64(rate)))
	if len(samples) < window {
		return nil, ErrInsufficientAudio
	}

	seq, err := features.NewExtractor(rate).Extract(samples, window, hop)
	if err != nil {
		return nil, err
	}
	var (
		points [][]float64
		voiced []int // window index of each point
		nWin   int
	)
	for v := range seq {
		nWin++
		if v.RMS < p.SilenceRMS {
			continue
		}
		// c0 tracks loudness, not voice.
		pt := make([]float64, features.Dim-1)
		copy(pt, v.Coeffs[1:])
		points = append(points, pt)
		voiced = append(voiced, v.Index)
	}

	labels := make([]int, nWin)
	for i := range labels {
		labels[i] = -1
	}
	if len(points) > 0 {
		assign := c.cluster(points)
		for i, w := range voiced {
			labels[w] = assign[i]
		}
	}
	fillSilent(labels)

	duration := float64(len(samples)) / float64(rate)
	turns := windowTurns(labels, p.HopSeconds, duration)
	turns = absorbShort(turns, p.MinTurnSeconds)
	return relabel(turns), nil
}

// cluster picks k by silhouette and returns the label of every point. A
// candidate only counts when its silhouette reaches MinSilhouette and no two
// of its clusters have raw means closer than MinCentroidDistance. Without
// one, every point is a single speaker.
func (c *Clustering) cluster(raw [][]float64) []int {
	p := c.params
	points := standardize(raw, p.StdFloor)
	single := make([]int, len(points))

	maxK := min(p.MaxSpeakers, len(points)-1)
	if maxK < 2 {
		return single
	}

	sample := strideSample(len(points), p.SilhouetteSample)
	bestScore := math.Inf(-1)
	var best []int
	for k := 2; k <= maxK; k++ {
		res := kmeans(points, k, p.MaxIterations)
		score := silhouette(points, res.labels, k, sample)
		if score < p.MinSilhouette || score <= bestScore {
			continue
		}
		// Standardising stretches a single voice's drift into clusters
		// that look separate, so distance is judged on the raw cepstra.
		if m := means(raw, res.labels, k); len(m) < 2 || minCentroidDistance(m) < p.MinCentroidDistance {
			continue
		}
		bestScore, best = score, res.labels
	}
	if best == nil {
		return single
	}
	return best
}

// fillSilent gives unlabeled windows the label of the previous labeled
// window, or of the first labeled window for leading silence. An all-silent
// signal becomes a single speaker.
func fillSilent(labels []int) {
	first := -1
	for _, l := range labels {
		if l >= 0 {
			first = l
			break
		}
	}
	if first < 0 {
		first = 0
	}
	prev := first
	for i, l := range labels {
		if l < 0 {
			labels[i] = prev
		} else {
			prev = l
		}
	}
}

// windowTurns merges consecutive same-label windows. Window i covers
// [i*hop, (i+1)*hop); the last one runs to the end of the audio.
func windowTurns(labels []int, hop, duration float64) []transcript.Turn {
	var turns []transcript.Turn
	for i, l := range labels {
		start := float64(i) * hop
		end := float64(i+1) * hop
		if i == len(labels)-1 || end > duration {
			end = duration
		}
		if start >= end {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Speaker == l {
			turns[n-1].End = end
			continue
		}
		turns = append(turns, transcript.Turn{Start: start, End: end, Speaker: l})
	}
	return turns
}

// absorbShort repeatedly folds the shortest turn under minDur into its
// longer neighbour (the earlier one on a tie) until none remain or only
// one turn is left.
func absorbShort(turns []transcript.Turn, minDur float64) []transcript.Turn {
	for len(turns) > 1 {
		idx := -1
		for i, t := range turns {
			d := t.End - t.Start
			if d < minDur && (idx < 0 || d < turns[idx].End-turns[idx].Start) {
				idx = i
			}
		}
		if idx < 0 {
			break
		}

		target := idx - 1
		if idx == 0 {
			target = 1
		} else if idx+1 < len(turns) {
			prevLen := turns[idx-1].End - turns[idx-1].Start
			nextLen := turns[idx+1].End - turns[idx+1].Start
			if nextLen > prevLen {
				target = idx + 1
			}
		}

		if target < idx {
			turns[target].End = turns[idx].End
		} else {
			turns[target].Start = turns[idx].Start
		}
		turns = append(turns[:idx], turns[idx+1:]...)

		// The removal may leave two same-speaker turns touching.
		merged := turns[:1]
		for _, t := range turns[1:] {
			last := &merged[len(merged)-1]
			if last.Speaker == t.Speaker {
				last.End = t.End
				continue
			}
			merged = append(merged, t)
		}
		turns = merged
	}
	return turns
}

// relabel renumbers speakers by order of first appearance from 0.
func relabel(turns []transcript.Turn) []transcript.Turn {
	ids := make(map[int]int)
	for i := range turns {
		id, ok := ids[turns[i].Speaker]
		if !ok {
			id = len(ids)
			ids[turns[i].Speaker] = id
		}
		turns[i].Speaker = id
	}
	return turns
}
