package transcript

import (
	"math"
	"sort"
	"strings"
)

// DefaultMaxGap is the largest silence (seconds) bridged when concatenating
// consecutive utterances of the same speaker.
const DefaultMaxGap = 1.0

// Merger assigns speakers to recognition segments. The zero value uses
// DefaultMaxGap.
type Merger struct {
	MaxGap float64
}

// Merge labels each segment with the speaker whose turns overlap it most,
// falls back to the nearest turn when none overlap, and concatenates
// neighbours that share a label. The result is sorted by start and never
// overlaps. With no turns at all every utterance is left unlabeled.
func (m Merger) Merge(segments []Segment, turns []Turn) []Utterance {
	segs := sortedSegments(segments)
	ts := sortedTurns(turns)

	out := make([]Utterance, 0, len(segs))
	for _, seg := range segs {
		u := Utterance{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
		if id, ok := assign(seg, ts); ok {
			u.Speaker = labelPtr(SpeakerLabel(id))
		}
		out = append(out, u)
	}

	return normalize(m.concat(out))
}

// PassThrough maps segments 1:1 into unlabeled utterances. Used when
// diarization was not requested.
func PassThrough(segments []Segment) []Utterance {
	segs := sortedSegments(segments)
	out := make([]Utterance, 0, len(segs))
	for _, seg := range segs {
		out = append(out, Utterance{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)})
	}
	return normalize(out)
}

// assign picks the speaker for one segment. Turns must be sorted by start.
func assign(seg Segment, turns []Turn) (int, bool) {
	if len(turns) == 0 {
		return 0, false
	}

	type score struct {
		overlap    float64
		firstStart float64
	}
	scores := make(map[int]*score)
	for _, t := range turns {
		if t.Start >= seg.End {
			break
		}
		ov := math.Min(seg.End, t.End) - math.Max(seg.Start, t.Start)
		if ov <= 0 {
			continue
		}
		s, ok := scores[t.Speaker]
		if !ok {
			s = &score{firstStart: t.Start}
			scores[t.Speaker] = s
		}
		s.overlap += ov
	}

	if len(scores) > 0 {
		best, found := 0, false
		for id, s := range scores {
			if !found {
				best, found = id, true
				continue
			}
			b := scores[best]
			switch {
			case s.overlap > b.overlap:
				best = id
			case s.overlap == b.overlap && s.firstStart < b.firstStart:
				best = id
			case s.overlap == b.overlap && s.firstStart == b.firstStart && id < best:
				best = id
			}
		}
		return best, true
	}

	return nearest(seg, turns), true
}

// nearest returns the speaker of the turn closest to seg by interval
// distance. Ties go to the earlier turn, then to the lower id.
func nearest(seg Segment, turns []Turn) int {
	best := turns[0]
	bestDist := math.Inf(1)
	for _, t := range turns {
		d := intervalDistance(seg.Start, seg.End, t.Start, t.End)
		if d < bestDist || (d == bestDist && t.Start == best.Start && t.Speaker < best.Speaker) {
			best, bestDist = t, d
		}
	}
	return best.Speaker
}

func intervalDistance(aStart, aEnd, bStart, bEnd float64) float64 {
	switch {
	case bEnd <= aStart:
		return aStart - bEnd
	case bStart >= aEnd:
		return bStart - aEnd
	default:
		return 0
	}
}

func (m Merger) concat(in []Utterance) []Utterance {
	maxGap := m.MaxGap
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}

	var out []Utterance
	for _, u := range in {
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.Speaker != nil && u.Speaker != nil && *prev.Speaker == *u.Speaker &&
				u.Start-prev.End < maxGap {
				prev.Text = joinText(prev.Text, u.Text)
				prev.End = math.Max(prev.End, u.End)
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

// normalize enforces start >= 0, end >= start and end[i] <= start[i+1].
// Input must already be sorted by start.
func normalize(us []Utterance) []Utterance {
	for i := range us {
		if us[i].Start < 0 || math.IsNaN(us[i].Start) {
			us[i].Start = 0
		}
		if us[i].End < us[i].Start || math.IsNaN(us[i].End) {
			us[i].End = us[i].Start
		}
	}
	for i := 0; i+1 < len(us); i++ {
		if us[i].End > us[i+1].Start {
			us[i].End = us[i+1].Start
		}
	}
	return us
}

func sortedSegments(in []Segment) []Segment {
	out := make([]Segment, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func sortedTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
