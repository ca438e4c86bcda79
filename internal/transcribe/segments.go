package transcribe

import (
	"strings"

	"github.com/snarg/scribe-engine/internal/transcript"
)

const (
	// segmentPause splits segments at silences at least this long.
	segmentPause = 0.8
	// segmentMaxSeconds caps segment length so long monologues still break.
	segmentMaxSeconds = 15.0
)

// SegmentsFromWords groups word timestamps into recognition segments. A new
// segment starts after a pause of segmentPause seconds, after a word ending
// a sentence, or once the current one reaches segmentMaxSeconds.
// Used for providers that only return word-level timestamps.
func SegmentsFromWords(words []Word) []transcript.Segment {
	var segments []transcript.Segment
	var cur *transcript.Segment
	var endsSentence bool

	for _, w := range words {
		tok := strings.TrimSpace(w.Word)
		if tok == "" {
			continue
		}
		if cur != nil && (endsSentence || w.Start-cur.End >= segmentPause || w.End-cur.Start > segmentMaxSeconds) {
			segments = append(segments, *cur)
			cur = nil
		}
		if cur == nil {
			cur = &transcript.Segment{Start: w.Start, End: w.End, Text: tok}
		} else {
			cur.End = w.End
			cur.Text += " " + tok
		}
		endsSentence = strings.ContainsAny(tok[len(tok)-1:], ".?!")
	}
	if cur != nil {
		segments = append(segments, *cur)
	}
	return segments
}
