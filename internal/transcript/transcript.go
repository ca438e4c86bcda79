// Package transcript aligns recognition segments with speaker turns and
// renders the result as TXT, SRT, WebVTT or JSON.
package transcript

import (
	"strconv"
	"time"
)

// Segment is a span of recognized text as reported by a speech engine.
// Times are seconds from the start of the audio.
type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Turn is a span attributed to one speaker by a diarizer. Speaker ids are
// zero-based and assigned in order of first appearance.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

// Utterance is one line of the final transcript. Speaker is nil when no
// speaker information is available for it.
type Utterance struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker,omitempty"`
}

// Label returns the speaker label or "" when unset.
func (u Utterance) Label() string {
	if u.Speaker == nil {
		return ""
	}
	return *u.Speaker
}

// Task is the recognition task the transcript was produced with.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Transcript is the merged, ordered result of one pipeline run.
type Transcript struct {
	Source      string      `json:"source,omitempty"`
	Language    string      `json:"language,omitempty"`
	Task        Task        `json:"task,omitempty"`
	Model       string      `json:"model,omitempty"`
	Diarization string      `json:"diarization,omitempty"`
	Duration    float64     `json:"duration,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Utterances  []Utterance `json:"utterances"`
}

// Speakers returns the distinct labels in order of first appearance.
func (t *Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range t.Utterances {
		if u.Speaker == nil || seen[*u.Speaker] {
			continue
		}
		seen[*u.Speaker] = true
		out = append(out, *u.Speaker)
	}
	return out
}

// SpeakerLabel converts a zero-based speaker id into its display label.
func SpeakerLabel(id int) string {
	return "Speaker " + strconv.Itoa(id+1)
}

func labelPtr(s string) *string { return &s }
