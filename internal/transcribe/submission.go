package transcribe

import (
	"errors"
	"strings"

	"github.com/snarg/scribe-engine/internal/transcript"
)

// Submission is a job request as it arrives from an intake: loosely typed
// strings, with diarize left nil when the submitter did not choose.
type Submission struct {
	AudioPath  string   `json:"audio_path"`
	OutputBase string   `json:"output_base,omitempty"`
	Formats    []string `json:"formats,omitempty"`
	Diarize    *bool    `json:"diarize,omitempty"`
	Language   string   `json:"language,omitempty"`
	Task       string   `json:"task,omitempty"`
	Prompt     string   `json:"prompt,omitempty"`
}

// Request validates the submission and converts it into a pipeline
// request, filling unset fields from d.
func (s Submission) Request(d Defaults) (Request, error) {
	if strings.TrimSpace(s.AudioPath) == "" {
		return Request{}, errors.New("audio_path is required")
	}
	req := Request{
		AudioPath:  s.AudioPath,
		OutputBase: s.OutputBase,
		Language:   s.Language,
		Prompt:     s.Prompt,
	}
	if len(s.Formats) > 0 {
		formats, err := transcript.ParseFormats(strings.Join(s.Formats, ","))
		if err != nil {
			return Request{}, err
		}
		req.Formats = formats
	}
	if s.Task != "" {
		task, err := ValidateTask(s.Task)
		if err != nil {
			return Request{}, err
		}
		req.Task = task
	}
	return d.Fill(req, s.Diarize), nil
}
