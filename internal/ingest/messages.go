package ingest

import "github.com/snarg/scribe-engine/internal/transcribe"

// JobMessage is the JSON body published to a jobs topic.
type JobMessage struct {
	RequestID string `json:"request_id,omitempty"` // echoed back in job events
	transcribe.Submission
}
