package transcribe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/transcript"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient uses DeepInfra's hosted Whisper inference API.
type DeepInfraClient struct {
	baseURL string
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	client  *http.Client
}

// deepInfraReply carries segments, or only words on some models. Words use
// "text" rather than OpenAI's "word".
type deepInfraReply struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Words []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{baseURL: deepInfraBaseURL, apiKey: apiKey, model: model, client: &http.Client{Timeout: timeout}}
}

func (di *DeepInfraClient) Name() string  { return "deepinfra" }
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe posts to {baseURL}{model}. The audio goes in an "audio" part.
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	u := upload{
		provider:  "deepinfra",
		url:       di.baseURL + di.model,
		fileField: "audio",
		header:    http.Header{"Authorization": {"Bearer " + di.apiKey}},
	}
	u.field("language", opts.Language)
	if opts.Task == transcript.TaskTranslate {
		u.field("task", "translate")
	}
	u.field("initial_prompt", opts.Prompt)

	var reply deepInfraReply
	if err := u.post(ctx, di.client, audioPath, &reply); err != nil {
		return nil, err
	}

	out := &Response{Text: reply.Text, Language: reply.Language, Duration: reply.Duration}
	for _, s := range reply.Segments {
		out.Segments = append(out.Segments, transcript.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if len(out.Segments) == 0 && len(reply.Words) > 0 {
		words := make([]Word, len(reply.Words))
		for i, w := range reply.Words {
			words[i] = Word{Word: w.Text, Start: w.Start, End: w.End}
		}
		out.Segments = SegmentsFromWords(words)
	}
	return out, nil
}
