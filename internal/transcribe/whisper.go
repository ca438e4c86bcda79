package transcribe

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/transcript"
)

// WhisperClient talks to an OpenAI-compatible speech server such as
// speaches or faster-whisper-server. Translation requests go to the sibling
// /translations endpoint.
type WhisperClient struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

type whisperReply struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// NewWhisperClient returns a client for the transcription endpoint at url.
// apiKey may be empty for self-hosted servers.
func NewWhisperClient(url, model, apiKey string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{url: url, model: model, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe uploads the audio and converts the verbose_json reply into
// segments. Confidence is exp(avg_logprob) when the server reports it.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	u := upload{provider: "whisper", url: wc.url, fileField: "file", header: http.Header{}}
	if opts.Task == transcript.TaskTranslate {
		u.url = strings.Replace(wc.url, "/transcriptions", "/translations", 1)
	} else {
		// the translations endpoint always targets English and detects the source
		u.field("language", opts.Language)
	}
	if wc.apiKey != "" {
		u.header.Set("Authorization", "Bearer "+wc.apiKey)
	}
	u.field("model", wc.model)
	u.field("temperature", strconv.FormatFloat(opts.Temperature, 'f', 2, 64))
	u.field("response_format", "verbose_json")
	u.field("timestamp_granularities[]", "segment")
	u.field("prompt", opts.Prompt)
	u.field("hotwords", opts.Hotwords)

	var reply whisperReply
	if err := u.post(ctx, wc.client, audioPath, &reply); err != nil {
		return nil, err
	}

	out := &Response{Text: reply.Text, Language: reply.Language, Duration: reply.Duration}
	for _, s := range reply.Segments {
		seg := transcript.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		if s.AvgLogprob != nil {
			c := math.Exp(*s.AvgLogprob)
			seg.Confidence = &c
		}
		out.Segments = append(out.Segments, seg)
	}
	// Servers without segment support still return the full text.
	if text := strings.TrimSpace(reply.Text); len(out.Segments) == 0 && text != "" {
		out.Segments = []transcript.Segment{{Start: 0, End: reply.Duration, Text: text}}
	}
	return out, nil
}
