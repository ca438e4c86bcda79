package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"
)

const elevenLabsEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient uses the ElevenLabs speech-to-text API, which reports
// word timings only. Words are grouped into segments locally.
type ElevenLabsClient struct {
	endpoint string
	apiKey   string
	model    string   // "scribe_v1" or "scribe_v2"
	keyterms []string // boost terms sent with every request
	client   *http.Client
}

type elevenLabsReply struct {
	LanguageCode string `json:"language_code"`
	Text         string `json:"text"`
	Words        []struct {
		Text    string  `json:"text"`
		Type    string  `json:"type"` // "word", "spacing" or "audio_event"
		StartMs float64 `json:"start_time_ms"`
		EndMs   float64 `json:"end_time_ms"`
	} `json:"words"`
}

// NewElevenLabsClient creates a client. keyterms is comma-separated.
func NewElevenLabsClient(apiKey, model, keyterms string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		endpoint: elevenLabsEndpoint,
		apiKey:   apiKey,
		model:    model,
		keyterms: splitTerms(keyterms),
		client:   &http.Client{Timeout: timeout},
	}
}

func (el *ElevenLabsClient) Name() string  { return "elevenlabs" }
func (el *ElevenLabsClient) Model() string { return el.model }

func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error) {
	u := upload{
		provider:  "elevenlabs",
		url:       el.endpoint,
		fileField: "file",
		header:    http.Header{"Xi-Api-Key": {el.apiKey}},
	}
	u.field("model_id", el.model)
	u.field("language_code", opts.Language)
	u.field("timestamps_granularity", "word")
	u.field("keyterms", keytermsJSON(slices.Concat(el.keyterms, splitTerms(opts.Hotwords))))

	var reply elevenLabsReply
	if err := u.post(ctx, el.client, audioPath, &reply); err != nil {
		return nil, err
	}

	var words []Word
	for _, w := range reply.Words {
		if w.Type == "word" {
			words = append(words, Word{Word: w.Text, Start: w.StartMs / 1000, End: w.EndMs / 1000})
		}
	}
	out := &Response{Text: reply.Text, Language: reply.LanguageCode, Segments: SegmentsFromWords(words)}
	if n := len(words); n > 0 {
		out.Duration = words[n-1].End
	}
	return out, nil
}

func splitTerms(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// keytermsJSON encodes terms as [{"text": ...}], or "" when there are none.
func keytermsJSON(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	type keyterm struct {
		Text string `json:"text"`
	}
	arr := make([]keyterm, len(terms))
	for i, t := range terms {
		arr[i] = keyterm{Text: t}
	}
	b, _ := json.Marshal(arr)
	return string(b)
}
