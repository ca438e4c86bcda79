package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/transcript"
)

var (
	// ErrModelLoad means the engine could not load or serve the model.
	ErrModelLoad = errors.New("speech model unavailable")
	// ErrUnsupportedAudio means the engine rejected the audio.
	ErrUnsupportedAudio = errors.New("audio not accepted by speech engine")
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Response, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs"
	Model() string // model identifier for storage and logs
}

// Options are per-request recognition options. Zero-value fields are
// omitted from requests.
type Options struct {
	Language    string          // ISO-639-1; empty lets the engine detect it
	Task        transcript.Task // transcribe (default) or translate
	Temperature float64
	Prompt      string // initial prompt / domain vocabulary
	Hotwords    string // comma-separated boost terms
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Segments []transcript.Segment
}

// Word is a timestamped word from providers that only report words.
type Word struct {
	Word  string
	Start float64 // seconds
	End   float64 // seconds
}

// ModelSizes lists the Whisper model sizes accepted by --model.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large", "turbo"}

// ValidateTask checks a user-supplied task name.
func ValidateTask(task string) (transcript.Task, error) {
	switch transcript.Task(strings.ToLower(task)) {
	case "", transcript.TaskTranscribe:
		return transcript.TaskTranscribe, nil
	case transcript.TaskTranslate:
		return transcript.TaskTranslate, nil
	default:
		return "", fmt.Errorf("unknown task %q (want transcribe or translate)", task)
	}
}

// TranslateUnsupported reports whether model is known not to translate.
// The turbo model is trained for transcription only.
func TranslateUnsupported(model string) bool {
	return strings.Contains(strings.ToLower(model), "turbo")
}

// classifyStatus maps an HTTP error status onto the engine error kinds.
func classifyStatus(provider string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	var kind error
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType ||
		status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		kind = ErrUnsupportedAudio
	case status == http.StatusNotFound || status >= 500:
		kind = ErrModelLoad
	default:
		return fmt.Errorf("%s API error (status %d): %s", provider, status, msg)
	}
	return fmt.Errorf("%w: %s API error (status %d): %s", kind, provider, status, msg)
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Provider string // "whisper" (default), "deepinfra", "elevenlabs"
	URL      string
	Model    string
	APIKey   string
	Keyterms string
	Timeout  time.Duration
}

// NewProvider builds the configured provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "whisper":
		if cfg.URL == "" {
			return nil, errors.New("WHISPER_URL is required for the whisper provider")
		}
		return NewWhisperClient(cfg.URL, cfg.Model, cfg.APIKey, cfg.Timeout), nil
	case "deepinfra":
		if cfg.APIKey == "" {
			return nil, errors.New("DEEPINFRA_API_KEY is required for the deepinfra provider")
		}
		return NewDeepInfraClient(cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "elevenlabs":
		if cfg.APIKey == "" {
			return nil, errors.New("ELEVENLABS_API_KEY is required for the elevenlabs provider")
		}
		return NewElevenLabsClient(cfg.APIKey, cfg.Model, cfg.Keyterms, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Provider)
	}
}
