package transcribe

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snarg/scribe-engine/internal/transcript"
)

func tempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF0000WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisperClient_Transcribe(t *testing.T) {
	var gotPath, gotAuth, gotFormat, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotFormat = r.FormValue("response_format")
		gotLang = r.FormValue("language")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		w.Write([]byte(`{"text":"hello world","language":"en","duration":4.5,
			"segments":[{"start":0,"end":2,"text":" hello","avg_logprob":-0.1},{"start":2,"end":4.5,"text":" world"}]}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL+"/v1/audio/transcriptions", "base", "sk-test", 5*time.Second)
	resp, err := c.Transcribe(context.Background(), tempAudio(t), Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", gotFormat)
	}
	if gotLang != "en" {
		t.Errorf("language = %q, want en", gotLang)
	}
	if resp.Language != "en" || resp.Duration != 4.5 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Segments) != 2 || resp.Segments[0].Text != "hello" {
		t.Fatalf("segments = %+v", resp.Segments)
	}
	if c := resp.Segments[0].Confidence; c == nil || math.Abs(*c-math.Exp(-0.1)) > 1e-9 {
		t.Errorf("confidence = %v, want exp(-0.1)", c)
	}
	if resp.Segments[1].Confidence != nil {
		t.Error("segment without avg_logprob should have no confidence")
	}
}

func TestWhisperClient_TranslateEndpoint(t *testing.T) {
	var gotPath, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseMultipartForm(1 << 20)
		gotLang = r.FormValue("language")
		w.Write([]byte(`{"text":"good morning","duration":2}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL+"/v1/audio/transcriptions", "small", "", 5*time.Second)
	resp, err := c.Transcribe(context.Background(), tempAudio(t), Options{Language: "de", Task: transcript.TaskTranslate})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotPath != "/v1/audio/translations" {
		t.Errorf("path = %q, want translations endpoint", gotPath)
	}
	if gotLang != "" {
		t.Errorf("language = %q, want omitted for translation", gotLang)
	}
	// Text-only responses become one segment spanning the audio.
	if len(resp.Segments) != 1 || resp.Segments[0].Text != "good morning" || resp.Segments[0].End != 2 {
		t.Errorf("segments = %+v", resp.Segments)
	}
}

func TestWhisperClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"model_missing", http.StatusNotFound, ErrModelLoad},
		{"server_error", http.StatusInternalServerError, ErrModelLoad},
		{"unsupported_media", http.StatusUnsupportedMediaType, ErrUnsupportedAudio},
		{"bad_request", http.StatusBadRequest, ErrUnsupportedAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := NewWhisperClient(srv.URL, "base", "", 5*time.Second)
			_, err := c.Transcribe(context.Background(), tempAudio(t), Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWhisperClient_MissingFile(t *testing.T) {
	c := NewWhisperClient("http://127.0.0.1:1", "base", "", time.Second)
	if _, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), Options{}); err == nil {
		t.Error("expected error for missing audio file")
	}
}

func TestDeepInfraClient_WordFallback(t *testing.T) {
	var gotPath, gotTask, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("missing audio field: %v", err)
		}
		gotTask = r.FormValue("task")
		gotPrompt = r.FormValue("initial_prompt")
		w.Write([]byte(`{"text":"one two. three","language":"en","duration":6,
			"words":[{"text":"one","start":0,"end":0.4},{"text":"two.","start":0.5,"end":1},{"text":"three","start":1.2,"end":1.6}]}`))
	}))
	defer srv.Close()

	c := NewDeepInfraClient("key", "openai/whisper-large-v3", 5*time.Second)
	c.baseURL = srv.URL + "/v1/inference/"
	resp, err := c.Transcribe(context.Background(), tempAudio(t), Options{Task: transcript.TaskTranslate, Prompt: "agenda"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotPath != "/v1/inference/openai/whisper-large-v3" {
		t.Errorf("path = %q", gotPath)
	}
	if gotTask != "translate" || gotPrompt != "agenda" {
		t.Errorf("task = %q, initial_prompt = %q", gotTask, gotPrompt)
	}
	// the sentence end after "two." splits the words into two segments
	if len(resp.Segments) != 2 || resp.Segments[0].Text != "one two." || resp.Segments[1].Start != 1.2 {
		t.Errorf("segments = %+v", resp.Segments)
	}
}

func TestElevenLabsClient_Transcribe(t *testing.T) {
	var gotKey, gotModel, gotTerms string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		r.ParseMultipartForm(1 << 20)
		gotModel = r.FormValue("model_id")
		gotTerms = r.FormValue("keyterms")
		w.Write([]byte(`{"language_code":"eng","text":"hi there","words":[
			{"text":"hi","type":"word","start_time_ms":100,"end_time_ms":400},
			{"text":" ","type":"spacing","start_time_ms":400,"end_time_ms":500},
			{"text":"there","type":"word","start_time_ms":500,"end_time_ms":900}]}`))
	}))
	defer srv.Close()

	c := NewElevenLabsClient("xi-key", "scribe_v1", "Acme, ,Zed", 5*time.Second)
	c.endpoint = srv.URL
	resp, err := c.Transcribe(context.Background(), tempAudio(t), Options{Hotwords: "Kubernetes"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotKey != "xi-key" || gotModel != "scribe_v1" {
		t.Errorf("key = %q, model = %q", gotKey, gotModel)
	}
	if want := `[{"text":"Acme"},{"text":"Zed"},{"text":"Kubernetes"}]`; gotTerms != want {
		t.Errorf("keyterms = %s, want %s", gotTerms, want)
	}
	if len(resp.Segments) != 1 || resp.Segments[0].Text != "hi there" || resp.Segments[0].Start != 0.1 {
		t.Errorf("segments = %+v", resp.Segments)
	}
	if resp.Duration != 0.9 || resp.Language != "eng" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ProviderConfig
		wantName string
		wantErr  bool
	}{
		{"whisper_default", ProviderConfig{URL: "http://x/v1/audio/transcriptions", Model: "base"}, "whisper", false},
		{"whisper_requires_url", ProviderConfig{Provider: "whisper"}, "", true},
		{"deepinfra", ProviderConfig{Provider: "deepinfra", APIKey: "k"}, "deepinfra", false},
		{"deepinfra_requires_key", ProviderConfig{Provider: "deepinfra"}, "", true},
		{"elevenlabs", ProviderConfig{Provider: "ElevenLabs", APIKey: "k"}, "elevenlabs", false},
		{"unknown", ProviderConfig{Provider: "carrier-pigeon"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got provider %v", p.Name())
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestValidateTask(t *testing.T) {
	tests := []struct {
		in      string
		want    transcript.Task
		wantErr bool
	}{
		{"", transcript.TaskTranscribe, false},
		{"transcribe", transcript.TaskTranscribe, false},
		{"Translate", transcript.TaskTranslate, false},
		{"summarize", "", true},
	}
	for _, tt := range tests {
		got, err := ValidateTask(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ValidateTask(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTranslateUnsupported(t *testing.T) {
	if !TranslateUnsupported("turbo") || !TranslateUnsupported("large-v3-turbo") {
		t.Error("turbo models should not translate")
	}
	if TranslateUnsupported("medium") {
		t.Error("medium should translate")
	}
}
