package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/credential"
	"github.com/snarg/scribe-engine/internal/transcript"
)

const defaultPyannoteTimeout = 300 * time.Second

// PyannoteClient calls a pyannote HTTP sidecar exposing POST /diarize.
// The credential is forwarded as a bearer token so the sidecar can load
// the gated model on the caller's behalf.
type PyannoteClient struct {
	baseURL     string
	minSpeakers int
	maxSpeakers int
	client      *http.Client
}

// PyannoteOptions configures NewPyannoteClient.
type PyannoteOptions struct {
	BaseURL     string
	Timeout     time.Duration
	MinSpeakers int
	MaxSpeakers int
}

// NewPyannoteClient creates a client for the sidecar at opts.BaseURL.
func NewPyannoteClient(opts PyannoteOptions) *PyannoteClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPyannoteTimeout
	}
	return &PyannoteClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		minSpeakers: opts.MinSpeakers,
		maxSpeakers: opts.MaxSpeakers,
		client:      &http.Client{Timeout: opts.Timeout},
	}
}

func (p *PyannoteClient) Name() string { return "pyannote" }

// Healthy reports whether the sidecar answers GET /health with 200.
func (p *PyannoteClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Diarize uploads the audio and converts the returned segments into turns.
// Speaker names are mapped to ids by order of first appearance.
func (p *PyannoteClient) Diarize(ctx context.Context, audioPath string, cred credential.Token) ([]transcript.Turn, error) {
	if !cred.IsSet() {
		return nil, fmt.Errorf("%w: no credential", ErrAuthentication)
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	// Stream the multipart body instead of buffering whole recordings.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("audio", filepath.Base(audioPath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil && p.minSpeakers > 0 {
			err = mw.WriteField("min_speakers", fmt.Sprint(p.minSpeakers))
		}
		if err == nil && p.maxSpeakers > 0 {
			err = mw.WriteField("max_speakers", fmt.Sprint(p.maxSpeakers))
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/diarize", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+cred.Reveal())

	resp, err := p.client.Do(req)
	if err != nil {
		pr.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Every transport failure (refused, DNS, timeout) counts as unreachable.
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (status %d)", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w (status %d)", ErrNetwork, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("diarization error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result pyannoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode diarization response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("diarization error: %s", result.Error)
	}
	return toTurns(result.Segments), nil
}

type pyannoteResponse struct {
	Segments    []pyannoteSegment `json:"segments"`
	NumSpeakers int               `json:"num_speakers"`
	Error       string            `json:"error,omitempty"`
}

type pyannoteSegment struct {
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

func toTurns(segs []pyannoteSegment) []transcript.Turn {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].StartTime < segs[j].StartTime })
	ids := make(map[string]int)
	turns := make([]transcript.Turn, 0, len(segs))
	for _, s := range segs {
		if s.EndTime <= s.StartTime {
			continue
		}
		id, ok := ids[s.SpeakerID]
		if !ok {
			id = len(ids)
			ids[s.SpeakerID] = id
		}
		turns = append(turns, transcript.Turn{Start: s.StartTime, End: s.EndTime, Speaker: id})
	}
	return turns
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
