package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/credential"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/errs"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// Archiver stores finished transcripts. *database.DB satisfies it.
type Archiver interface {
	InsertTranscript(ctx context.Context, t *transcript.Transcript) (int64, error)
}

// PipelineOptions wires the collaborators of a Pipeline.
type PipelineOptions struct {
	Provider   Provider
	Diarizer   *diarize.Runner // nil uses local clustering with default params
	Credential credential.Token
	MergeGap   float64
	Store      transcript.Saver
	Archive    Archiver // nil disables archiving
	Preprocess bool
	SearchDirs []string
	Log        zerolog.Logger
}

// Request describes one transcription run.
type Request struct {
	AudioPath  string              `json:"audio_path"`
	OutputBase string              `json:"output_base,omitempty"` // defaults to the audio file name without extension
	Formats    []transcript.Format `json:"formats,omitempty"`     // defaults to txt, srt, vtt
	Diarize    bool                `json:"diarize"`
	Language   string              `json:"language,omitempty"`
	Task       transcript.Task     `json:"task,omitempty"`
	Prompt     string              `json:"prompt,omitempty"`
}

// Result is the outcome of a pipeline run.
type Result struct {
	Transcript   *transcript.Transcript
	Outputs      []transcript.Output
	Diarization  string // strategy that produced the speaker turns
	Degraded     error  // advanced diarization error when local clustering was used instead
	TranscriptID int64  // archive id, 0 when not archived
	Elapsed      time.Duration
}

// DefaultFormats are written when a Request names none.
var DefaultFormats = []transcript.Format{transcript.FormatTXT, transcript.FormatSRT, transcript.FormatVTT}

// Defaults supply the request fields an intake (API, MQTT, watch folder)
// left unset.
type Defaults struct {
	Formats  []transcript.Format
	Diarize  bool
	Language string
	Task     transcript.Task
}

// Fill returns req with every empty field taken from d. diarize is the
// submitter's explicit choice; nil means use the default.
func (d Defaults) Fill(req Request, diarize *bool) Request {
	if len(req.Formats) == 0 {
		req.Formats = d.Formats
	}
	if req.Language == "" {
		req.Language = d.Language
	}
	if req.Task == "" {
		req.Task = d.Task
	}
	req.Diarize = d.Diarize
	if diarize != nil {
		req.Diarize = *diarize
	}
	return req
}

// Pipeline turns one audio file into a rendered transcript: speech
// recognition and diarization run concurrently over the same audio, their
// results are merged, and every requested format is written.
type Pipeline struct {
	provider   Provider
	diarizer   *diarize.Runner
	credential credential.Token
	merger     transcript.Merger
	writer     transcript.Writer
	archive    Archiver
	preprocess bool
	searchDirs []string
	log        zerolog.Logger
}

// NewPipeline creates a pipeline. Provider and Store are required.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Provider == nil {
		return nil, errors.New("pipeline: speech provider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: output store is required")
	}
	log := opts.Log.With().Str("component", "pipeline").Logger()
	runner := opts.Diarizer
	if runner == nil {
		runner = &diarize.Runner{
			Local:             diarize.NewClustering(diarize.DefaultParams()),
			FallbackOnNetwork: true,
			Log:               log,
		}
	}
	gap := opts.MergeGap
	if gap <= 0 {
		gap = transcript.DefaultMaxGap
	}
	if opts.Preprocess && !audio.CheckSox() && !audio.CheckFFmpeg() {
		log.Warn().Msg("preprocessing requested but neither sox nor ffmpeg found in PATH; preprocessing disabled")
		opts.Preprocess = false
	}
	return &Pipeline{
		provider:   opts.Provider,
		diarizer:   runner,
		credential: opts.Credential,
		merger:     transcript.Merger{MaxGap: gap},
		writer:     transcript.Writer{Store: opts.Store},
		archive:    opts.Archive,
		preprocess: opts.Preprocess,
		searchDirs: opts.SearchDirs,
		log:        log,
	}, nil
}

// Model returns the speech model identifier.
func (p *Pipeline) Model() string { return p.provider.Model() }

// Run transcribes req.AudioPath. Cancellation is honoured between stages;
// a call already in flight to an engine runs to completion. When some
// output formats fail, Run returns the result together with the joined
// format errors.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	path, err := audio.ResolveFile(req.AudioPath, p.searchDirs...)
	if err != nil {
		return nil, err
	}
	task, err := ValidateTask(string(req.Task))
	if err != nil {
		return nil, errs.Input("options", path, err)
	}
	formats := req.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	log := p.log.With().Str("audio", path).Logger()

	if task == transcript.TaskTranslate && TranslateUnsupported(p.provider.Model()) {
		log.Warn().Str("model", p.provider.Model()).
			Msg("model is not trained for translation; output may be in the source language")
	}

	if err := checkpoint(ctx, "prepare", path); err != nil {
		return nil, err
	}

	enginePath := path
	if p.preprocess {
		stageStart := time.Now()
		prepared, cleanup, err := audio.Prepare(ctx, path)
		metrics.ObserveStage("preprocess", stageStart)
		if err != nil {
			log.Warn().Err(err).Msg("preprocessing failed, using original audio")
		} else {
			enginePath = prepared
			defer cleanup()
		}
	}

	strategy := diarize.Resolve(req.Diarize, p.diarizer.Engine != nil, p.credential)

	if err := checkpoint(ctx, "recognize", path); err != nil {
		return nil, err
	}

	// Engines are opaque: once started they run to completion.
	engineCtx := context.WithoutCancel(ctx)
	var (
		g      errgroup.Group
		speech *Response
		dres   diarize.Result
	)
	g.Go(func() error {
		stageStart := time.Now()
		defer metrics.ObserveStage("speech", stageStart)
		resp, err := p.provider.Transcribe(engineCtx, enginePath, Options{
			Language: req.Language,
			Task:     task,
			Prompt:   req.Prompt,
		})
		if err != nil {
			return errs.Engine("speech", path, fmt.Errorf("%s: %w", p.provider.Name(), err))
		}
		speech = resp
		return nil
	})
	g.Go(func() error {
		stageStart := time.Now()
		defer metrics.ObserveStage("diarize", stageStart)
		res, err := p.diarizer.Run(engineCtx, strategy, enginePath)
		if err != nil {
			return err
		}
		dres = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.DiarizationTotal.WithLabelValues(dres.Used).Inc()
	if dres.Degraded != nil {
		metrics.DiarizationFallbacksTotal.Inc()
	}

	if err := checkpoint(ctx, "merge", path); err != nil {
		return nil, err
	}

	var utterances []transcript.Utterance
	if _, none := strategy.(diarize.None); none {
		utterances = transcript.PassThrough(speech.Segments)
	} else {
		utterances = p.merger.Merge(speech.Segments, dres.Turns)
	}

	language := speech.Language
	if language == "" {
		language = req.Language
	}
	t := &transcript.Transcript{
		Source:      filepath.Base(path),
		Language:    language,
		Task:        task,
		Model:       p.provider.Model(),
		Diarization: dres.Used,
		Duration:    speech.Duration,
		CreatedAt:   time.Now().UTC(),
		Utterances:  utterances,
	}
	if t.Duration == 0 && len(utterances) > 0 {
		t.Duration = utterances[len(utterances)-1].End
	}

	base := req.OutputBase
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	stageStart := time.Now()
	outputs, writeErr := p.writer.WriteAll(ctx, t, base, formats)
	metrics.ObserveStage("write", stageStart)
	for _, o := range outputs {
		metrics.OutputsTotal.WithLabelValues(string(o.Format), "ok").Inc()
	}
	if writeErr != nil {
		for _, f := range formats {
			if !written(outputs, f) {
				metrics.OutputsTotal.WithLabelValues(string(f), "error").Inc()
			}
		}
		log.Error().Err(writeErr).Int("written", len(outputs)).Msg("some output formats failed")
	}

	res := &Result{
		Transcript:  t,
		Outputs:     outputs,
		Diarization: dres.Used,
		Degraded:    dres.Degraded,
	}

	if p.archive != nil {
		id, err := p.archive.InsertTranscript(ctx, t)
		if err != nil {
			log.Warn().Err(err).Msg("transcript archive insert failed")
		} else {
			res.TranscriptID = id
		}
	}

	res.Elapsed = time.Since(start)
	log.Info().
		Str("language", t.Language).
		Str("task", string(t.Task)).
		Str("model", t.Model).
		Str("diarization", t.Diarization).
		Bool("degraded", dres.Degraded != nil).
		Int("segments", len(speech.Segments)).
		Int("turns", len(dres.Turns)).
		Int("utterances", len(t.Utterances)).
		Int("speakers", len(t.Speakers())).
		Float64("audio_seconds", t.Duration).
		Dur("elapsed", res.Elapsed).
		Msg("transcription complete")

	return res, writeErr
}

// checkpoint reports a cancelled context before the named stage starts.
func checkpoint(ctx context.Context, stage, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s cancelled before %s: %w", path, stage, err)
	}
	return nil
}

func written(outputs []transcript.Output, f transcript.Format) bool {
	for _, o := range outputs {
		if o.Format == f {
			return true
		}
	}
	return false
}
