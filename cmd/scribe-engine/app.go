package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/credential"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/record"
	"github.com/snarg/scribe-engine/internal/transcribe"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// buildPipeline wires the speech provider, the diarization runner and the
// output store into a pipeline. archive may be nil.
func buildPipeline(cfg *config.Config, store transcript.Saver, archive transcribe.Archiver, log zerolog.Logger) (*transcribe.Pipeline, error) {
	apiKey := cfg.WhisperAPIKey
	switch strings.ToLower(cfg.SpeechProvider) {
	case "deepinfra":
		apiKey = cfg.DeepInfraAPIKey
	case "elevenlabs":
		apiKey = cfg.ElevenLabsAPIKey
	}
	provider, err := transcribe.NewProvider(transcribe.ProviderConfig{
		Provider: cfg.SpeechProvider,
		URL:      cfg.WhisperURL,
		Model:    cfg.Model,
		APIKey:   apiKey,
		Keyterms: cfg.ElevenLabsKeyterms,
		Timeout:  cfg.SpeechTimeout,
	})
	if err != nil {
		return nil, err
	}

	tok, err := credential.Resolve(cfg.HFToken, credential.NewStore(cfg.CredentialFile))
	if err != nil {
		return nil, fmt.Errorf("diarization credential: %w", err)
	}

	runner := &diarize.Runner{
		Local:             diarize.NewClustering(clusteringParams(cfg.Clustering)),
		FallbackOnNetwork: cfg.DiarizationFallbackNet,
		Log:               log.With().Str("component", "diarize").Logger(),
	}
	if cfg.DiarizationURL != "" {
		runner.Engine = diarize.NewPyannoteClient(diarize.PyannoteOptions{
			BaseURL:     cfg.DiarizationURL,
			Timeout:     cfg.DiarizationTimeout,
			MinSpeakers: cfg.DiarizationMinSpeakers,
			MaxSpeakers: cfg.DiarizationMaxSpeakers,
		})
	}

	log.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Model()).
		Bool("advanced_diarization", runner.Engine != nil).
		Stringer("credential", tok).
		Msg("pipeline configured")

	return transcribe.NewPipeline(transcribe.PipelineOptions{
		Provider:   provider,
		Diarizer:   runner,
		Credential: tok,
		MergeGap:   cfg.MergeGap,
		Store:      store,
		Archive:    archive,
		Preprocess: cfg.Preprocess,
		SearchDirs: []string{cfg.RecordingsDir, cfg.UploadDir},
		Log:        log,
	})
}

func clusteringParams(c config.ClusteringConfig) diarize.Params {
	p := diarize.DefaultParams()
	p.WindowSeconds = c.WindowSeconds
	p.HopSeconds = c.HopSeconds
	p.MaxSpeakers = c.MaxSpeakers
	p.MinSilhouette = c.MinSilhouette
	p.MinCentroidDistance = c.MinCentroidDistance
	p.MinTurnSeconds = c.MinTurnSeconds
	p.SilenceRMS = c.SilenceRMS
	return p
}

// requestDefaults turns the configured output, diarization and speech
// settings into the defaults every intake applies.
func requestDefaults(cfg *config.Config) (transcribe.Defaults, error) {
	formats, err := transcript.ParseFormats(cfg.Formats)
	if err != nil {
		return transcribe.Defaults{}, err
	}
	task, err := transcribe.ValidateTask(cfg.Task)
	if err != nil {
		return transcribe.Defaults{}, err
	}
	return transcribe.Defaults{
		Formats:  formats,
		Diarize:  cfg.Diarize,
		Language: cfg.Language,
		Task:     task,
	}, nil
}

// recordOptions are the capture settings used when a request names none.
func recordOptions(cfg *config.Config) record.Options {
	return record.Options{
		DeviceID:   cfg.RecordDevice,
		SampleRate: cfg.RecordRate,
		Channels:   cfg.RecordChannels,
		Format:     cfg.RecordFormat,
	}
}
