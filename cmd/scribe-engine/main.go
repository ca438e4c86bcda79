package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/config"
)

var version = "dev"

// overrides collects the persistent flags; non-empty values beat the
// environment.
var overrides config.Overrides

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scribe-engine",
		Short:         "Transcribe and diarize audio into TXT, SRT and VTT transcripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	f.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&overrides.OutputDir, "output-dir", "", "directory for rendered transcripts")
	f.StringVar(&overrides.RecordingsDir, "recordings-dir", "", "directory for recordings")
	f.StringVar(&overrides.Model, "model", "", "speech model (tiny, base, small, medium, large, turbo)")
	f.StringVar(&overrides.Language, "language", "", "spoken language, empty for auto-detect")
	f.StringVar(&overrides.Task, "task", "", "transcribe or translate")
	f.StringVar(&overrides.Formats, "formats", "", "comma-separated output formats (txt,srt,vtt,json)")
	f.StringVar(&overrides.HFToken, "hf-token", "", "access token for the advanced diarization engine")

	root.AddCommand(
		newServeCmd(),
		newTranscribeCmd(),
		newRecordCmd(),
		newDevicesCmd(),
		newConvertCmd(),
		newTokenCmd(),
	)
	return root
}

// loadConfig applies the flag overrides and builds the process logger.
// An explicit --diarize=true/false on cmd wins over DIARIZE.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	if fl := cmd.Flags().Lookup("diarize"); fl != nil && fl.Changed {
		v, _ := cmd.Flags().GetBool("diarize")
		overrides.Diarize = &v
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		return nil, early, fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.DurationFieldUnit = time.Millisecond
	// One-shot commands keep stdout for their results.
	var out io.Writer = os.Stdout
	if cmd.Name() != "serve" {
		out = cmd.ErrOrStderr()
	}
	log := zerolog.New(out).With().Timestamp().Logger().Level(level)
	return cfg, log, nil
}
