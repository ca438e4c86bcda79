package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/errs"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

func newTranscribeCmd() *cobra.Command {
	var outputBase, prompt string
	cmd := &cobra.Command{
		Use:   "transcribe <audio>...",
		Short: "Transcribe audio files once and write the transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputBase != "" && len(args) > 1 {
				return errors.New("--output-base needs exactly one audio file")
			}
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defaults, err := requestDefaults(cfg)
			if err != nil {
				return err
			}
			// One-shot runs skip the store's background pruner and reconciler.
			store, _, err := storage.New(cfg.S3, cfg.OutputDir, log)
			if err != nil {
				return err
			}
			pipeline, err := buildPipeline(cfg, store, nil, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var failed int
			for _, path := range args {
				req := defaults.Fill(transcribe.Request{AudioPath: path, OutputBase: outputBase, Prompt: prompt}, nil)
				if err := transcribeOnce(ctx, pipeline, store, req, cmd); err != nil {
					failed++
					cmd.PrintErrf("%s: %s error: %v\n", path, errs.KindOf(err), err)
				}
				if ctx.Err() != nil {
					break
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("diarize", false, "label speakers")
	f.StringVar(&outputBase, "output-base", "", "output file name without extension")
	f.StringVar(&prompt, "prompt", "", "initial prompt passed to the speech engine")
	return cmd
}

// transcribeOnce runs the pipeline without the worker pool and reports the
// written files on stdout.
func transcribeOnce(ctx context.Context, pipeline transcribe.Runner, store storage.ArtifactStore, req transcribe.Request, cmd *cobra.Command) error {
	res, err := pipeline.Run(ctx, req)
	if res != nil {
		for _, o := range res.Outputs {
			where := store.LocalPath(o.Key)
			if where == "" {
				where = o.Key
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", o.Format, where)
		}
		if res.Degraded != nil {
			cmd.PrintErrf("advanced diarization unavailable, used %s: %v\n", res.Diarization, res.Degraded)
		}
	}
	return err
}
