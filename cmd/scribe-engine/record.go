package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/record"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

func newRecordCmd() *cobra.Command {
	var (
		device         string
		format         string
		duration       time.Duration
		autoTranscribe bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from an input device until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts := recordOptions(cfg)
			if device != "" {
				opts.DeviceID = device
			}
			if format != "" {
				opts.Format = format
			}

			var last atomic.Int64
			opts.OnLevel = func(level float64) {
				now := time.Now().UnixNano()
				prev := last.Load()
				if now-prev < int64(200*time.Millisecond) || !last.CompareAndSwap(prev, now) {
					return
				}
				cmd.PrintErrf("\rlevel %s", meter(level))
			}
			interrupted := make(chan string, 1)
			opts.OnInterrupted = func(path string, err error) {
				cmd.PrintErrf("\nrecording interrupted: %v\n", err)
				interrupted <- path
			}

			session := record.NewSession(record.NewExecDevice(cfg.RecordBackend), cfg.RecordingsDir, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			// The capture process must outlive ctx so Stop can flush it.
			if err := session.Start(context.WithoutCancel(ctx), opts); err != nil {
				return err
			}
			cmd.PrintErrln("recording, press Ctrl-C to stop")

			var timeout <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				timeout = timer.C
			}

			var path string
			select {
			case path = <-interrupted:
			case <-ctx.Done():
			case <-timeout:
			}
			if path == "" {
				path, err = session.Stop(context.Background())
				cmd.PrintErrln()
				if errors.Is(err, record.ErrNotRecording) {
					// Ctrl-C reaches the capture process too and it may exit first.
					select {
					case path = <-interrupted:
					case <-time.After(2 * time.Second):
					}
					err = nil
				}
				if err != nil {
					return err
				}
			}
			if path == "" {
				return errors.New("recording failed before any audio was saved")
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)

			if !autoTranscribe {
				return nil
			}
			return transcribeRecording(cmd, path)
		},
	}
	f := cmd.Flags()
	f.StringVar(&device, "device", "", "input device id (see the devices command)")
	f.StringVar(&format, "format", "", "saved file format: wav, mp3 or flac")
	f.DurationVar(&duration, "duration", 0, "stop after this long, 0 records until Ctrl-C")
	f.BoolVar(&autoTranscribe, "transcribe", false, "transcribe the recording once it is saved")
	f.Bool("diarize", false, "label speakers when transcribing")
	return cmd
}

// transcribeRecording runs the one-shot pipeline over a saved recording.
func transcribeRecording(cmd *cobra.Command, path string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defaults, err := requestDefaults(cfg)
	if err != nil {
		return err
	}
	store, _, err := storage.New(cfg.S3, cfg.OutputDir, log)
	if err != nil {
		return err
	}
	pipeline, err := buildPipeline(cfg, store, nil, log)
	if err != nil {
		return err
	}
	req := defaults.Fill(transcribe.Request{AudioPath: path}, nil)
	if err := transcribeOnce(cmd.Context(), pipeline, store, req, cmd); err != nil {
		return fmt.Errorf("transcribe %s: %w", path, err)
	}
	return nil
}

// meter draws level in [0,1] as a fixed-width bar.
func meter(level float64) string {
	const width = 30
	n := int(level*width + 0.5)
	n = max(0, min(width, n))
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}
