package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/ingest"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/mqttclient"
	"github.com/snarg/scribe-engine/internal/record"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers, watch folder and MQTT intake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address")
	f.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for the transcript archive")
	f.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker", "", "MQTT broker URL")
	f.StringVar(&overrides.WatchDir, "watch-dir", "", "directory watched for new audio")
	f.Bool("diarize", false, "diarize jobs that do not say otherwise")
	return cmd
}

func serve(cfg *config.Config, log zerolog.Logger) error {
	startTime := time.Now()
	log.Info().Str("version", version).Msg("scribe-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults, err := requestDefaults(cfg)
	if err != nil {
		return err
	}

	// Artifact storage
	store, services, err := storage.New(cfg.S3, cfg.OutputDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		return err
	}
	for _, svc := range services {
		svc.Start()
		defer svc.Stop()
	}

	// Transcript archive (optional)
	var (
		db      *database.DB
		archive api.TranscriptArchive
		saver   transcribe.Archiver
	)
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(ctx, cfg.DatabaseURL, log.With().Str("component", "database").Logger())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			return err
		}
		archive, saver = db, db
	}

	pipeline, err := buildPipeline(cfg, store, saver, log)
	if err != nil {
		return err
	}

	// Worker pool and ingest hub. The pool publishes through the hub, which
	// needs the pool to submit, so the callback resolves hub late.
	var hub *ingest.Hub
	pool := transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
		Runner:    pipeline,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		PublishEvent: func(eventType string, payload map[string]any) {
			hub.PublishEvent(eventType, payload)
		},
		Log: log,
	})
	hub = ingest.NewHub(ingest.HubOptions{
		Jobs:       pool,
		Defaults:   defaults,
		EventTopic: cfg.MQTTEventTopic,
		Log:        log,
	})
	pool.Start()
	hub.Start()

	// Live recording
	device := record.NewExecDevice(cfg.RecordBackend)
	recOpts := ingest.RecordingOptions{
		Session:    record.NewSession(device, cfg.RecordingsDir, log),
		Hub:        hub,
		Defaults:   recordOptions(cfg),
		Transcribe: cfg.RecordTranscribe,
		Log:        log,
	}
	var uploader *storage.AsyncUploader
	if remote := storage.RemoteOf(store); remote != nil {
		uploader = storage.NewAsyncUploader(remote, cfg.S3.UploadWorkers, 64, log)
		uploader.Start()
		recOpts.Uploader = uploader
	}
	recorder := ingest.NewRecordingController(recOpts)
	hub.SetRecorder(recorder)

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttOpts := mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTopics,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Handler:   hub.HandleMessage,
			Log:       log,
		}
		if cfg.MQTTEventTopic != "" {
			mqttOpts.StatusTopic = cfg.MQTTEventTopic + "/status"
		}
		mqtt, err = mqttclient.Connect(mqttOpts)
		if err != nil {
			return err
		}
		hub.SetPublisher(mqtt)
	}

	// Watch folder (optional)
	if cfg.WatchDir != "" {
		if err := hub.StartWatcher(cfg.WatchDir, cfg.WatchBackfill); err != nil {
			return err
		}
	}

	// Scrape-time gauges
	var pgPool *pgxpool.Pool
	if db != nil {
		pgPool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pgPool, pool, hub))

	srvOpts := api.ServerOptions{
		Config:    cfg,
		Jobs:      pool,
		Defaults:  defaults,
		Outputs:   store,
		Archive:   archive,
		Recorder:  recorder,
		Devices:   device,
		Live:      hub,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if mqtt != nil {
		srvOpts.MQTT = mqtt
	}
	srv := api.NewServer(srvOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if recorder.Status().State == record.Recording.String() {
		if _, err := recorder.Stop(shutdownCtx); err != nil && !errors.Is(err, record.ErrNoAudio) {
			log.Error().Err(err).Msg("failed to save recording on shutdown")
		}
	}
	if mqtt != nil {
		mqtt.Close()
	}
	hub.Stop()
	pool.Stop()
	if uploader != nil {
		uploader.Stop()
	}

	log.Info().Msg("scribe-engine stopped")
	return nil
}
