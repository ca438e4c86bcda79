package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`
	CORSOrigins  string        `env:"CORS_ORIGINS"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`

	OutputDir     string `env:"OUTPUT_DIR" envDefault:"./transcripts"`
	RecordingsDir string `env:"RECORDINGS_DIR" envDefault:"./recordings"`
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	Formats       string `env:"OUTPUT_FORMATS" envDefault:"txt,srt,vtt"`

	// Speech engine
	SpeechProvider     string        `env:"SPEECH_PROVIDER" envDefault:"whisper"`
	WhisperURL         string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperAPIKey      string        `env:"WHISPER_API_KEY"`
	Model              string        `env:"MODEL" envDefault:"base"`
	Language           string        `env:"LANGUAGE"`
	Task               string        `env:"TASK" envDefault:"transcribe"`
	DeepInfraAPIKey    string        `env:"DEEPINFRA_API_KEY"`
	ElevenLabsAPIKey   string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsKeyterms string        `env:"ELEVENLABS_KEYTERMS"`
	SpeechTimeout      time.Duration `env:"SPEECH_TIMEOUT" envDefault:"5m"`
	Preprocess         bool          `env:"PREPROCESS" envDefault:"false"`

	// Diarization
	Diarize                bool          `env:"DIARIZE" envDefault:"false"`
	DiarizationURL         string        `env:"DIARIZATION_URL"`
	DiarizationTimeout     time.Duration `env:"DIARIZATION_TIMEOUT" envDefault:"10m"`
	DiarizationFallbackNet bool          `env:"DIARIZATION_FALLBACK_ON_NETWORK" envDefault:"true"`
	DiarizationMinSpeakers int           `env:"DIARIZATION_MIN_SPEAKERS"`
	DiarizationMaxSpeakers int           `env:"DIARIZATION_MAX_SPEAKERS"`
	HFToken                string        `env:"HF_TOKEN"`
	CredentialFile         string        `env:"CREDENTIAL_FILE"`
	MergeGap               float64       `env:"MERGE_GAP_SECONDS" envDefault:"1.0"`
	Clustering             ClusteringConfig

	// Recording
	RecordDevice   string `env:"RECORD_DEVICE" envDefault:"default"`
	RecordBackend  string `env:"RECORD_BACKEND" envDefault:"alsa"`
	RecordRate     int    `env:"RECORD_SAMPLE_RATE" envDefault:"16000"`
	RecordChannels int    `env:"RECORD_CHANNELS" envDefault:"1"`
	RecordFormat   string `env:"RECORD_FORMAT" envDefault:"wav"`
	// queue saved recordings for transcription
	RecordTranscribe bool `env:"RECORD_TRANSCRIBE" envDefault:"true"`

	// Job intake
	Workers   int    `env:"WORKERS" envDefault:"2"`
	QueueSize int    `env:"QUEUE_SIZE" envDefault:"100"`
	WatchDir  string `env:"WATCH_DIR"`
	// queue audio already in WATCH_DIR at startup
	WatchBackfill bool `env:"WATCH_BACKFILL" envDefault:"false"`

	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL  string `env:"MQTT_BROKER_URL"`
	MQTTTopics     string `env:"MQTT_TOPICS" envDefault:"scribe/jobs,scribe/recording/+"`
	MQTTEventTopic string `env:"MQTT_EVENT_TOPIC" envDefault:"scribe/events"`
	MQTTClientID   string `env:"MQTT_CLIENT_ID" envDefault:"scribe-engine"`
	MQTTUsername   string `env:"MQTT_USERNAME"`
	MQTTPassword   string `env:"MQTT_PASSWORD"`

	S3 S3Config
}

// ClusteringConfig tunes the local speaker clustering used when no
// diarization service is available.
type ClusteringConfig struct {
	WindowSeconds       float64 `env:"CLUSTER_WINDOW_SECONDS" envDefault:"1.5"`
	HopSeconds          float64 `env:"CLUSTER_HOP_SECONDS" envDefault:"0.75"`
	MaxSpeakers         int     `env:"CLUSTER_MAX_SPEAKERS" envDefault:"6"`
	MinSilhouette       float64 `env:"CLUSTER_MIN_SILHOUETTE" envDefault:"0.25"`
	MinCentroidDistance float64 `env:"CLUSTER_MIN_CENTROID_DISTANCE" envDefault:"12"`
	MinTurnSeconds      float64 `env:"CLUSTER_MIN_TURN_SECONDS" envDefault:"1.0"`
	SilenceRMS          float64 `env:"CLUSTER_SILENCE_RMS" envDefault:"0.003"`
}

// S3Config configures the optional S3-compatible artifact backup.
type S3Config struct {
	Bucket         string        `env:"S3_BUCKET"`
	Endpoint       string        `env:"S3_ENDPOINT"`
	Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey      string        `env:"S3_ACCESS_KEY"`
	SecretKey      string        `env:"S3_SECRET_KEY"`
	Prefix         string        `env:"S3_PREFIX"`
	PresignExpiry  time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	LocalCache     bool          `env:"S3_LOCAL_CACHE" envDefault:"true"`
	CacheRetention time.Duration `env:"S3_CACHE_RETENTION" envDefault:"0s"`
	CacheMaxGB     int           `env:"S3_CACHE_MAX_GB" envDefault:"0"`
	UploadWorkers  int           `env:"S3_UPLOAD_WORKERS" envDefault:"2"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	OutputDir     string
	RecordingsDir string
	WatchDir      string
	Model         string
	Language      string
	Task          string
	Formats       string
	HFToken       string
	Diarize       *bool
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.HTTPAddr, overrides.HTTPAddr)
	set(&cfg.LogLevel, overrides.LogLevel)
	set(&cfg.DatabaseURL, overrides.DatabaseURL)
	set(&cfg.MQTTBrokerURL, overrides.MQTTBrokerURL)
	set(&cfg.OutputDir, overrides.OutputDir)
	set(&cfg.RecordingsDir, overrides.RecordingsDir)
	set(&cfg.WatchDir, overrides.WatchDir)
	set(&cfg.Model, overrides.Model)
	set(&cfg.Language, overrides.Language)
	set(&cfg.Task, overrides.Task)
	set(&cfg.Formats, overrides.Formats)
	set(&cfg.HFToken, overrides.HFToken)
	if overrides.Diarize != nil {
		cfg.Diarize = *overrides.Diarize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}
	check(c.Workers >= 1, "WORKERS must be at least 1, got %d", c.Workers)
	check(c.QueueSize >= 1, "QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	check(c.MergeGap >= 0, "MERGE_GAP_SECONDS must not be negative, got %v", c.MergeGap)
	check(c.RecordRate > 0, "RECORD_SAMPLE_RATE must be positive, got %d", c.RecordRate)
	check(c.RecordChannels == 1 || c.RecordChannels == 2, "RECORD_CHANNELS must be 1 or 2, got %d", c.RecordChannels)

	cl := c.Clustering
	check(cl.HopSeconds > 0, "CLUSTER_HOP_SECONDS must be positive, got %v", cl.HopSeconds)
	check(cl.WindowSeconds >= cl.HopSeconds, "CLUSTER_WINDOW_SECONDS (%v) must not be shorter than the hop (%v)", cl.WindowSeconds, cl.HopSeconds)
	check(cl.MaxSpeakers >= 1, "CLUSTER_MAX_SPEAKERS must be at least 1, got %d", cl.MaxSpeakers)
	check(cl.MinSilhouette >= -1 && cl.MinSilhouette <= 1, "CLUSTER_MIN_SILHOUETTE must be in [-1, 1], got %v", cl.MinSilhouette)

	if c.S3.Enabled() {
		check(c.S3.UploadWorkers >= 1, "S3_UPLOAD_WORKERS must be at least 1, got %d", c.S3.UploadWorkers)
	}
	return errors.Join(problems...)
}
