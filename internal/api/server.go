package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// ServerOptions wires the HTTP API. Everything except Config and Jobs may
// be nil; the matching routes then answer 503. Never pass a typed nil
// pointer in an interface field.
type ServerOptions struct {
	Config    *config.Config
	Jobs      JobQueue
	Defaults  transcribe.Defaults
	Outputs   OutputStore
	Archive   TranscriptArchive
	Recorder  Recorder
	Devices   DeviceLister
	Live      LiveDataSource
	MQTT      MQTTStatus
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := NewRouter(opts)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the API routes and middleware stack.
func NewRouter(opts ServerOptions) chi.Router {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(splitOrigins(cfg.CORSOrigins)))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", NewHealthHandler(opts).ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Group(func(r chi.Router) {
				r.Use(MaxBody(cfg.MaxUploadMB << 20))
				NewJobsHandler(opts.Jobs, opts.Defaults, opts.Outputs, cfg.UploadDir, opts.Log).Routes(r)
			})
			NewTranscriptsHandler(opts.Archive).Routes(r)
			NewRecordingHandler(opts.Recorder, opts.Devices).Routes(r)
			NewEventsHandler(opts.Live).Routes(r)
		})
	})

	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
