package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/transcribe"
)

// MQTTStatus reports broker connectivity. *mqttclient.Client satisfies it.
type MQTTStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]string      `json:"checks"`
	Queue         *transcribe.QueueStats `json:"queue,omitempty"`
	Watcher       *WatcherStatusData     `json:"watcher,omitempty"`
}

type HealthHandler struct {
	archive   TranscriptArchive
	mqtt      MQTTStatus
	live      LiveDataSource
	jobs      JobQueue
	recorder  Recorder
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler. Any collaborator may be nil
// and is then reported as not_configured.
func NewHealthHandler(opts ServerOptions) *HealthHandler {
	return &HealthHandler{
		archive:   opts.Archive,
		mqtt:      opts.MQTT,
		live:      opts.Live,
		jobs:      opts.Jobs,
		recorder:  opts.Recorder,
		version:   opts.Version,
		startTime: opts.StartTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	// Workers check: no workers means nothing will ever run; a full queue
	// rejects new jobs
	if h.jobs != nil {
		stats := h.jobs.Stats()
		resp.Queue = &stats
		switch {
		case stats.Workers <= 0:
			checks["workers"] = "no_workers"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		case stats.Capacity > 0 && stats.Pending >= stats.Capacity:
			checks["workers"] = "saturated"
			degrade()
		default:
			checks["workers"] = "ok"
		}
	} else {
		checks["workers"] = "not_configured"
	}

	// Database check
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.archive.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			degrade()
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// File watcher check
	checks["watcher"] = "not_configured"
	if h.live != nil {
		if ws := h.live.WatcherStatus(); ws != nil {
			checks["watcher"] = ws.Status
			resp.Watcher = ws
		}
	}

	// Recorder check
	if h.recorder != nil {
		checks["recorder"] = h.recorder.Status().State
	} else {
		checks["recorder"] = "not_configured"
	}

	resp.Status = status
	WriteJSON(w, httpStatus, resp)
}
