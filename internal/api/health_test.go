package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snarg/scribe-engine/internal/transcribe"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(o *ServerOptions)
		wantStatus string
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "minimal",
			setup:      func(o *ServerOptions) {},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{
				"workers": "ok", "database": "not_configured", "mqtt": "not_configured",
				"watcher": "not_configured", "recorder": "not_configured",
			},
		},
		{
			name: "all_ok",
			setup: func(o *ServerOptions) {
				o.Archive = &fakeArchive{}
				o.MQTT = fakeMQTT(true)
				o.Live = &fakeLive{watcher: &WatcherStatusData{Status: "watching", WatchDir: "/in"}}
				o.Recorder = &fakeRecorder{}
			},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{
				"workers": "ok", "database": "ok", "mqtt": "ok", "watcher": "watching", "recorder": "idle",
			},
		},
		{
			name: "database_error_degrades",
			setup: func(o *ServerOptions) {
				o.Archive = &fakeArchive{healthErr: errors.New("down")}
			},
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"database": "error"},
		},
		{
			name:       "mqtt_disconnected_degrades",
			setup:      func(o *ServerOptions) { o.MQTT = fakeMQTT(false) },
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"mqtt": "disconnected"},
		},
		{
			name: "saturated_queue_degrades",
			setup: func(o *ServerOptions) {
				o.Jobs.(*fakeJobs).stats = transcribe.QueueStats{Workers: 1, Capacity: 2, Pending: 2}
			},
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"workers": "saturated"},
		},
		{
			name: "no_workers_unhealthy",
			setup: func(o *ServerOptions) {
				o.Jobs.(*fakeJobs).stats = transcribe.QueueStats{}
				o.MQTT = fakeMQTT(false)
			},
			wantStatus: "unhealthy",
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"workers": "no_workers"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.setup(&opts)
			rec := serve(opts, httptest.NewRequest("GET", "/api/v1/health", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "test" {
				t.Errorf("version = %q", resp.Version)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}
