package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/scribe-engine/internal/record"
)

// DeviceLister enumerates capture inputs. *record.ExecDevice satisfies it.
type DeviceLister interface {
	List(ctx context.Context) ([]record.DeviceInfo, error)
}

// RecordingHandler exposes live capture control.
type RecordingHandler struct {
	rec     Recorder
	devices DeviceLister
}

func NewRecordingHandler(rec Recorder, devices DeviceLister) *RecordingHandler {
	return &RecordingHandler{rec: rec, devices: devices}
}

// Routes registers recording routes on the given router.
func (h *RecordingHandler) Routes(r chi.Router) {
	r.Get("/recording", h.GetStatus)
	r.Post("/recording/start", h.Start)
	r.Post("/recording/stop", h.Stop)
	r.Get("/recording/devices", h.ListDevices)
}

// GetStatus handles GET /api/v1/recording.
func (h *RecordingHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		WriteError(w, http.StatusServiceUnavailable, "recording not configured")
		return
	}
	WriteJSON(w, http.StatusOK, h.rec.Status())
}

// Start handles POST /api/v1/recording/start. The body is optional.
func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		WriteError(w, http.StatusServiceUnavailable, "recording not configured")
		return
	}
	var req RecordingRequest
	if err := DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	err := h.rec.Start(r.Context(), req)
	switch {
	case errors.Is(err, record.ErrAlreadyRecording):
		WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		WriteKindError(w, "failed to start recording", err)
		return
	}
	WriteJSON(w, http.StatusCreated, h.rec.Status())
}

// Stop handles POST /api/v1/recording/stop.
func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil {
		WriteError(w, http.StatusServiceUnavailable, "recording not configured")
		return
	}
	res, err := h.rec.Stop(r.Context())
	switch {
	case errors.Is(err, record.ErrNotRecording):
		WriteError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, record.ErrNoAudio):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		WriteKindError(w, "failed to save recording", err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// ListDevices handles GET /api/v1/recording/devices.
func (h *RecordingHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	if h.devices == nil {
		WriteError(w, http.StatusServiceUnavailable, "recording not configured")
		return
	}
	list, err := h.devices.List(r.Context())
	if err != nil {
		WriteErrorDetail(w, http.StatusServiceUnavailable, "failed to list devices", err.Error())
		return
	}
	if list == nil {
		list = []record.DeviceInfo{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"devices": list})
}
