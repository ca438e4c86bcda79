package api

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/transcribe"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// OutputStore opens rendered transcript files. storage.ArtifactStore
// satisfies it.
type OutputStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// URL is a presigned link for files not kept on local disk, else "".
	URL(ctx context.Context, key string) (string, error)
}

// JobsHandler accepts transcription jobs and reports their progress.
type JobsHandler struct {
	jobs      JobQueue
	defaults  transcribe.Defaults
	outputs   OutputStore
	uploadDir string
	log       zerolog.Logger
}

// NewJobsHandler creates a jobs handler. Uploaded audio is saved under
// uploadDir; outputs may be nil to disable downloads.
func NewJobsHandler(jobs JobQueue, defaults transcribe.Defaults, outputs OutputStore, uploadDir string, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:      jobs,
		defaults:  defaults,
		outputs:   outputs,
		uploadDir: uploadDir,
		log:       log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs", h.QueueStats)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/outputs/{format}", h.GetOutput)
}

// CreateJob handles POST /api/v1/jobs. A multipart body carries the audio
// in the "audio" field; a JSON body names a file already on the server.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var sub transcribe.Submission
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var ok bool
		if sub, ok = h.receiveUpload(w, r); !ok {
			return
		}
	} else if err := DecodeJSON(r, &sub); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	req, err := sub.Request(h.defaults)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid job", err.Error())
		return
	}

	id, err := h.jobs.Submit(req, "api")
	switch {
	case errors.Is(err, transcribe.ErrQueueFull), errors.Is(err, transcribe.ErrPoolStopped):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Str("audio", req.AudioPath).Msg("submit failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, _ := h.jobs.Get(id)
	WriteJSON(w, http.StatusCreated, status)
}

// receiveUpload stores the uploaded audio and reads the job fields from the
// form. It writes the error response itself and reports false on failure.
func (h *JobsHandler) receiveUpload(w http.ResponseWriter, r *http.Request) (transcribe.Submission, bool) {
	var sub transcribe.Submission
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return sub, false
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return sub, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing audio file field")
		return sub, false
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !audio.Supported(name) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType, "unsupported audio type", filepath.Ext(name))
		return sub, false
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		WriteError(w, http.StatusInternalServerError, "upload directory unavailable")
		return sub, false
	}
	path := filepath.Join(h.uploadDir, uuid.NewString()[:8]+"_"+name)
	out, err := os.Create(path)
	if err != nil {
		h.log.Error().Err(err).Str("path", path).Msg("create upload failed")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return sub, false
	}
	_, err = io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		h.log.Error().Err(err).Str("path", path).Msg("write upload failed")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return sub, false
	}

	sub.AudioPath = path
	sub.OutputBase = r.FormValue("output_base")
	if sub.OutputBase == "" {
		sub.OutputBase = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if v := r.FormValue("formats"); v != "" {
		sub.Formats = strings.Split(v, ",")
	}
	if v := r.FormValue("diarize"); v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			os.Remove(path)
			WriteErrorDetail(w, http.StatusBadRequest, "invalid diarize value", v)
			return sub, false
		}
		sub.Diarize = &d
	}
	sub.Language = r.FormValue("language")
	sub.Task = r.FormValue("task")
	sub.Prompt = r.FormValue("prompt")
	return sub, true
}

// QueueStats handles GET /api/v1/jobs.
func (h *JobsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.jobs.Stats())
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	status, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// GetOutput handles GET /api/v1/jobs/{id}/outputs/{format} and streams one
// rendered file of a finished job.
func (h *JobsHandler) GetOutput(w http.ResponseWriter, r *http.Request) {
	if h.outputs == nil {
		WriteError(w, http.StatusServiceUnavailable, "output storage not available")
		return
	}
	status, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	f, err := transcript.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var key string
	for _, o := range status.Outputs {
		if o.Format == f {
			key = o.Key
			break
		}
	}
	if key == "" {
		WriteError(w, http.StatusNotFound, "output not written for this job")
		return
	}

	if u, err := h.outputs.URL(r.Context(), key); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("presign output failed, streaming instead")
	} else if u != "" {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	rc, err := h.outputs.Open(r.Context(), key)
	if errors.Is(err, fs.ErrNotExist) {
		WriteError(w, http.StatusNotFound, "output file missing")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("open output failed")
		WriteError(w, http.StatusBadGateway, "failed to open output")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(key)+`"`)
	io.Copy(w, rc)
}
