package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/transcript"
)

// TranscriptsHandler serves the transcript archive.
type TranscriptsHandler struct {
	archive TranscriptArchive
}

func NewTranscriptsHandler(archive TranscriptArchive) *TranscriptsHandler {
	return &TranscriptsHandler{archive: archive}
}

// Routes registers transcript routes on the given router.
func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Get("/transcripts", h.ListTranscripts)
	r.Get("/transcripts/{id}", h.GetTranscript)
}

type transcriptListResponse struct {
	Transcripts []database.TranscriptSummary `json:"transcripts"`
	Total       int                          `json:"total"`
	Pagination
}

// ListTranscripts handles GET /api/v1/transcripts.
func (h *TranscriptsHandler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcript archive not configured")
		return
	}
	p := ParsePagination(r)
	f := database.TranscriptFilter{Limit: p.Limit, Offset: p.Offset}
	f.Source, _ = QueryString(r, "source")
	f.Language, _ = QueryString(r, "language")
	f.Query, _ = QueryString(r, "q")

	list, total, err := h.archive.ListTranscripts(r.Context(), f)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if list == nil {
		list = []database.TranscriptSummary{}
	}
	WriteJSON(w, http.StatusOK, transcriptListResponse{Transcripts: list, Total: total, Pagination: p})
}

// GetTranscript handles GET /api/v1/transcripts/{id}. The optional format
// query parameter renders the transcript as txt, srt or vtt instead of JSON.
func (h *TranscriptsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "transcript archive not configured")
		return
	}
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid transcript id")
		return
	}
	format := transcript.FormatJSON
	if v, ok := QueryString(r, "format"); ok {
		if format, err = transcript.ParseFormat(v); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	t, err := h.archive.GetTranscript(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	if format == transcript.FormatJSON {
		WriteJSON(w, http.StatusOK, t)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if dl, _ := QueryBool(r, "download"); dl {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transcript-%d.%s"`, id, format.Ext()))
	}
	transcript.Render(w, t, format)
}
