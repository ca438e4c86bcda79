package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/scribe-engine/internal/errs"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"` // failure class for pipeline and device errors
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// WriteKindError reports a classified failure with the status its kind
// maps to.
func WriteKindError(w http.ResponseWriter, msg string, err error) {
	kind := errs.KindOf(err)
	resp := ErrorResponse{Error: msg, Detail: err.Error()}
	if kind != errs.KindUnknown {
		resp.Kind = kind.String()
	}
	WriteJSON(w, kindStatus(kind), resp)
}

func kindStatus(k errs.Kind) int {
	switch k {
	case errs.KindInput:
		return http.StatusUnprocessableEntity
	case errs.KindDevice:
		return http.StatusServiceUnavailable
	case errs.KindEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePagination extracts limit and offset from query params. Missing,
// non-numeric or out-of-range values fall back to the defaults.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: defaultLimit}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n >= 1 && n <= maxLimit {
		p.Limit = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// QueryBool reports a boolean query parameter and whether it was present
// and valid.
func QueryBool(r *http.Request, name string) (bool, bool) {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		return false, false
	}
	return b, true
}

// QueryString returns a trimmed query parameter and whether it was
// non-empty.
func QueryString(r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	return v, v != ""
}

// QueryStringList splits a comma-separated query parameter, dropping blank
// entries. Repeated parameters are merged.
func QueryStringList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// PathInt64 parses a positive id from a chi URL parameter.
func PathInt64(r *http.Request, name string) (int64, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return 0, fmt.Errorf("missing path parameter: %s", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// DecodeJSON decodes exactly one JSON object from the request body. Unknown
// fields are rejected so a misspelled option is not silently ignored. An
// empty body returns io.EOF.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
