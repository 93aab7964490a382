package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/quillforge/quillforge/pkg/apperr"
)

func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func respondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func respondAccepted(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
}

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an apperr.Kind to the HTTP status of spec.md §7's table.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Throttled:
		return http.StatusTooManyRequests
	case apperr.Transient:
		return http.StatusServiceUnavailable
	default:
		// provider_exhausted/cancelled are surfaced as transformation
		// terminal state, never directly as an HTTP error; fatal and any
		// unrecognized kind collapse to 500 and must not leak internals.
		return http.StatusInternalServerError
	}
}

// writeError maps err to its HTTP status and writes a uniform JSON body.
// fatal-kind errors are logged with detail server-side but the client sees
// only a generic message, per spec.md §7's "MUST NOT leak internals."
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	message := err.Error()
	if kind == apperr.Fatal || status == http.StatusInternalServerError {
		if s.logger != nil {
			s.logger.Error(r.Context(), "internal error", map[string]interface{}{"error": err.Error()})
		}
		message = "internal error"
	}

	respondJSON(w, status, errorResponse{Error: message})
}
