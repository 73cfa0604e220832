package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"av-go/internal/av"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps a Manager error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, av.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, av.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, av.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, av.ErrConflictRetryExhausted):
		return http.StatusServiceUnavailable, "conflict_retry_exhausted"
	case errors.Is(err, av.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	_, code := statusFor(err)
	return code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	retryable := av.IsRetryable(err)
	if retryable {
		w.Header().Set("Retry-After", "1")
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"method", r.Method, "path", r.URL.Path, "status", status, "error", err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg, Retryable: retryable})
}
