package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"lms-payments/internal/domain"
	"lms-payments/internal/infra/logging"
)

const internalMessage = "An unexpected error occurred"

type errorBody struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// statusFor maps an error to its HTTP status. Causes are checked before kinds.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrEventOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.KindOf(err) != "":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err without leaking internal detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status := statusFor(err)
	body := errorBody{
		Timestamp: time.Now().UTC(),
		Retryable: domain.IsRetryable(err) || errors.Is(err, domain.ErrRateLimited),
	}
	l := logging.With(r.Context(), logger)
	if status == http.StatusInternalServerError {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body.Error = "InternalError"
		body.Message = internalMessage
		writeJSON(w, status, body)
		return
	}
	l.Debug().Err(err).Int("status", status).Msg("request rejected")
	body.Error = string(domain.KindOf(err))
	body.Message = domain.MessageOf(err)
	if body.Error == "" {
		body.Error = http.StatusText(status)
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

func writeStatus(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Timestamp: time.Now().UTC(), Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
