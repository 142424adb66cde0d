package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/storefront-labs/gateway/internal/identity"
	"github.com/storefront-labs/gateway/internal/session"
)

// ErrInvalidRequest is returned when a lifecycle form cannot be parsed.
var ErrInvalidRequest = errors.New("invalid request body")

// errorResponse is the inline error body of the lifecycle endpoints.
type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// statusForError maps lifecycle errors to an HTTP status and a client-facing message.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, session.ErrMissingCredentials):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, identity.ErrInvalidCredentials.Error()
	case errors.Is(err, session.ErrNotSignedIn):
		return http.StatusUnauthorized, session.ErrNotSignedIn.Error()
	case errors.Is(err, identity.ErrAccountExists):
		return http.StatusConflict, identity.ErrAccountExists.Error()
	case errors.Is(err, session.ErrInvalidProfile):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, session.ErrTooManyAttempts):
		return http.StatusTooManyRequests, session.ErrTooManyAttempts.Error()
	case errors.Is(err, identity.ErrNotConfigured):
		return http.StatusServiceUnavailable, identity.ErrNotConfigured.Error()
	}

	var pe *identity.ProviderError
	if errors.As(err, &pe) || errors.Is(err, session.ErrActivationFailed) {
		return http.StatusBadGateway, "identity provider request failed"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error, redirect string) {
	status, msg := statusForError(err)

	event := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.Err(err).Int("status", status).Msg("session operation failed")

	writeJSON(w, status, errorResponse{Error: msg, Redirect: redirect})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
