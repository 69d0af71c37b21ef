package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/infra/logging"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrTrialAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.With(ctx, s.log).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userKey{}, userID)
	return logging.WithUserID(ctx, userID)
}

func userFrom(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}
