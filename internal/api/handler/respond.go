package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/notifyhub/dispatch/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		body["code"] = de.Code
	}
	respondJSON(w, status, body)
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrChannelNotAllowed):
		respondError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrNotRetryable):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrRecipientFormat),
		errors.Is(err, domain.ErrMissingSubject),
		errors.Is(err, domain.ErrMissingBody),
		errors.Is(err, domain.ErrIdempotencyKeyTooLong),
		errors.Is(err, domain.ErrCallbackURLTooLong),
		errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrInvalidTemplateArgs):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err)
	default:
		respondError(w, http.StatusInternalServerError,
			&domain.Error{Code: "INTERNAL", Message: "internal server error"})
	}
}
