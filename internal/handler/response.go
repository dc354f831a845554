package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"notify-service/internal/domain/entity"
)

// maxBodyBytes bounds request bodies of every JSON and form route
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, entity.ErrChannelUnavailable), errors.Is(err, entity.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError writes the error response for err. Internal errors are
// logged and their message withheld.
func handleServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)

	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		log.Error().Err(err).Msg("request failed")
		message = "internal server error"
	case http.StatusServiceUnavailable:
		log.Warn().Err(err).Msg("request failed on an unavailable dependency")
	}

	var ve *entity.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, status, map[string]string{"error": ve.Message, "field": ve.Field})
		return
	}

	writeError(w, status, message)
}
