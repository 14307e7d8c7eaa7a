package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/parivartan/core-service/internal/app"
)

const maxRequestBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a bounded request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(dst)
}

// writeServiceError maps application errors onto the uniform status table.
func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var (
		validationErr *app.ValidationError
		upstreamErr   *app.UpstreamError
		rateLimitErr  *app.RateLimitError
	)
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		log.Printf("level=info component=api endpoint=%s outcome=unauthorized", endpoint)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, app.ErrForbidden):
		log.Printf("level=info component=api endpoint=%s outcome=forbidden", endpoint)
		writeError(w, http.StatusForbidden, "Forbidden: insufficient permissions")
	case errors.As(err, &validationErr):
		log.Printf("level=info component=api endpoint=%s outcome=invalid field=%s", endpoint, validationErr.Field)
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, app.ErrNotFound):
		log.Printf("level=info component=api endpoint=%s outcome=not_found", endpoint)
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrInvalidToken):
		log.Printf("level=info component=api endpoint=%s outcome=invalid_token", endpoint)
		writeError(w, http.StatusBadRequest, "Invalid verification code")
	case errors.As(err, &rateLimitErr):
		log.Printf("level=warn component=api endpoint=%s outcome=rate_limited retry_after=%d", endpoint, rateLimitErr.RetryAfterSeconds)
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
	case errors.As(err, &upstreamErr):
		log.Printf("level=error component=api endpoint=%s outcome=upstream_error op=%q err=%v", endpoint, upstreamErr.Op, upstreamErr.Err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=error err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
