package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"

	"picturetalk-backend/internal/models"
	"picturetalk-backend/internal/services"
)

// maxBodyBytes admits base64 image data URIs.
const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

// handleServiceError maps a proxy failure to its HTTP response. Vendor and
// configuration failures are 500s carrying the underlying message; fallback
// is used when there is none.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		validation *services.ValidationError
		config     *services.ConfigurationError
		upstream   *services.UpstreamError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", validation.Message, r))
	case errors.As(err, &config):
		log.Printf("✗ %s", config.Message)
		writeJSON(w, http.StatusInternalServerError, errorResp("CONFIG_ERROR", config.Message, r))
	case errors.As(err, &upstream):
		log.Printf("%s error: %v", upstream.Service, err)
		resp := errorResp("UPSTREAM_ERROR", messageOr(err, fallback), r)
		resp.RetryAfterSeconds = int(math.Ceil(upstream.RetryAfter.Seconds()))
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		log.Printf("request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", messageOr(err, fallback), r))
	}
}

func messageOr(err error, fallback string) string {
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
