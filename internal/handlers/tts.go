package handlers

import (
	"context"
	"net/http"
	"time"

	"picturetalk-backend/internal/models"
)

type speechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

type TTSHandler struct {
	speech speechSynthesizer
}

func NewTTSHandler(speech speechSynthesizer) *TTSHandler {
	return &TTSHandler{speech: speech}
}

func (h *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req models.TTSRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	audio, err := h.speech.Synthesize(r.Context(), req.Text)
	if err != nil {
		handleServiceError(w, r, err, "Failed to synthesize speech")
		return
	}

	writeJSON(w, http.StatusOK, models.TTSResponse{
		Audio:     audio,
		Timestamp: time.Now().UTC(),
	})
}
