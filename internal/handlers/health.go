package handlers

import (
	"net/http"
	"time"

	"picturetalk-backend/internal/models"
)

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}
