package handlers

import (
	"context"
	"net/http"
	"time"

	"picturetalk-backend/internal/models"
	"picturetalk-backend/internal/services"
)

type chatReplier interface {
	Reply(ctx context.Context, turn services.ChatTurn) (string, error)
}

type ChatHandler struct {
	chat chatReplier
}

func NewChatHandler(chat chatReplier) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// SendMessage relays one child utterance, optionally with the current picture,
// to the chat vendor and returns its reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	// The vendor checks its credential before the message, so an unconfigured
	// proxy answers "not configured" even for an empty message.
	reply, err := h.chat.Reply(r.Context(), services.ChatTurn{
		Message:   req.Message,
		History:   req.ConversationHistory,
		ImageData: req.ImageData,
	})
	if err != nil {
		handleServiceError(w, r, err, "Failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{
		Message:   reply,
		Timestamp: time.Now().UTC(),
	})
}
