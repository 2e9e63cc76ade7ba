package services

import (
	"context"

	"picturetalk-backend/internal/models"
	"picturetalk-backend/internal/turn"
)

// TurnChat lets a live session talk to a ChatService directly, without the
// HTTP hop the browser client makes.
type TurnChat struct {
	Service ChatService
}

func (c TurnChat) SendMessage(ctx context.Context, message string, history []turn.Message, imageData string) (string, error) {
	return c.Service.Reply(ctx, ChatTurn{
		Message:   message,
		History:   toChatHistory(history),
		ImageData: imageData,
	})
}

func toChatHistory(history []turn.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history))
	for _, m := range history {
		ts := m.Timestamp
		out = append(out, models.ChatMessage{Role: string(m.Role), Content: m.Content, Timestamp: &ts})
	}
	return out
}
