package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the conversation history the front end sends
// with every turn.
type ChatMessage struct {
	Role      string     `json:"role"` // "user" or "assistant"
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ChatRequest is the payload sent to POST /api/chat/message.
type ChatRequest struct {
	Message             string        `json:"message"`
	ImageData           string        `json:"imageData,omitempty"`
	ConversationHistory []ChatMessage `json:"conversationHistory"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
