package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"picturetalk-backend/internal/models"
)

// ChatTurn is one stateless request to the chat vendor: the new message,
// everything said before it, and optionally the picture the child is looking at.
type ChatTurn struct {
	Message   string
	History   []models.ChatMessage
	ImageData string // data URI, may be empty
}

// ChatService is implemented by every chat vendor adapter.
type ChatService interface {
	Reply(ctx context.Context, turn ChatTurn) (string, error)
	Close()
}

const defaultImageMIME = "image/jpeg"

// splitDataURI decodes "data:<mime>;base64,<payload>". A bare base64 payload
// is accepted and assumed to be JPEG.
func splitDataURI(uri string) (string, []byte, error) {
	mime := defaultImageMIME
	payload := uri

	if strings.HasPrefix(uri, "data:") {
		comma := strings.Index(uri, ",")
		if comma < 0 {
			return "", nil, &ValidationError{Message: "Invalid image data"}
		}
		meta := uri[len("data:"):comma]
		payload = uri[comma+1:]
		if semi := strings.Index(meta, ";"); semi >= 0 {
			meta = meta[:semi]
		}
		if meta != "" {
			mime = meta
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, &ValidationError{Message: fmt.Sprintf("Invalid image data: %v", err)}
	}
	return mime, data, nil
}
