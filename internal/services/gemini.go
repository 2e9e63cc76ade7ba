package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"picturetalk-backend/internal/models"
)

type GeminiService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

// NewGeminiService creates the chat proxy backed by Gemini. An empty apiKey is
// not an error: the service is created unconfigured and every Reply answers
// with a ConfigurationError.
func NewGeminiService(apiKey, modelName string, concurrentReqs int) (*GeminiService, error) {
	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	s := &GeminiService{rateChan: rateChan}
	if apiKey == "" {
		log.Println("⚠ Gemini API key not set, chat requests will be refused")
		return s, nil
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.9)
	model.SetTopP(0.95)
	model.SetTopK(40)
	model.SetMaxOutputTokens(1024)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(buildPersonaPrompt())},
	}

	s.client = client
	s.model = model
	return s, nil
}

func (s *GeminiService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Reply starts a chat seeded with the caller's history and sends the new
// message, with the picture attached as inline data when present.
func (s *GeminiService) Reply(ctx context.Context, turn ChatTurn) (string, error) {
	if s.model == nil {
		return "", &ConfigurationError{Message: "Gemini API key not configured"}
	}
	if strings.TrimSpace(turn.Message) == "" {
		return "", &ValidationError{Message: "Message is required"}
	}

	parts := []genai.Part{genai.Text(turn.Message)}
	if turn.ImageData != "" {
		mime, data, err := splitDataURI(turn.ImageData)
		if err != nil {
			return "", err
		}
		parts = append(parts, genai.Blob{MIMEType: mime, Data: data})
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	cs := s.model.StartChat()
	cs.History = geminiHistory(turn.History)

	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		log.Printf("Gemini chat error: %v", err)
		return "", geminiUpstreamError(err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Printf("WARNING: Gemini candidate %d stopped due to %s", i, cand.FinishReason)
		}
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", &UpstreamError{Service: "Gemini", Err: errors.New("Gemini returned empty text")}
	}
	return text, nil
}

func geminiHistory(history []models.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

func geminiUpstreamError(err error) *UpstreamError {
	upstream := &UpstreamError{
		Service:    "Gemini",
		RetryAfter: parseRetryHint(err.Error()),
		Err:        fmt.Errorf("Gemini API error: %w", err),
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		upstream.StatusCode = apiErr.Code
		if upstream.RetryAfter == 0 && apiErr.Code == http.StatusTooManyRequests {
			upstream.RetryAfter = parseRetryAfterHeader(apiErr.Header.Get("Retry-After"))
		}
	}
	return upstream
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
