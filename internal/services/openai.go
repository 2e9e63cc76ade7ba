package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"picturetalk-backend/internal/models"
)

// OpenAIService is the alternate chat vendor, selected with CHAT_PROVIDER=openai.
type OpenAIService struct {
	client   *openai.Client
	model    string
	rateChan chan struct{}
}

// OpenAIConfig holds the configuration for the OpenAI chat service.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string // optional, for compatible gateways and tests
	ConcurrentReqs int
}

func NewOpenAIService(cfg OpenAIConfig) *OpenAIService {
	if cfg.ConcurrentReqs < 1 {
		cfg.ConcurrentReqs = 1
	}
	rateChan := make(chan struct{}, cfg.ConcurrentReqs)
	for i := 0; i < cfg.ConcurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	s := &OpenAIService{model: cfg.Model, rateChan: rateChan}
	if cfg.APIKey == "" {
		log.Println("⚠ OpenAI API key not set, chat requests will be refused")
		return s
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	s.client = openai.NewClientWithConfig(clientCfg)
	return s
}

func (s *OpenAIService) Close() {}

func (s *OpenAIService) Reply(ctx context.Context, turn ChatTurn) (string, error) {
	if s.client == nil {
		return "", &ConfigurationError{Message: "OpenAI API key not configured"}
	}
	if strings.TrimSpace(turn.Message) == "" {
		return "", &ValidationError{Message: "Message is required"}
	}

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: buildPersonaPrompt(),
	}}
	for _, msg := range turn.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	current := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if turn.ImageData != "" {
		current.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: turn.Message},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    turn.ImageData,
					Detail: openai.ImageURLDetailLow,
				},
			},
		}
	} else {
		current.Content = turn.Message
	}
	messages = append(messages, current)

	select {
	case <-s.rateChan:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { s.rateChan <- struct{}{} }()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.9,
		TopP:        0.95,
	})
	if err != nil {
		log.Printf("OpenAI chat error: %v", err)
		return "", openAIUpstreamError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Service: "OpenAI", Err: errors.New("OpenAI returned no choices")}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &UpstreamError{Service: "OpenAI", Err: errors.New("OpenAI returned empty text")}
	}
	return text, nil
}

func openAIUpstreamError(err error) *UpstreamError {
	upstream := &UpstreamError{
		Service:    "OpenAI",
		RetryAfter: parseRetryHint(err.Error()),
		Err:        fmt.Errorf("OpenAI API error: %w", err),
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		upstream.StatusCode = apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		upstream.StatusCode = reqErr.HTTPStatusCode
	}
	if upstream.StatusCode == http.StatusTooManyRequests && upstream.RetryAfter == 0 {
		upstream.RetryAfter = parseRetryHint(strings.ReplaceAll(err.Error(), "try again in", "retry in"))
	}
	return upstream
}
