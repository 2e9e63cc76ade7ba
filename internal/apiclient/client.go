// Package apiclient talks to the picturetalk HTTP API the way the browser
// does.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"picturetalk-backend/internal/models"
	"picturetalk-backend/internal/turn"
)

const maxErrorBody = 64 << 10

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage posts one turn to the chat proxy. history is everything said
// before message.
func (c *Client) SendMessage(ctx context.Context, message string, history []turn.Message, imageData string) (string, error) {
	req := models.ChatRequest{
		Message:             message,
		ImageData:           imageData,
		ConversationHistory: make([]models.ChatMessage, 0, len(history)),
	}
	for _, m := range history {
		ts := m.Timestamp
		req.ConversationHistory = append(req.ConversationHistory, models.ChatMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: &ts,
		})
	}

	var resp models.ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat/message", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// SynthesizeSpeech returns text as an audio data URI.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) (string, error) {
	var resp models.TTSResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/tts/synthesize", models.TTSRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	return resp.Audio, nil
}

// Synthesize is SynthesizeSpeech under the name turn.SpeechBackend expects.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	return c.SynthesizeSpeech(ctx, text)
}

func (c *Client) HealthCheck(ctx context.Context) (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return parseError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func parseError(resp *http.Response) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body models.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
		apiErr.RequestID = body.RequestID
		apiErr.RetryAfter = time.Duration(body.RetryAfterSeconds) * time.Second
	}

	if apiErr.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}
