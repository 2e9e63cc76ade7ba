package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const audioDataURIPrefix = "data:audio/mpeg;base64,"

// ElevenLabsConfig holds configuration for the ElevenLabs speech proxy.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string

	// Voice settings
	Stability       float64
	SimilarityBoost float64
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// SpeechService turns reply text into MP3 audio through the ElevenLabs REST API.
type SpeechService struct {
	config ElevenLabsConfig
	http   *http.Client
	cache  AudioCache
}

func NewSpeechService(config ElevenLabsConfig, cache AudioCache) *SpeechService {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.elevenlabs.io"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.VoiceID == "" {
		config.VoiceID = "JBFqnCBsd6RMkjVDRZzb"
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_monolingual_v1"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if config.APIKey == "" {
		log.Println("⚠ ElevenLabs API key not set, speech requests will be refused")
	}

	return &SpeechService{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
		cache:  cache,
	}
}

// Synthesize returns the spoken form of text as an audio data URI.
func (s *SpeechService) Synthesize(ctx context.Context, text string) (string, error) {
	if s.config.APIKey == "" {
		return "", &ConfigurationError{Message: "ElevenLabs API key not configured"}
	}
	if strings.TrimSpace(text) == "" {
		return "", &ValidationError{Message: "Text is required"}
	}

	key := s.cacheKey(text)
	if s.cache != nil {
		if audio, ok := s.cache.GetAudio(ctx, key); ok {
			return audioDataURIPrefix + base64.StdEncoding.EncodeToString(audio), nil
		}
	}

	audio, err := s.fetchAudio(ctx, text)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		s.cache.PutAudio(ctx, key, audio)
	}
	return audioDataURIPrefix + base64.StdEncoding.EncodeToString(audio), nil
}

func (s *SpeechService) fetchAudio(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: s.config.ModelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       s.config.Stability,
			SimilarityBoost: s.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ElevenLabs request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", s.config.BaseURL, s.config.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ElevenLabs request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.config.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Service: "ElevenLabs", Err: fmt.Errorf("ElevenLabs request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{
			Service:    "ElevenLabs",
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfterHeader(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("ElevenLabs API error: %s", http.StatusText(resp.StatusCode)),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Service: "ElevenLabs", Err: fmt.Errorf("failed to read ElevenLabs audio: %w", err)}
	}
	return audio, nil
}

func (s *SpeechService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.config.VoiceID + "|" + s.config.ModelID + "|" + text))
	return "tts:" + hex.EncodeToString(sum[:])
}
