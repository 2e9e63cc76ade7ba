package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsDurationMsOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"parses milliseconds", "250", 250 * time.Millisecond},
		{"zero is allowed", "0", 0},
		{"negative falls back", "-5", time.Second},
		{"garbage falls back", "soon", time.Second},
		{"empty falls back", "", time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_DELAY_MS", tc.envValue)

			result := getEnvAsDurationMsOrDefault("TEST_DELAY_MS", time.Second)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsBoolOrDefault(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if getEnvAsBoolOrDefault("TEST_BOOL", true) {
		t.Error("Expected false from env")
	}

	t.Setenv("TEST_BOOL", "maybe")
	if !getEnvAsBoolOrDefault("TEST_BOOL", true) {
		t.Error("Expected default for unparsable value")
	}
}

func TestLoad_MissingCredentialsDoNotPanic(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("PORT", "")
	t.Setenv("CHAT_PROVIDER", "OpenAI")

	cfg := Load()
	if cfg.GeminiAPIKey != "" || cfg.ElevenLabsAPIKey != "" {
		t.Fatalf("Expected empty credentials, got %+v", cfg)
	}
	if cfg.Port != "3001" {
		t.Errorf("Expected default port 3001, got %q", cfg.Port)
	}
	if cfg.ChatProvider != "openai" {
		t.Errorf("Expected provider to be lower-cased, got %q", cfg.ChatProvider)
	}
	if cfg.PlaybackSettleDelay != 1800*time.Millisecond {
		t.Errorf("Expected 1800ms settle delay, got %v", cfg.PlaybackSettleDelay)
	}
	if cfg.ListenRestartDelay != time.Second {
		t.Errorf("Expected 1s restart delay, got %v", cfg.ListenRestartDelay)
	}
}
