package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Frontend
	FrontendURL string

	// Chat vendor
	ChatProvider         string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	OpenAIAPIKey         string
	OpenAIModel          string

	// Speech vendor
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsModelID string
	ElevenLabsBaseURL string

	// Redis (optional cache + prefetch queue)
	RedisURL        string
	TTSCacheTTL     time.Duration
	ImageCacheTTL   time.Duration
	PrefetchWorkers int

	// Limits
	APIRateLimitPerMin int

	// Live sessions
	ListenRestartDelay  time.Duration
	PlaybackSettleDelay time.Duration
	MicReleaseDelay     time.Duration
	LiveIdleTimeout     time.Duration
	GreetOnStart        bool
}

// Load reads .env (when present) and the process environment. Vendor
// credentials are optional here; routes that need a missing one answer with
// a configuration error instead of the process refusing to start.
func Load() *Config {
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "3001"),
		Env:                  getEnvOrDefault("ENV", "development"),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
		ChatProvider:         strings.ToLower(getEnvOrDefault("CHAT_PROVIDER", "gemini")),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ElevenLabsAPIKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:    getEnvOrDefault("ELEVENLABS_VOICE_ID", "JBFqnCBsd6RMkjVDRZzb"),
		ElevenLabsModelID:    getEnvOrDefault("ELEVENLABS_MODEL_ID", "eleven_monolingual_v1"),
		ElevenLabsBaseURL:    getEnvOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		RedisURL:             os.Getenv("REDIS_URL"),
		TTSCacheTTL:          time.Duration(getEnvAsIntOrDefault("TTS_CACHE_TTL_MINUTES", 1440)) * time.Minute,
		ImageCacheTTL:        time.Duration(getEnvAsIntOrDefault("IMAGE_CACHE_TTL_MINUTES", 1440)) * time.Minute,
		PrefetchWorkers:      getEnvAsIntOrDefault("IMAGE_PREFETCH_WORKERS", 2),
		APIRateLimitPerMin:   getEnvAsIntOrDefault("API_RATE_LIMIT_PER_MINUTE", 60),
		ListenRestartDelay:   getEnvAsDurationMsOrDefault("LISTEN_RESTART_DELAY_MS", 1000*time.Millisecond),
		PlaybackSettleDelay:  getEnvAsDurationMsOrDefault("PLAYBACK_SETTLE_DELAY_MS", 1800*time.Millisecond),
		MicReleaseDelay:      getEnvAsDurationMsOrDefault("MIC_RELEASE_DELAY_MS", 200*time.Millisecond),
		LiveIdleTimeout:      time.Duration(getEnvAsIntOrDefault("LIVE_IDLE_TIMEOUT_MINUTES", 30)) * time.Minute,
		GreetOnStart:         getEnvAsBoolOrDefault("GREET_ON_START", true),
	}

	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationMsOrDefault reads a whole number of milliseconds.
func getEnvAsDurationMsOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return defaultVal
	}
	return time.Duration(n) * time.Millisecond
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
