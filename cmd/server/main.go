package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"picturetalk-backend/internal/catalog"
	"picturetalk-backend/internal/config"
	"picturetalk-backend/internal/database"
	"picturetalk-backend/internal/handlers"
	"picturetalk-backend/internal/middleware"
	"picturetalk-backend/internal/presentation"
	"picturetalk-backend/internal/router"
	"picturetalk-backend/internal/services"
	"picturetalk-backend/internal/turn"
	"picturetalk-backend/internal/websocket"
	"picturetalk-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting PictureTalk Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize Redis Clients (optional) ────
	var (
		redisClients *database.RedisClients
		audioCache   services.AudioCache
		imageCache   services.ImageCache
	)
	if cfg.RedisURL == "" {
		log.Println("⚠ REDIS_URL not set, audio/image caching and prefetch disabled")
	} else {
		clients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer clients.Close()
		redisClients = clients

		cache := services.NewRedisCache(clients.Cache, cfg.TTSCacheTTL, cfg.ImageCacheTTL)
		audioCache, imageCache = cache, cache
		log.Println("✓ Redis connected")
	}

	// ──── Step 3: Initialize Chat Vendor ────
	var chatService services.ChatService
	switch cfg.ChatProvider {
	case "openai":
		chatService = services.NewOpenAIService(services.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			ConcurrentReqs: cfg.GeminiConcurrentReqs,
		})
		log.Printf("✓ OpenAI chat client initialized (%s)", cfg.OpenAIModel)
	default:
		gemini, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs)
		if err != nil {
			log.Fatalf("✗ Gemini client initialization failed: %v", err)
		}
		chatService = gemini
		log.Printf("✓ Gemini client initialized (%s)", cfg.GeminiModel)
	}
	defer chatService.Close()

	// ──── Step 4: Initialize Speech Vendor & Image Fetcher ────
	speechService := services.NewSpeechService(services.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModelID,
		BaseURL: cfg.ElevenLabsBaseURL,
	}, audioCache)
	imageFetcher := services.NewImageFetcher(imageCache)
	pictures := catalog.Default()
	log.Printf("✓ Speech service and image catalog ready (%d pictures)", pictures.Len())

	// ──── Step 5: Start Image Prefetch Workers ────
	var prefetch func(url string)
	var prefetchPool *worker.Pool
	if redisClients != nil {
		prefetchPool = worker.NewPool(redisClients.Queue, imageFetcher, cfg.PrefetchWorkers)
		prefetchPool.Start()

		urls := make([]string, 0, pictures.Len())
		for _, img := range pictures.All() {
			urls = append(urls, img.URL)
		}
		if err := prefetchPool.EnqueueAll(context.Background(), urls); err != nil {
			log.Printf("⚠ Catalog prefetch not queued: %v", err)
		}
		prefetch = func(url string) {
			go func() {
				if err := prefetchPool.Enqueue(context.Background(), url); err != nil {
					log.Printf("Prefetch enqueue failed for %s: %v", url, err)
				}
			}()
		}
		log.Printf("✓ Prefetch worker pool started (%d goroutines)", cfg.PrefetchWorkers)
	}

	// ──── Step 6: Start Live Session Hub ────
	turnCfg := turn.DefaultConfig()
	turnCfg.ListenRestartDelay = cfg.ListenRestartDelay
	turnCfg.PlaybackSettleDelay = cfg.PlaybackSettleDelay
	turnCfg.MicReleaseDelay = cfg.MicReleaseDelay
	turnCfg.GreetOnStart = cfg.GreetOnStart
	turnCfg.SpeechText = presentation.StripDirectives

	liveHub := websocket.NewHub(websocket.LiveDeps{
		Chat:      services.TurnChat{Service: chatService},
		Speech:    speechService,
		Catalog:   pictures,
		LoadImage: imageFetcher.Load,
		Prefetch:  prefetch,
		Turn:      turnCfg,
	}, cfg.FrontendURL, cfg.LiveIdleTimeout)
	liveHub.Start()
	log.Println("✓ Live session hub started")

	// ──── Step 7: Start HTTP Server ────
	apiLimiter := middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute)

	r := router.New(
		handlers.NewChatHandler(chatService),
		handlers.NewTTSHandler(speechService),
		apiLimiter,
		liveHub,
		cfg.FrontendURL,
	)

	// WriteTimeout leaves room for the 60s chat route timeout.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		liveHub.Stop()
		if prefetchPool != nil {
			prefetchPool.Stop()
		}
		apiLimiter.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ PictureTalk Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API:  http://localhost:%s/api", cfg.Port)
	log.Printf("  Live: ws://localhost:%s/api/live", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
