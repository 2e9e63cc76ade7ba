package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"picturetalk-backend/internal/handlers"
	"picturetalk-backend/internal/middleware"
	"picturetalk-backend/internal/websocket"
)

func New(
	chatHandler *handlers.ChatHandler,
	ttsHandler *handlers.TTSHandler,
	apiLimiter *middleware.RateLimiter,
	liveHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", handlers.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiLimiter.Middleware)

		// ──── Chat Proxy ────
		r.With(chimiddleware.Timeout(60*time.Second)).Post("/chat/message", chatHandler.SendMessage)

		// ──── Speech Proxy ────
		r.With(chimiddleware.Timeout(45*time.Second)).Post("/tts/synthesize", ttsHandler.Synthesize)

		// ──── Live Session ────
		if liveHub != nil {
			r.Get("/live", liveHub.HandleWebSocket)
		}
	})

	return r
}
