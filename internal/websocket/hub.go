package websocket

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"picturetalk-backend/internal/catalog"
	"picturetalk-backend/internal/turn"
)

const janitorInterval = time.Minute

// LiveDeps are shared by every live session.
type LiveDeps struct {
	Chat      turn.ChatBackend
	Speech    turn.SpeechBackend
	Catalog   *catalog.Catalog
	LoadImage turn.LoadFunc
	// Prefetch, when set, warms the image cache for a newly shown picture.
	Prefetch  func(url string)
	Turn      turn.Config
}

// Hub tracks live sessions and reaps idle ones.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	deps        LiveDeps
	upgrader    websocket.Upgrader
	idleTimeout time.Duration
	stopChan    chan struct{}
}

// NewHub accepts upgrades from allowedOrigin only; an empty origin allows all.
func NewHub(deps LiveDeps, allowedOrigin string, idleTimeout time.Duration) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]*Session),
		deps:     deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigin),
		},
		idleTimeout: idleTimeout,
		stopChan:    make(chan struct{}),
	}
}

func originChecker(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimRight(allowed, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed == "" || origin == "" {
			return true
		}
		return strings.EqualFold(strings.TrimRight(origin, "/"), allowed)
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s := newSession(conn, h.deps)
	h.register(s)
	s.start()

	go func() {
		defer h.unregister(s)
		s.readLoop()
	}()
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.ID] = s
	log.Printf("Live session started: %s (total: %d)", s.ID, len(h.sessions))
}

func (h *Hub) unregister(s *Session) {
	s.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	log.Printf("Live session ended: %s (total: %d)", s.ID, len(h.sessions))
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Start launches the idle-session janitor.
func (h *Hub) Start() {
	if h.idleTimeout <= 0 {
		return
	}
	go h.loop()
	log.Printf("Live session janitor started (idle timeout %s)", h.idleTimeout)
}

// Stop halts the janitor and closes every session.
func (h *Hub) Stop() {
	select {
	case <-h.stopChan:
		return
	default:
		close(h.stopChan)
	}

	h.mu.RLock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()

	for _, s := range open {
		h.unregister(s)
	}
}

func (h *Hub) loop() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case now := <-ticker.C:
			h.closeIdle(now)
		}
	}
}

func (h *Hub) closeIdle(now time.Time) {
	h.mu.RLock()
	var idle []*Session
	for _, s := range h.sessions {
		if now.Sub(s.IdleSince()) > h.idleTimeout {
			idle = append(idle, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range idle {
		log.Printf("Closing idle live session %s", s.ID)
		h.unregister(s)
	}
}
