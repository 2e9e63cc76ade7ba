package turn

import (
	"time"

	"picturetalk-backend/internal/catalog"
)

// State is the single turn-taking state of a live conversation.
type State int

const (
	Idle State = iota
	Listening
	Processing   // chat request in flight
	Synthesizing // speech request in flight
	Speaking     // audio playing, or settling after playback
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Synthesizing:
		return "synthesizing"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// AIActive reports whether the AI side of the conversation owns the turn.
// The microphone is never capturing while this is true.
func (s State) AIActive() bool {
	return s == Processing || s == Synthesizing || s == Speaking
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is immutable once appended to the session log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a copy of the coordinator's latest state, safe to hand to
// other goroutines.
type Snapshot struct {
	State             State
	Active            bool
	Paused            bool
	CaptureDisabled   bool
	Messages          []Message
	PartialTranscript string
	Image             catalog.Image
}

// LastAssistantMessage returns the most recent AI reply, if any.
func (s Snapshot) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
