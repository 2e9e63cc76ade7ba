package turn

import (
	"context"
	"time"

	"picturetalk-backend/internal/catalog"
)

// Microphone is the speech-capture device. Only the coordinator starts and
// stops it.
type Microphone interface {
	RequestPermission(ctx context.Context) error
	StartCapture() error
	AbortCapture()
}

// ChatBackend produces the AI reply for one turn. history holds everything
// said before message.
type ChatBackend interface {
	SendMessage(ctx context.Context, message string, history []Message, imageData string) (string, error)
}

// SpeechBackend turns text into playable audio (a data URI).
type SpeechBackend interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// AudioOutput plays synthesized audio. Completion is reported back through
// Coordinator.PlaybackEnded or Coordinator.PlaybackFailed.
type AudioOutput interface {
	Play(audioURI string) error
	Stop()
}

// ImageSource owns the current picture of the session.
type ImageSource interface {
	Current() catalog.Image
	Advance() catalog.Image
	Load(ctx context.Context, img catalog.Image) (string, error)
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a toast-style message for the user.
type Notice struct {
	Level      NoticeLevel
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Observer receives coordinator output. Calls come from the coordinator's
// goroutine, in order, and must not block for long.
type Observer interface {
	StateChanged(from, to State)
	MessageAppended(msg Message)
	Notify(n Notice)
	SnapshotUpdated(s Snapshot)
}

// NopObserver ignores everything; embed it to implement only what you need.
type NopObserver struct{}

func (NopObserver) StateChanged(State, State) {}
func (NopObserver) MessageAppended(Message)   {}
func (NopObserver) Notify(Notice)             {}
func (NopObserver) SnapshotUpdated(Snapshot)  {}
