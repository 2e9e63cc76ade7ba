// Package presentation turns coordinator snapshots into what the child sees.
package presentation

import (
	"regexp"
	"strings"
	"time"

	"picturetalk-backend/internal/turn"
)

const (
	StatusThinking  = "🤔 AI is thinking..."
	StatusPreparing = "🎵 Preparing voice..."
	StatusSpeaking  = "🗣️ AI Speaking"
	StatusListening = "🎤 Listening..."
	StatusPaused    = "⏸️ Paused"
	StatusIdle      = `Click "Start Talking" to begin! 🎤`
	StatusMicOff    = "🎙️ Microphone is off"
	StatusWaiting   = "⏳ One moment..."

	maxCaptionLen = 120
)

var (
	systemMarker   = regexp.MustCompile(`\[SYSTEM:.*?\]`)
	decorativeIcon = regexp.MustCompile(`[🎉🎨😊✨🌟🔍💭🎯❤💬📏👀]\x{FE0F}?`)
	sentenceEnd    = regexp.MustCompile(`[.!?]`)
)

type ViewMessage struct {
	Role      turn.Role `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ViewImage struct {
	URL     string `json:"url"`
	Context string `json:"context"`
}

type Controls struct {
	CanStart      bool `json:"canStart"`
	CanPause      bool `json:"canPause"`
	CanResume     bool `json:"canResume"`
	CanEnd        bool `json:"canEnd"`
	CanNewPicture bool `json:"canNewPicture"`
}

// View is everything the page needs to draw one frame.
type View struct {
	State             string        `json:"state"`
	Status            string        `json:"status"`
	Thinking          bool          `json:"thinking"`
	Speaking          bool          `json:"speaking"`
	Listening         bool          `json:"listening"`
	Active            bool          `json:"active"`
	Paused            bool          `json:"paused"`
	Messages          []ViewMessage `json:"messages"`
	PartialTranscript string        `json:"partialTranscript,omitempty"`
	Image             ViewImage     `json:"image"`
	Caption           string        `json:"caption"`
	Effects           Effects       `json:"effects"`
	Controls          Controls      `json:"controls"`
}

// Render is a pure function of its inputs.
func Render(s turn.Snapshot, fx Effects) View {
	v := View{
		State:             s.State.String(),
		Status:            Status(s),
		Thinking:          s.State == turn.Processing || s.State == turn.Synthesizing,
		Speaking:          s.State == turn.Speaking,
		Listening:         s.State == turn.Listening,
		Active:            s.Active,
		Paused:            s.Paused,
		Messages:          make([]ViewMessage, 0, len(s.Messages)),
		PartialTranscript: s.PartialTranscript,
		Image:             ViewImage{URL: s.Image.URL, Context: s.Image.Context},
		Caption:           StatusIdle,
		Effects:           fx,
		Controls: Controls{
			CanStart:      !s.Active,
			CanPause:      s.Active && !s.Paused,
			CanResume:     s.Active && (s.Paused || s.CaptureDisabled),
			CanEnd:        s.Active,
			CanNewPicture: !s.State.AIActive(),
		},
	}

	for _, m := range s.Messages {
		v.Messages = append(v.Messages, ViewMessage{
			Role:      m.Role,
			Content:   StripDirectives(m.Content),
			Timestamp: m.Timestamp,
		})
	}

	if last, ok := s.LastAssistantMessage(); ok {
		if c := Caption(last.Content); c != "" {
			v.Caption = c
		}
	}
	return v
}

// Status picks the label shown above the transcript.
func Status(s turn.Snapshot) string {
	if !s.Active {
		return StatusIdle
	}
	if s.Paused {
		return StatusPaused
	}
	switch s.State {
	case turn.Processing:
		return StatusThinking
	case turn.Synthesizing:
		return StatusPreparing
	case turn.Speaking:
		return StatusSpeaking
	case turn.Listening:
		return StatusListening
	}
	if s.CaptureDisabled {
		return StatusMicOff
	}
	return StatusWaiting
}

// Caption is the first sentence of reply, cleaned for display and cut to
// 120 characters. "..." marks anything left out.
func Caption(reply string) string {
	clean := StripDirectives(reply)
	clean = systemMarker.ReplaceAllString(clean, "")
	clean = decorativeIcon.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(clean)

	first := clean
	if loc := sentenceEnd.FindStringIndex(clean); loc != nil {
		first = clean[:loc[0]]
	}
	first = strings.TrimSpace(first)

	if r := []rune(first); len(r) > maxCaptionLen {
		first = string(r[:maxCaptionLen])
	}
	if first == "" {
		return ""
	}
	if len(clean) > len(first) {
		return first + "..."
	}
	return first
}
