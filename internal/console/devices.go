package console

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"picturetalk-backend/internal/presentation"
	"picturetalk-backend/internal/turn"
)

// keyboardMic treats the terminal as an always-granted microphone. Lines are
// only delivered while capture is on.
type keyboardMic struct {
	capturing atomic.Bool
}

func (m *keyboardMic) RequestPermission(context.Context) error { return nil }

func (m *keyboardMic) StartCapture() error {
	m.capturing.Store(true)
	return nil
}

func (m *keyboardMic) AbortCapture() { m.capturing.Store(false) }

func (m *keyboardMic) Capturing() bool { return m.capturing.Load() }

// fileAudio "plays" a reply by saving it under dir and reporting playback
// finished right away. An empty dir discards the audio.
type fileAudio struct {
	dir     string
	ended   func()
	failed  func(error)
	mu      sync.Mutex
	written int
}

func (a *fileAudio) Play(audioURI string) error {
	audio, err := decodeDataURI(audioURI)
	if err != nil {
		return err
	}

	if a.dir != "" {
		a.mu.Lock()
		a.written++
		name := filepath.Join(a.dir, fmt.Sprintf("reply-%03d.mp3", a.written))
		a.mu.Unlock()

		if err := os.WriteFile(name, audio, 0o644); err != nil {
			go a.failed(err)
			return nil
		}
	}
	go a.ended()
	return nil
}

func (a *fileAudio) Stop() {}

// printer renders coordinator output as plain lines. stopped receives once
// each time an active conversation ends.
type printer struct {
	turn.NopObserver
	mu      sync.Mutex
	out     io.Writer
	active  bool
	stopped chan struct{}
}

func (p *printer) println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) StateChanged(_, to turn.State) {
	switch to {
	case turn.Listening:
		p.println("%s", presentation.StatusListening)
	case turn.Processing:
		p.println("%s", presentation.StatusThinking)
	}
}

func (p *printer) MessageAppended(msg turn.Message) {
	switch msg.Role {
	case turn.RoleUser:
		p.println("you: %s", msg.Content)
	case turn.RoleAssistant:
		p.println("ai:  %s", presentation.StripDirectives(msg.Content))
		if fx := presentation.ParseDirectives(msg.Content); len(fx) > 0 {
			names := make([]string, 0, len(fx))
			for _, d := range fx {
				names = append(names, d.Name)
			}
			p.println("     (%s)", strings.Join(names, ", "))
		}
	}
}

func (p *printer) Notify(n turn.Notice) {
	p.println("[%s] %s", n.Level, n.Message)
}

func (p *printer) SnapshotUpdated(s turn.Snapshot) {
	if p.active && !s.Active {
		select {
		case p.stopped <- struct{}{}:
		default:
		}
	}
	p.active = s.Active
}

func decodeDataURI(uri string) ([]byte, error) {
	_, payload, ok := strings.Cut(uri, ";base64,")
	if !ok || !strings.HasPrefix(uri, "data:") {
		return nil, errors.New("audio is not a base64 data URI")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return data, nil
}
