package websocket

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"picturetalk-backend/internal/catalog"
	"picturetalk-backend/internal/presentation"
	"picturetalk-backend/internal/turn"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64

	permissionWait = 2 * time.Minute
)

var (
	errPermissionDenied = errors.New("microphone permission denied")
	errSessionClosed    = errors.New("live session closed")
)

// Session is one browser connection driving one coordinator.
type Session struct {
	ID uuid.UUID

	conn     *websocket.Conn
	out      chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	lastSeen atomic.Int64

	coord   *turn.Coordinator
	effects *presentation.EffectBoard

	mu        sync.Mutex
	snapshot  turn.Snapshot
	wasActive bool

	permission chan bool
}

func newSession(conn *websocket.Conn, deps LiveDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         uuid.New(),
		conn:       conn,
		out:        make(chan []byte, sendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		permission: make(chan bool, 1),
	}
	s.touch()
	s.effects = presentation.NewEffectBoard(func(presentation.Effects) { s.sendView() })

	images := turn.NewCatalogImages(deps.Catalog, deps.LoadImage)
	if deps.Prefetch != nil {
		images.OnAdvance = func(img catalog.Image) { deps.Prefetch(img.URL) }
	}

	s.coord = turn.New(deps.Turn, turn.Deps{
		Mic:      remoteMic{s},
		Chat:     deps.Chat,
		Speech:   deps.Speech,
		Audio:    remoteAudio{s},
		Images:   images,
		Observer: sessionObserver{s},
	})
	s.snapshot = s.coord.Snapshot()
	return s
}

func (s *Session) start() {
	go s.writeLoop()
	go s.coord.Run(s.ctx)

	s.send(MsgSession, SessionPayload{ID: s.ID.String()})
	s.sendView()
}

// Close ends the session and its coordinator. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.effects.Reset()
		s.conn.Close()
	})
}

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// IdleSince reports when the browser last sent anything.
func (s *Session) IdleSince() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("live session %s: read failed: %v", s.ID, err)
			}
			return
		}
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.dispatch(data); err != nil {
			log.Printf("live session %s: %v", s.ID, err)
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("live session %s: write failed: %v", s.ID, err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (s *Session) dispatch(data []byte) error {
	msgType, raw, err := Unmarshal(data)
	if err != nil {
		return err
	}

	switch msgType {
	case MsgStart:
		s.coord.Start()
	case MsgPause:
		s.coord.Pause()
	case MsgResume:
		s.coord.Resume()
	case MsgEnd:
		s.coord.End()
	case MsgNewPicture:
		s.coord.NewPicture()
	case MsgRecognitionEnd:
		s.coord.RecognitionEnded()
	case MsgPlaybackEnded:
		s.coord.PlaybackEnded()
	case MsgTranscript:
		p, err := UnmarshalPayload[TranscriptPayload](raw)
		if err != nil {
			return err
		}
		s.coord.Transcript(p.Text, p.Final)
	case MsgRecognitionError:
		p, err := UnmarshalPayload[ErrorPayload](raw)
		if err != nil {
			return err
		}
		s.coord.RecognitionError(p.Error)
	case MsgPlaybackError:
		p, err := UnmarshalPayload[ErrorPayload](raw)
		if err != nil {
			return err
		}
		s.coord.PlaybackFailed(errors.New(p.Error))
	case MsgPermission:
		p, err := UnmarshalPayload[PermissionPayload](raw)
		if err != nil {
			return err
		}
		select {
		case s.permission <- p.Granted:
		default:
		}
	default:
		log.Printf("live session %s: ignoring unknown message type %q", s.ID, msgType)
	}
	return nil
}

// send queues a message for the browser. A client too slow to drain its queue
// is disconnected.
func (s *Session) send(msgType MessageType, payload any) {
	data, err := Marshal(msgType, payload)
	if err != nil {
		log.Printf("live session %s: %v", s.ID, err)
		return
	}

	select {
	case <-s.ctx.Done():
	case s.out <- data:
	default:
		log.Printf("live session %s: send buffer full, closing", s.ID)
		s.Close()
	}
}

func (s *Session) sendView() {
	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()
	s.send(MsgView, presentation.Render(snap, s.effects.Current()))
}

type remoteMic struct{ s *Session }

func (m remoteMic) RequestPermission(ctx context.Context) error {
	select {
	case <-m.s.permission:
	default:
	}
	m.s.send(MsgMic, MicPayload{Action: MicRequestPermission})

	timer := time.NewTimer(permissionWait)
	defer timer.Stop()

	select {
	case granted := <-m.s.permission:
		if !granted {
			return errPermissionDenied
		}
		return nil
	case <-timer.C:
		return errPermissionDenied
	case <-ctx.Done():
		return errSessionClosed
	}
}

func (m remoteMic) StartCapture() error {
	m.s.send(MsgMic, MicPayload{Action: MicStart})
	return nil
}

func (m remoteMic) AbortCapture() { m.s.send(MsgMic, MicPayload{Action: MicAbort}) }

type remoteAudio struct{ s *Session }

func (a remoteAudio) Play(src string) error {
	a.s.send(MsgAudio, AudioPayload{Action: AudioPlay, Src: src})
	return nil
}

func (a remoteAudio) Stop() { a.s.send(MsgAudio, AudioPayload{Action: AudioStop}) }

type sessionObserver struct{ s *Session }

func (o sessionObserver) StateChanged(from, to turn.State) {
	log.Printf("live session %s: %s -> %s", o.s.ID, from, to)
}

func (o sessionObserver) MessageAppended(msg turn.Message) {
	if msg.Role == turn.RoleAssistant {
		o.s.effects.Apply(msg.Content)
	}
}

func (o sessionObserver) Notify(n turn.Notice) {
	o.s.send(MsgToast, ToastPayload{
		Level:             string(n.Level),
		Message:           n.Message,
		RetryAfterSeconds: int(math.Ceil(n.RetryAfter.Seconds())),
	})
}

func (o sessionObserver) SnapshotUpdated(snap turn.Snapshot) {
	o.s.mu.Lock()
	o.s.snapshot = snap
	ended := o.s.wasActive && !snap.Active
	o.s.wasActive = snap.Active
	o.s.mu.Unlock()

	if ended {
		o.s.effects.Reset()
	}
	o.s.sendView()
}
