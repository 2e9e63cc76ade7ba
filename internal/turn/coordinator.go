// Package turn runs the turn-taking state machine of a live conversation:
// listen, send the child's words to the chat backend, synthesize the reply,
// play it, and listen again, with the microphone gated off whenever the AI
// has the turn.
//
// All state is owned by the goroutine running Coordinator.Run. Public methods
// only enqueue events; vendor calls run on their own goroutines and report
// back through the same queue, tagged with the epochs they started in so
// results from a paused or ended session are recognised as stale.
package turn

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	DefaultGreetingPrompt   = "[SYSTEM: Start the conversation! Look at the image and greet the child with excitement about what you see. Ask them what they notice!]"
	DefaultNewPicturePrompt = "[SYSTEM: A new picture just appeared! Look at it with excitement and tell the child what you see! Ask them what they notice too!]"
)

// Config holds the tuning of a Coordinator.
type Config struct {
	// ListenRestartDelay is how long to wait before restarting capture after
	// the recognizer stops on its own or a chat turn fails. Default: 1000ms.
	ListenRestartDelay time.Duration
	// PlaybackSettleDelay keeps the microphone closed after playback ends so
	// the tail of the AI's audio is not captured. Default: 1800ms.
	PlaybackSettleDelay time.Duration
	// MicReleaseDelay separates aborting capture from starting synthesis.
	// Default: 200ms.
	MicReleaseDelay time.Duration
	// CallTimeout bounds each chat or speech call. Default: 45s.
	CallTimeout time.Duration

	GreetOnStart     bool
	GreetingPrompt   string
	NewPicturePrompt string

	// SpeechText converts a reply into the text that is spoken, e.g. with
	// effect directives removed. Default: identity.
	SpeechText func(string) string
	Now        func() time.Time
}

// DefaultConfig returns a Config with the standard delays.
func DefaultConfig() Config {
	return Config{
		ListenRestartDelay:  1000 * time.Millisecond,
		PlaybackSettleDelay: 1800 * time.Millisecond,
		MicReleaseDelay:     200 * time.Millisecond,
		CallTimeout:         45 * time.Second,
		GreetOnStart:        true,
		GreetingPrompt:      DefaultGreetingPrompt,
		NewPicturePrompt:    DefaultNewPicturePrompt,
	}
}

// Deps are the devices and backends a Coordinator drives.
type Deps struct {
	Mic      Microphone
	Chat     ChatBackend
	Speech   SpeechBackend
	Audio    AudioOutput
	Images   ImageSource
	Observer Observer
}

type timerKind int

const (
	timerRestartCapture timerKind = iota
	timerResumeAfterError
	timerMicRelease
	timerSettle
)

type (
	evStart            struct{}
	evPause            struct{}
	evResume           struct{}
	evEnd              struct{}
	evNewPicture       struct{}
	evRecognitionEnded struct{}
	evTranscript       struct {
		text  string
		final bool
	}
	evRecognitionError struct{ code string }
	evPlaybackEnded    struct{ err error }
	evPermission       struct {
		err     error
		session uint64
	}
	evChatResult struct {
		reply         string
		err           error
		session, turn uint64
	}
	evSpeechResult struct {
		audio         string
		err           error
		session, turn uint64
	}
	evNotice struct {
		notice        Notice
		session, turn uint64
	}
	evTimer struct {
		kind  timerKind
		epoch uint64
	}
)

// Coordinator serializes the microphone → AI → speech → microphone cycle.
type Coordinator struct {
	cfg  Config
	deps Deps

	events chan any
	done   chan struct{}
	ctx    context.Context

	// Owned by the Run goroutine.
	state             State
	active            bool
	paused            bool
	captureDisabled   bool
	permissionPending bool
	messages          []Message
	partial           string
	pendingSpeech     string
	sessionEpoch      uint64
	turnEpoch         uint64
	timerEpoch        uint64
	timers            map[timerKind]*time.Timer
	version           uint64
	published         uint64

	snapMu sync.RWMutex
	snap   Snapshot
}

// New builds a Coordinator. Zero-valued fields of cfg take their defaults,
// except GreetOnStart which is used as given.
func New(cfg Config, deps Deps) *Coordinator {
	def := DefaultConfig()
	if cfg.ListenRestartDelay <= 0 {
		cfg.ListenRestartDelay = def.ListenRestartDelay
	}
	if cfg.PlaybackSettleDelay <= 0 {
		cfg.PlaybackSettleDelay = def.PlaybackSettleDelay
	}
	if cfg.MicReleaseDelay < 0 {
		cfg.MicReleaseDelay = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.GreetingPrompt == "" {
		cfg.GreetingPrompt = def.GreetingPrompt
	}
	if cfg.NewPicturePrompt == "" {
		cfg.NewPicturePrompt = def.NewPicturePrompt
	}
	if cfg.SpeechText == nil {
		cfg.SpeechText = func(s string) string { return s }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}

	c := &Coordinator{
		cfg:    cfg,
		deps:   deps,
		events: make(chan any, 64),
		done:   make(chan struct{}),
		timers: make(map[timerKind]*time.Timer),
	}
	c.snap = Snapshot{Image: deps.Images.Current()}
	return c
}

// Run processes events until ctx is cancelled. Call it once.
func (c *Coordinator) Run(ctx context.Context) {
	c.ctx = ctx
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Snapshot returns the latest published state.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	s := c.snap
	s.Messages = append([]Message(nil), c.snap.Messages...)
	return s
}

func (c *Coordinator) Start()         { c.post(evStart{}) }
func (c *Coordinator) Pause()         { c.post(evPause{}) }
func (c *Coordinator) Resume()        { c.post(evResume{}) }
func (c *Coordinator) End()           { c.post(evEnd{}) }
func (c *Coordinator) NewPicture()    { c.post(evNewPicture{}) }
func (c *Coordinator) PlaybackEnded() { c.post(evPlaybackEnded{}) }

// Transcript delivers recognizer output. Interim results only update the
// partial transcript; a final result may start a turn.
func (c *Coordinator) Transcript(text string, final bool) {
	c.post(evTranscript{text: text, final: final})
}

// RecognitionError delivers a recognizer error code such as "no-speech".
func (c *Coordinator) RecognitionError(code string) { c.post(evRecognitionError{code: code}) }

// RecognitionEnded reports that the recognizer stopped without a final result.
func (c *Coordinator) RecognitionEnded() { c.post(evRecognitionEnded{}) }

// PlaybackFailed reports that the audio output could not play the reply.
func (c *Coordinator) PlaybackFailed(err error) {
	if err == nil {
		err = errors.New("audio playback failed")
	}
	c.post(evPlaybackEnded{err: err})
}

func (c *Coordinator) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) handle(ev any) {
	switch e := ev.(type) {
	case evStart:
		c.onStart()
	case evPermission:
		c.onPermission(e)
	case evTranscript:
		c.onTranscript(e.text, e.final)
	case evRecognitionError:
		c.onRecognitionError(e.code)
	case evRecognitionEnded:
		if c.state == Listening {
			c.schedule(timerRestartCapture, c.cfg.ListenRestartDelay)
		}
	case evChatResult:
		c.onChatResult(e)
	case evSpeechResult:
		c.onSpeechResult(e)
	case evPlaybackEnded:
		c.onPlaybackEnded(e.err)
	case evPause:
		c.onPause()
	case evResume:
		c.onResume()
	case evEnd:
		c.onEnd()
	case evNewPicture:
		c.onNewPicture()
	case evNotice:
		if e.session == c.sessionEpoch && e.turn == c.turnEpoch {
			c.deps.Observer.Notify(e.notice)
		}
	case evTimer:
		if e.epoch == c.timerEpoch {
			delete(c.timers, e.kind)
			c.onTimer(e.kind)
		}
	}
}

func (c *Coordinator) onStart() {
	if c.active || c.permissionPending {
		return
	}
	c.permissionPending = true
	session := c.sessionEpoch

	go func() {
		err := c.deps.Mic.RequestPermission(c.ctx)
		c.post(evPermission{err: err, session: session})
	}()
}

func (c *Coordinator) onPermission(e evPermission) {
	c.permissionPending = false
	if e.session != c.sessionEpoch || c.active {
		return
	}
	if e.err != nil {
		err := &PermissionError{Err: e.err}
		c.deps.Observer.Notify(Notice{
			Level:   NoticeError,
			Message: "Please allow microphone access to start the conversation.",
			Err:     err,
		})
		return
	}

	c.sessionEpoch++
	c.turnEpoch++
	c.cancelTimers()
	c.active = true
	c.paused = false
	c.captureDisabled = false
	c.messages = nil
	c.partial = ""
	c.touch()

	c.deps.Observer.Notify(Notice{Level: NoticeSuccess, Message: "Microphone ready!"})
	c.resumeCapture()

	if c.cfg.GreetOnStart {
		c.interject(c.cfg.GreetingPrompt)
	}
}

func (c *Coordinator) onTranscript(text string, final bool) {
	if c.state != Listening {
		// Never queue speech heard while the AI has the turn.
		if c.active && c.state.AIActive() {
			c.deps.Mic.AbortCapture()
		}
		c.setPartial("")
		return
	}

	if !final {
		c.setPartial(text)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.setPartial("")
		return
	}

	c.deps.Mic.AbortCapture()
	c.setPartial("")

	history := c.history()
	c.appendMessage(Message{Role: RoleUser, Content: text, Timestamp: c.cfg.Now()})
	c.beginTurn(text, history)
}

// interject forces an AI turn driven by a system prompt, aborting any capture
// in progress. The prompt itself is not part of the conversation log.
func (c *Coordinator) interject(prompt string) {
	c.deps.Mic.AbortCapture()
	c.setPartial("")
	img := c.deps.Images.Current()
	if img.Context != "" {
		prompt += " [SYSTEM: The picture shows: " + img.Context + "]"
	}
	c.beginTurn(prompt, c.history())
}

func (c *Coordinator) beginTurn(prompt string, history []Message) {
	c.cancelTimer(timerRestartCapture)
	c.cancelTimer(timerResumeAfterError)
	c.turnEpoch++
	c.setState(Processing)

	session, turn := c.sessionEpoch, c.turnEpoch
	img := c.deps.Images.Current()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		defer cancel()

		imageData, err := c.deps.Images.Load(ctx, img)
		if err != nil {
			log.Printf("turn: image load failed for %s: %v", img.URL, err)
			c.post(evNotice{
				notice:  Notice{Level: NoticeWarning, Message: "Could not load image for AI vision.", Err: err},
				session: session,
				turn:    turn,
			})
			imageData = ""
		}

		reply, err := c.deps.Chat.SendMessage(ctx, prompt, history, imageData)
		c.post(evChatResult{reply: reply, err: err, session: session, turn: turn})
	}()
}

func (c *Coordinator) onChatResult(e evChatResult) {
	if e.session != c.sessionEpoch || !c.active {
		return
	}
	if e.turn != c.turnEpoch {
		// Paused mid-turn: keep what was said, but do not speak it.
		if e.err == nil && c.paused && strings.TrimSpace(e.reply) != "" {
			c.appendMessage(Message{Role: RoleAssistant, Content: e.reply, Timestamp: c.cfg.Now()})
		}
		return
	}
	if c.state != Processing {
		return
	}

	if e.err != nil {
		log.Printf("turn: chat failed: %v", e.err)
		c.setState(Idle)
		c.deps.Observer.Notify(Notice{
			Level:      NoticeError,
			Message:    "AI had trouble responding. Try again! 🔄",
			RetryAfter: retryHint(e.err),
			Err:        e.err,
		})
		c.schedule(timerResumeAfterError, c.cfg.ListenRestartDelay)
		return
	}

	c.appendMessage(Message{Role: RoleAssistant, Content: e.reply, Timestamp: c.cfg.Now()})
	c.setState(Synthesizing)
	c.pendingSpeech = e.reply
	c.schedule(timerMicRelease, c.cfg.MicReleaseDelay)
}

func (c *Coordinator) startSpeech() {
	if c.state != Synthesizing {
		return
	}
	text := strings.TrimSpace(c.cfg.SpeechText(c.pendingSpeech))
	c.pendingSpeech = ""
	if text == "" {
		c.resumeCapture()
		return
	}

	session, turn := c.sessionEpoch, c.turnEpoch
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CallTimeout)
		defer cancel()
		audio, err := c.deps.Speech.Synthesize(ctx, text)
		c.post(evSpeechResult{audio: audio, err: err, session: session, turn: turn})
	}()
}

func (c *Coordinator) onSpeechResult(e evSpeechResult) {
	if e.session != c.sessionEpoch || e.turn != c.turnEpoch || c.state != Synthesizing {
		return
	}

	if e.err != nil {
		log.Printf("turn: speech failed: %v", e.err)
		c.deps.Observer.Notify(Notice{
			Level:      NoticeError,
			Message:    "Voice had a hiccup. Keep talking! 🎤",
			RetryAfter: retryHint(e.err),
			Err:        e.err,
		})
		c.resumeCapture()
		return
	}

	c.setState(Speaking)
	if err := c.deps.Audio.Play(e.audio); err != nil {
		c.onPlaybackEnded(err)
	}
}

func (c *Coordinator) onPlaybackEnded(err error) {
	if c.state != Speaking {
		return
	}
	if _, settling := c.timers[timerSettle]; settling {
		return
	}
	if err != nil {
		c.deps.Observer.Notify(Notice{Level: NoticeError, Message: "Audio playback error", Err: err})
	}
	c.schedule(timerSettle, c.cfg.PlaybackSettleDelay)
}

func (c *Coordinator) onRecognitionError(code string) {
	err := ClassifyRecognitionError(code)

	var transient *TransientRecognitionError
	var fatal *FatalRecognitionError
	switch {
	case errors.As(err, &transient):
		return
	case errors.As(err, &fatal):
		c.captureDisabled = true
		c.touch()
		c.cancelTimer(timerRestartCapture)
		if c.state == Listening {
			c.deps.Mic.AbortCapture()
			c.setState(Idle)
		}
		c.deps.Observer.Notify(Notice{
			Level:   NoticeError,
			Message: "Microphone access denied. Please allow microphone access and try again.",
			Err:     err,
		})
	default:
		c.deps.Observer.Notify(Notice{Level: NoticeWarning, Message: "Speech recognition error: " + code, Err: err})
	}
}

func (c *Coordinator) onPause() {
	if !c.active || c.paused {
		return
	}
	c.paused = true
	c.turnEpoch++
	c.cancelTimers()
	c.pendingSpeech = ""
	c.deps.Mic.AbortCapture()
	if c.state == Synthesizing || c.state == Speaking {
		c.deps.Audio.Stop()
	}
	c.setPartial("")
	c.setState(Idle)
	c.touch()
	c.deps.Observer.Notify(Notice{Level: NoticeInfo, Message: "Conversation paused"})
}

func (c *Coordinator) onResume() {
	if !c.active || (!c.paused && !c.captureDisabled) {
		return
	}
	c.paused = false
	c.captureDisabled = false
	c.touch()
	// While the AI has the turn the settle or error path reopens the mic.
	if !c.state.AIActive() {
		c.resumeCapture()
	}
	c.deps.Observer.Notify(Notice{Level: NoticeSuccess, Message: "Conversation resumed"})
}

func (c *Coordinator) onEnd() {
	if !c.active {
		if c.permissionPending {
			// Drop the grant still in flight.
			c.sessionEpoch++
		}
		return
	}
	c.sessionEpoch++
	c.turnEpoch++
	c.cancelTimers()
	c.active = false
	c.paused = false
	c.captureDisabled = false
	c.messages = nil
	c.pendingSpeech = ""
	c.deps.Mic.AbortCapture()
	c.deps.Audio.Stop()
	c.setPartial("")
	c.setState(Idle)
	c.touch()
	c.deps.Observer.Notify(Notice{Level: NoticeSuccess, Message: "Conversation completed! Great job!"})
}

func (c *Coordinator) onNewPicture() {
	c.deps.Images.Advance()
	c.touch()

	if !c.active || c.paused || c.state.AIActive() {
		c.deps.Observer.Notify(Notice{Level: NoticeSuccess, Message: "New picture loaded!"})
		return
	}
	c.interject(c.cfg.NewPicturePrompt)
}

func (c *Coordinator) onTimer(kind timerKind) {
	switch kind {
	case timerRestartCapture:
		if c.state == Listening {
			if err := c.deps.Mic.StartCapture(); err != nil {
				c.deps.Observer.Notify(Notice{Level: NoticeWarning, Message: "Could not start listening", Err: err})
			}
		}
	case timerResumeAfterError:
		if c.state == Idle {
			c.resumeCapture()
		}
	case timerMicRelease:
		c.startSpeech()
	case timerSettle:
		if c.state == Speaking {
			c.resumeCapture()
		}
	}
}

// resumeCapture moves to Listening when the session allows capture, and to
// Idle otherwise.
func (c *Coordinator) resumeCapture() {
	if !c.active || c.paused || c.captureDisabled {
		c.setState(Idle)
		return
	}
	c.setState(Listening)
	if err := c.deps.Mic.StartCapture(); err != nil {
		c.deps.Observer.Notify(Notice{Level: NoticeWarning, Message: "Could not start listening", Err: err})
		c.schedule(timerRestartCapture, c.cfg.ListenRestartDelay)
	}
}

func (c *Coordinator) setState(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.touch()
	c.deps.Observer.StateChanged(prev, next)
}

func (c *Coordinator) setPartial(text string) {
	if c.partial == text {
		return
	}
	c.partial = text
	c.touch()
}

func (c *Coordinator) appendMessage(msg Message) {
	c.messages = append(c.messages, msg)
	c.touch()
	c.deps.Observer.MessageAppended(msg)
}

func (c *Coordinator) history() []Message {
	return append([]Message(nil), c.messages...)
}

func (c *Coordinator) schedule(kind timerKind, d time.Duration) {
	c.cancelTimer(kind)
	epoch := c.timerEpoch
	c.timers[kind] = time.AfterFunc(d, func() {
		c.post(evTimer{kind: kind, epoch: epoch})
	})
}

func (c *Coordinator) cancelTimer(kind timerKind) {
	if t, ok := c.timers[kind]; ok {
		t.Stop()
		delete(c.timers, kind)
	}
}

// cancelTimers stops every pending timer. Timers that already fired are
// filtered out by the epoch bump.
func (c *Coordinator) cancelTimers() {
	for kind, t := range c.timers {
		t.Stop()
		delete(c.timers, kind)
	}
	c.timerEpoch++
}

func (c *Coordinator) touch() { c.version++ }

func (c *Coordinator) publish() {
	if c.version == c.published {
		return
	}
	c.published = c.version

	snap := Snapshot{
		State:             c.state,
		Active:            c.active,
		Paused:            c.paused,
		CaptureDisabled:   c.captureDisabled,
		Messages:          c.history(),
		PartialTranscript: c.partial,
		Image:             c.deps.Images.Current(),
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	c.deps.Observer.SnapshotUpdated(snap)
}

func (c *Coordinator) shutdown() {
	c.cancelTimers()
	if c.active {
		c.deps.Mic.AbortCapture()
		c.deps.Audio.Stop()
	}
}
