package turn

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picturetalk-backend/internal/catalog"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeMic struct {
	mu            sync.Mutex
	permissionErr error
	// grant, when set, holds the permission answer until it is closed.
	grant     chan struct{}
	capturing bool
	starts    int
	aborts    int
}

func (m *fakeMic) RequestPermission(ctx context.Context) error {
	m.mu.Lock()
	grant := m.grant
	m.mu.Unlock()

	if grant != nil {
		select {
		case <-grant:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissionErr
}

func (m *fakeMic) StartCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturing = true
	m.starts++
	return nil
}

func (m *fakeMic) AbortCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturing = false
	m.aborts++
}

func (m *fakeMic) isCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

func (m *fakeMic) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

type chatCall struct {
	message   string
	history   []Message
	imageData string
}

type fakeChat struct {
	mu    sync.Mutex
	calls []chatCall
	reply func(call chatCall) (string, error)
}

func (f *fakeChat) SendMessage(_ context.Context, message string, history []Message, imageData string) (string, error) {
	call := chatCall{message: message, history: history, imageData: imageData}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	reply := f.reply
	f.mu.Unlock()

	if reply == nil {
		return "That sounds amazing!", nil
	}
	return reply(call)
}

func (f *fakeChat) callList() []chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatCall(nil), f.calls...)
}

type fakeSpeech struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return "", f.err
	}
	return "data:audio/mpeg;base64,AAAA", nil
}

func (f *fakeSpeech) textList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeAudio struct {
	mu    sync.Mutex
	plays []string
	stops int
}

func (a *fakeAudio) Play(uri string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plays = append(a.plays, uri)
	return nil
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
}

func (a *fakeAudio) playCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.plays)
}

type recorder struct {
	mu          sync.Mutex
	mic         *fakeMic
	transitions []State
	notices     []Notice
	violations  int
}

func (r *recorder) StateChanged(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
	if to.AIActive() && r.mic.isCapturing() {
		r.violations++
	}
}

func (r *recorder) MessageAppended(Message) {}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) SnapshotUpdated(Snapshot) {}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions...)
}

func (r *recorder) noticesWith(msg string) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Message == msg {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	c      *Coordinator
	mic    *fakeMic
	chat   *fakeChat
	speech *fakeSpeech
	audio  *fakeAudio
	images *CatalogImages
	obs    *recorder
}

func testConfig() Config {
	return Config{
		ListenRestartDelay:  10 * time.Millisecond,
		PlaybackSettleDelay: 20 * time.Millisecond,
		MicReleaseDelay:     time.Millisecond,
		SpeechText: func(s string) string {
			if i := strings.Index(s, "[["); i >= 0 {
				return strings.TrimSpace(s[:i])
			}
			return s
		},
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	cat := catalog.New([]catalog.Image{
		{URL: "https://example.test/frozen.jpg", Context: "Frozen with Elsa"},
		{URL: "https://example.test/moana.jpg", Context: "Moana on the ocean"},
	}, rand.New(rand.NewPCG(1, 2)))

	h := &harness{
		mic:    &fakeMic{},
		chat:   &fakeChat{},
		speech: &fakeSpeech{},
		audio:  &fakeAudio{},
	}
	h.obs = &recorder{mic: h.mic}
	h.images = &CatalogImages{catalog: cat, load: func(_ context.Context, url string) (string, error) {
		return "data:image/jpeg;base64," + url, nil
	}}
	h.c = New(cfg, Deps{
		Mic:      h.mic,
		Chat:     h.chat,
		Speech:   h.speech,
		Audio:    h.audio,
		Images:   h.images,
		Observer: h.obs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.c.Done()
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.Snapshot().State == want }, waitFor, tick,
		"expected state %s, last %s", want, h.c.Snapshot().State)
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.c.Start()
	h.waitState(t, Listening)
}

func TestCoordinator_FullTurn(t *testing.T) {
	h := newHarness(t, testConfig())
	h.chat.reply = func(chatCall) (string, error) {
		return "Wow, Elsa is so cool! [[showStars duration=3]]", nil
	}

	h.start(t)
	h.c.Transcript("Hi! I see Elsa!", true)

	h.waitState(t, Speaking)
	require.Equal(t, 1, h.audio.playCount())
	assert.Equal(t, []string{"Wow, Elsa is so cool!"}, h.speech.textList())

	calls := h.chat.callList()
	require.Len(t, calls, 1)
	assert.Equal(t, "Hi! I see Elsa!", calls[0].message)
	assert.Empty(t, calls[0].history)
	assert.Equal(t, "data:image/jpeg;base64,https://example.test/frozen.jpg", calls[0].imageData)

	h.c.PlaybackEnded()
	h.waitState(t, Listening)

	snap := h.c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "Wow, Elsa is so cool! [[showStars duration=3]]", snap.Messages[1].Content)

	assert.Equal(t, []State{Listening, Processing, Synthesizing, Speaking, Listening}, h.obs.states())
	assert.Zero(t, h.obs.violations)
	assert.Equal(t, 2, h.mic.startCount())
}

func TestCoordinator_SpeechFailureResumesListening(t *testing.T) {
	h := newHarness(t, testConfig())
	h.speech.err = errors.New("ElevenLabs API error: Unauthorized")

	h.start(t)
	h.c.Transcript("What is that?", true)

	require.Eventually(t, func() bool {
		return len(h.speech.textList()) == 1 && h.c.Snapshot().State == Listening
	}, waitFor, tick)
	assert.Zero(t, h.audio.playCount())
	assert.Len(t, h.c.Snapshot().Messages, 2)
	assert.Len(t, h.obs.noticesWith("Voice had a hiccup. Keep talking! 🎤"), 1)
}

func TestCoordinator_DropsSpeechWhileAISpeaks(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.Transcript("Hello", true)
	h.waitState(t, Speaking)

	h.c.Transcript("I am talking over you", true)
	h.c.Transcript("still talking", false)

	require.Eventually(t, func() bool { return h.c.Snapshot().PartialTranscript == "" }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, h.chat.callList(), 1)
	assert.Len(t, h.c.Snapshot().Messages, 2)
	assert.Equal(t, Speaking, h.c.Snapshot().State)
}

func TestCoordinator_InterimTranscript(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.Transcript("I see a", false)
	require.Eventually(t, func() bool { return h.c.Snapshot().PartialTranscript == "I see a" }, waitFor, tick)
	assert.Empty(t, h.chat.callList())

	h.c.Transcript("   ", true)
	require.Eventually(t, func() bool { return h.c.Snapshot().PartialTranscript == "" }, waitFor, tick)
	assert.Equal(t, Listening, h.c.Snapshot().State)
	assert.Empty(t, h.chat.callList())
}

func TestCoordinator_PauseIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.Pause()
	h.c.Pause()
	require.Eventually(t, func() bool { return h.c.Snapshot().Paused }, waitFor, tick)
	h.waitState(t, Idle)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.obs.noticesWith("Conversation paused"), 1)
	assert.False(t, h.mic.isCapturing())

	h.c.Resume()
	h.c.Resume()
	h.waitState(t, Listening)
	assert.False(t, h.c.Snapshot().Paused)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.obs.noticesWith("Conversation resumed"), 1)
}

func TestCoordinator_PauseDuringProcessingKeepsReplyUnspoken(t *testing.T) {
	h := newHarness(t, testConfig())
	release := make(chan struct{})
	h.chat.reply = func(chatCall) (string, error) {
		<-release
		return "A snowman!", nil
	}

	h.start(t)
	h.c.Transcript("Who is that?", true)
	h.waitState(t, Processing)

	h.c.Pause()
	h.waitState(t, Idle)
	close(release)

	require.Eventually(t, func() bool { return len(h.c.Snapshot().Messages) == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.speech.textList())
	assert.Equal(t, Idle, h.c.Snapshot().State)
}

func TestCoordinator_HistoryRoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())
	replies := []string{"Hi there!", "Yes, Olaf loves summer!"}
	var n int
	var mu sync.Mutex
	h.chat.reply = func(chatCall) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[n]
		n++
		return r, nil
	}

	h.start(t)
	h.c.Transcript("Hello", true)
	h.waitState(t, Speaking)
	h.c.PlaybackEnded()
	h.waitState(t, Listening)

	h.c.Transcript("Does Olaf like summer?", true)
	h.waitState(t, Speaking)

	calls := h.chat.callList()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].history, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "Hello"}, withoutTime(calls[1].history[0]))
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Hi there!"}, withoutTime(calls[1].history[1]))
	assert.Len(t, h.c.Snapshot().Messages, 4)
}

func withoutTime(m Message) Message {
	m.Timestamp = time.Time{}
	return m
}

func TestCoordinator_PermissionDenied(t *testing.T) {
	h := newHarness(t, testConfig())
	h.mic.permissionErr = errors.New("NotAllowedError")

	h.c.Start()
	require.Eventually(t, func() bool {
		return len(h.obs.noticesWith("Please allow microphone access to start the conversation.")) == 1
	}, waitFor, tick)

	snap := h.c.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, h.mic.startCount())

	var permErr *PermissionError
	assert.ErrorAs(t, h.obs.noticesWith("Please allow microphone access to start the conversation.")[0].Err, &permErr)
}

func TestCoordinator_FatalRecognitionErrorDisablesCapture(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.RecognitionError("not-allowed")
	h.waitState(t, Idle)
	assert.True(t, h.c.Snapshot().CaptureDisabled)

	h.c.RecognitionEnded()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.mic.startCount())
	assert.Equal(t, Idle, h.c.Snapshot().State)

	h.c.Resume()
	h.waitState(t, Listening)
	assert.False(t, h.c.Snapshot().CaptureDisabled)
}

func TestCoordinator_TransientRecognitionErrorIgnored(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.RecognitionError("no-speech")
	h.c.RecognitionEnded()

	require.Eventually(t, func() bool { return h.mic.startCount() == 2 }, waitFor, tick)
	assert.Equal(t, Listening, h.c.Snapshot().State)
	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	assert.Len(t, h.obs.notices, 1, "only the microphone-ready notice")
}

func TestCoordinator_ChatFailureNotifiesWithRetryHint(t *testing.T) {
	h := newHarness(t, testConfig())
	h.chat.reply = func(chatCall) (string, error) {
		return "", hintedErr{hint: 39 * time.Second}
	}

	h.start(t)
	h.c.Transcript("Hello", true)

	require.Eventually(t, func() bool {
		return len(h.obs.noticesWith("AI had trouble responding. Try again! 🔄")) == 1
	}, waitFor, tick)
	assert.Equal(t, 39*time.Second, h.obs.noticesWith("AI had trouble responding. Try again! 🔄")[0].RetryAfter)

	h.waitState(t, Listening)
	assert.Len(t, h.c.Snapshot().Messages, 1)
	assert.Empty(t, h.speech.textList())
}

type hintedErr struct{ hint time.Duration }

func (e hintedErr) Error() string            { return "quota exceeded" }
func (e hintedErr) RetryHint() time.Duration { return e.hint }

func TestCoordinator_EndClearsLogAndIgnoresLateReply(t *testing.T) {
	h := newHarness(t, testConfig())
	release := make(chan struct{})
	h.chat.reply = func(chatCall) (string, error) {
		<-release
		return "Too late!", nil
	}

	h.start(t)
	h.c.Transcript("Hello", true)
	h.waitState(t, Processing)

	h.c.End()
	require.Eventually(t, func() bool { return !h.c.Snapshot().Active }, waitFor, tick)
	close(release)
	time.Sleep(30 * time.Millisecond)

	snap := h.c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, h.speech.textList())
	assert.Len(t, h.obs.noticesWith("Conversation completed! Great job!"), 1)
}

func TestCoordinator_GreetingOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.GreetOnStart = true
	h := newHarness(t, cfg)

	h.c.Start()
	h.waitState(t, Speaking)

	calls := h.chat.callList()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].message, DefaultGreetingPrompt))
	assert.Contains(t, calls[0].message, "[SYSTEM: The picture shows: Frozen with Elsa]")

	msgs := h.c.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Zero(t, h.obs.violations)
}

func TestCoordinator_NewPictureWhileListening(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.NewPicture()
	h.waitState(t, Speaking)

	assert.Equal(t, "https://example.test/moana.jpg", h.c.Snapshot().Image.URL)
	calls := h.chat.callList()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].message, "Moana on the ocean")
	assert.Equal(t, "data:image/jpeg;base64,https://example.test/moana.jpg", calls[0].imageData)
}

func TestCoordinator_NewPictureWhileInactiveOnlySwitches(t *testing.T) {
	h := newHarness(t, testConfig())

	h.c.NewPicture()
	require.Eventually(t, func() bool {
		return h.c.Snapshot().Image.URL == "https://example.test/moana.jpg"
	}, waitFor, tick)
	assert.Empty(t, h.chat.callList())
	assert.Equal(t, Idle, h.c.Snapshot().State)
}

func TestCoordinator_MicClosedDuringSettle(t *testing.T) {
	cfg := testConfig()
	cfg.PlaybackSettleDelay = 100 * time.Millisecond
	h := newHarness(t, cfg)

	h.start(t)
	h.c.Transcript("Hello", true)
	h.waitState(t, Speaking)

	h.c.PlaybackEnded()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Speaking, h.c.Snapshot().State)
	assert.False(t, h.mic.isCapturing())

	h.waitState(t, Listening)
	assert.True(t, h.mic.isCapturing())
}

func TestClassifyRecognitionError(t *testing.T) {
	var transient *TransientRecognitionError
	var fatal *FatalRecognitionError

	assert.ErrorAs(t, ClassifyRecognitionError("no-speech"), &transient)
	assert.ErrorAs(t, ClassifyRecognitionError("aborted"), &transient)
	assert.ErrorAs(t, ClassifyRecognitionError("not-allowed"), &fatal)
	assert.ErrorAs(t, ClassifyRecognitionError("service-not-allowed"), &fatal)

	err := ClassifyRecognitionError("network")
	assert.False(t, errors.As(err, &transient))
	assert.False(t, errors.As(err, &fatal))
}

func TestCoordinator_ResumeDuringSpeakingKeepsMicClosed(t *testing.T) {
	h := newHarness(t, testConfig())

	h.start(t)
	h.c.Transcript("Hi! I see Elsa!", true)
	h.waitState(t, Speaking)

	h.c.RecognitionError("not-allowed")
	require.Eventually(t, func() bool { return h.c.Snapshot().CaptureDisabled }, waitFor, tick)

	h.c.Resume()
	require.Eventually(t, func() bool { return !h.c.Snapshot().CaptureDisabled }, waitFor, tick)
	assert.Equal(t, Speaking, h.c.Snapshot().State)
	assert.False(t, h.mic.isCapturing())
	assert.Len(t, h.obs.noticesWith("Conversation resumed"), 1)

	h.c.PlaybackEnded()
	h.waitState(t, Listening)
	assert.True(t, h.mic.isCapturing())
	assert.Zero(t, h.obs.violations)
}

func TestCoordinator_EndWhilePermissionPending(t *testing.T) {
	h := newHarness(t, testConfig())
	grant := make(chan struct{})
	h.mic.grant = grant

	h.c.Start()
	h.c.End()
	close(grant)

	time.Sleep(50 * time.Millisecond)
	snap := h.c.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, Idle, snap.State)
	assert.False(t, h.mic.isCapturing())
	assert.Empty(t, h.obs.noticesWith("Microphone ready!"))

	h.c.Start()
	h.waitState(t, Listening)
	assert.True(t, h.c.Snapshot().Active)
}
