package console

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picturetalk-backend/internal/models"
)

var fakeMP3 = []byte("ID3fake-mp3")

// syncBuffer lets the test read output while the command is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newStubServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(models.HealthResponse{Status: "ok", Timestamp: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)})
	})
	mux.HandleFunc("/api/chat/message", func(w http.ResponseWriter, r *http.Request) {
		var req models.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(models.ChatResponse{Message: reply, Timestamp: time.Now()})
	})
	mux.HandleFunc("/api/tts/synthesize", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(models.TTSResponse{
			Audio:     "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(fakeMP3),
			Timestamp: time.Now(),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func executeCLI(t *testing.T, in io.Reader, out io.Writer, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	return root.Execute()
}

func TestHealth(t *testing.T) {
	srv := newStubServer(t, "")
	out := &syncBuffer{}

	require.NoError(t, executeCLI(t, strings.NewReader(""), out, "health", "--server", srv.URL))
	assert.Equal(t, "ok (15:04:05)\n", out.String())
}

func TestSay_WritesReplyAndAudio(t *testing.T) {
	srv := newStubServer(t, "Wow, Elsa is so cool! [[showStars]]")
	out := &syncBuffer{}
	mp3 := filepath.Join(t.TempDir(), "reply.mp3")

	require.NoError(t, executeCLI(t, strings.NewReader(""), out, "say", "Hi!", "I see Elsa!", "--server", srv.URL, "--speak", mp3))
	assert.Equal(t, "Wow, Elsa is so cool!\n", out.String())

	data, err := os.ReadFile(mp3)
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, data)
}

func TestTalk_FullTurn(t *testing.T) {
	srv := newStubServer(t, "Wow, Elsa is so cool! [[showStars duration=5]]")
	audioDir := t.TempDir()
	out := &syncBuffer{}
	inR, inW := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		errc <- executeCLI(t, inR, out, "talk",
			"--server", srv.URL,
			"--audio-out", audioDir,
			"--greet=false",
			"--no-images",
			"--settle-delay", "10ms",
		)
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Microphone ready!") }, 3*time.Second, 10*time.Millisecond)
	_, err := io.WriteString(inW, "Hi! I see Elsa!\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "ai:  Wow, Elsa is so cool!") }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(audioDir, "reply-001.mp3"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(inW, "/end\n")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("talk did not exit")
	}

	output := out.String()
	assert.Contains(t, output, "you: Hi! I see Elsa!")
	assert.Contains(t, output, "(showStars)")
	assert.Contains(t, output, "Conversation completed! Great job!")
}

func TestDecodeDataURI(t *testing.T) {
	data, err := decodeDataURI("data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(fakeMP3))
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, data)

	_, err = decodeDataURI("https://example.test/a.mp3")
	assert.Error(t, err)

	_, err = decodeDataURI("data:audio/mpeg;base64,!!!")
	assert.Error(t, err)
}
