package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubLoader struct {
	urls []string
	err  error
}

func (l *stubLoader) Load(_ context.Context, url string) (string, error) {
	l.urls = append(l.urls, url)
	return "data:image/jpeg;base64,AAAA", l.err
}

func TestParseJob(t *testing.T) {
	job, err := parseJob(`{"id":"6f1c1c3e-3a43-4b7a-9d8a-2a3f4b5c6d7e","url":"https://example.test/a.jpg","retry_count":1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.URL != "https://example.test/a.jpg" || job.RetryCount != 1 {
		t.Errorf("unexpected job: %+v", job)
	}

	if _, err := parseJob(`{"id":"6f1c1c3e-3a43-4b7a-9d8a-2a3f4b5c6d7e"}`); err == nil {
		t.Error("expected error for job without url")
	}
	if _, err := parseJob(`not json`); err == nil {
		t.Error("expected error for malformed job")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}
	for _, tc := range tests {
		if got := backoff(tc.attempt); got != tc.expected {
			t.Errorf("backoff(%d) = %v, expected %v", tc.attempt, got, tc.expected)
		}
	}
}

func TestProcess(t *testing.T) {
	loader := &stubLoader{}
	p := NewPool(nil, loader, 0)

	if err := p.process(context.Background(), Job{URL: "https://example.test/a.jpg"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loader.urls) != 1 || loader.urls[0] != "https://example.test/a.jpg" {
		t.Errorf("loader called with %v", loader.urls)
	}
	if p.workerCount != 1 {
		t.Errorf("expected worker count to be clamped to 1, got %d", p.workerCount)
	}

	loader.err = errors.New("failed to fetch image: 404 Not Found")
	if err := p.process(context.Background(), Job{URL: "https://example.test/b.jpg"}); err == nil {
		t.Error("expected loader error to propagate")
	}
}

func TestHandleFailure_GivesUpAfterMaxAttempts(t *testing.T) {
	p := NewPool(nil, &stubLoader{}, 1)
	// With a nil Redis client a scheduled retry would panic; the final
	// attempt must not schedule one.
	p.handleFailure(Job{URL: "https://example.test/a.jpg", RetryCount: maxAttempts - 1}, errors.New("boom"))
	p.Stop()
	p.Stop()
}

func TestPause_ReturnsOnStop(t *testing.T) {
	p := NewPool(nil, &stubLoader{}, 1)
	p.Stop()

	start := time.Now()
	p.pause(time.Minute)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("pause ignored stop, took %v", elapsed)
	}
}

func TestWorker_BacksOffWhenQueueUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	loader := &stubLoader{}
	p := NewPool(client, loader, 1)

	done := make(chan struct{})
	go func() {
		p.worker(0)
		close(done)
	}()

	// One failed pop followed by a pause; stopping interrupts the pause.
	time.Sleep(200 * time.Millisecond)
	p.Stop()

	select {
	case <-done:
	case <-time.After(errorPause + time.Second):
		t.Fatal("worker did not stop")
	}
	if len(loader.urls) != 0 {
		t.Errorf("no job should have been processed, got %v", loader.urls)
	}
}
