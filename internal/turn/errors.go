package turn

import (
	"errors"
	"fmt"
	"time"
)

// PermissionError means the platform refused microphone capture; the session
// cannot start.
type PermissionError struct{ Err error }

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return "microphone permission denied"
	}
	return fmt.Sprintf("microphone permission denied: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// TransientRecognitionError covers recognizer hiccups that are ignored while
// capture continues (no speech heard, capture aborted by us).
type TransientRecognitionError struct{ Code string }

func (e *TransientRecognitionError) Error() string {
	return "speech recognition: " + e.Code
}

// FatalRecognitionError disables capture until the user resumes or restarts.
type FatalRecognitionError struct{ Code string }

func (e *FatalRecognitionError) Error() string {
	return "speech recognition disabled: " + e.Code
}

// ClassifyRecognitionError maps a browser SpeechRecognition error code to the
// error taxonomy. Codes that are neither transient nor fatal come back as a
// plain error.
func ClassifyRecognitionError(code string) error {
	switch code {
	case "no-speech", "aborted":
		return &TransientRecognitionError{Code: code}
	case "not-allowed", "service-not-allowed":
		return &FatalRecognitionError{Code: code}
	default:
		return fmt.Errorf("speech recognition error: %s", code)
	}
}

// retryHinter is implemented by backend errors that carry a vendor back-off hint.
type retryHinter interface {
	RetryHint() time.Duration
}

func retryHint(err error) time.Duration {
	var h retryHinter
	if errors.As(err, &h) {
		return h.RetryHint()
	}
	return 0
}
