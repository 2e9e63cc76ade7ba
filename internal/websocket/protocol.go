package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType names a live-session message.
type MessageType string

const (
	// Browser -> server
	MsgStart            MessageType = "start"
	MsgPause            MessageType = "pause"
	MsgResume           MessageType = "resume"
	MsgEnd              MessageType = "end"
	MsgNewPicture       MessageType = "new_picture"
	MsgTranscript       MessageType = "transcript"
	MsgRecognitionError MessageType = "recognition_error"
	MsgRecognitionEnd   MessageType = "recognition_end"
	MsgPermission       MessageType = "permission"
	MsgPlaybackEnded    MessageType = "playback_ended"
	MsgPlaybackError    MessageType = "playback_error"

	// Server -> browser
	MsgSession MessageType = "session"
	MsgView    MessageType = "view"
	MsgMic     MessageType = "mic"
	MsgAudio   MessageType = "audio"
	MsgToast   MessageType = "toast"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TranscriptPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type PermissionPayload struct {
	Granted bool `json:"granted"`
}

type SessionPayload struct {
	ID string `json:"id"`
}

const (
	MicRequestPermission = "request_permission"
	MicStart             = "start"
	MicAbort             = "abort"

	AudioPlay = "play"
	AudioStop = "stop"
)

type MicPayload struct {
	Action string `json:"action"`
}

type AudioPayload struct {
	Action string `json:"action"`
	Src    string `json:"src,omitempty"`
}

type ToastPayload struct {
	Level             string `json:"level"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Marshal encodes payload inside an Envelope of the given type.
func Marshal(msgType MessageType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal payload for %q: %w", msgType, err)
		}
		raw = b
	}
	return sonic.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Unmarshal parses an Envelope, returning its type and raw payload.
func Unmarshal(data []byte) (MessageType, json.RawMessage, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("protocol: envelope missing type field")
	}
	return env.Type, env.Payload, nil
}

// UnmarshalPayload decodes a raw payload into T. An empty payload yields the
// zero value.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	return v, nil
}
