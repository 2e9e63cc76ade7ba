package models

import "time"

type TTSRequest struct {
	Text string `json:"text"`
}

// TTSResponse carries the synthesized audio as a data URI
// ("data:audio/mpeg;base64,...").
type TTSResponse struct {
	Audio     string    `json:"audio"`
	Timestamp time.Time `json:"timestamp"`
}
