package dtos

import "encoding/json"

// SignalEnvelope is one entry of a poll response. Data is the tagged payload.
type SignalEnvelope struct {
	ID   int64           `json:"id"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

type PollResponse struct {
	Success bool             `json:"success"`
	Signals []SignalEnvelope `json:"signals"`
}

type PostResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}
