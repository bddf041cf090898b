package websocket

import (
	"encoding/json"

	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
)

// Frame operations
const (
	OpPoll = "poll"
	OpPost = "post"
	OpPing = "ping"
)

// Request is a client frame. Every request is answered by exactly one
// Response carrying the same ID.
type Request struct {
	ID    int64           `json:"id"`
	Op    string          `json:"op"`
	Since int64           `json:"since,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response is a server frame.
type Response struct {
	ID       int64                 `json:"id"`
	Success  bool                  `json:"success"`
	Signals  []dtos.SignalEnvelope `json:"signals,omitempty"`
	SignalID int64                 `json:"signal_id,omitempty"`
	Message  string                `json:"message,omitempty"`
	Code     string                `json:"code,omitempty"`
}
