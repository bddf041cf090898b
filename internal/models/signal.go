package models

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
	SignalTypeUserLeft     SignalType = "user-left"
)

// SignalMessage is one stored entry of a room's signaling log.
type SignalMessage struct {
	ID         int64           `db:"id"`
	RoomID     string          `db:"room_id"`
	SenderRole PeerRole        `db:"sender_role"`
	Payload    json.RawMessage `db:"payload"`
	CreatedAt  time.Time       `db:"created_at"`
}

// SignalPayload is the tagged union carried in SignalMessage.Payload.
type SignalPayload struct {
	Type        SignalType    `json:"type" validate:"required,oneof=offer answer ice-candidate user-left"`
	SDP         string        `json:"sdp,omitempty"`
	Candidate   *ICECandidate `json:"candidate,omitempty"`
	Negotiation string        `json:"negotiation,omitempty" validate:"omitempty,max=64"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit JSON shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromInit(c webrtc.ICECandidateInit) *ICECandidate {
	return &ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c *ICECandidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Signal is a decoded log entry as seen by a client.
type Signal struct {
	ID      int64
	From    PeerRole
	Payload SignalPayload
}
