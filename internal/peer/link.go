package peer

import "github.com/pion/webrtc/v4"

// ChatLabel is the label of the text chat data channel.
const ChatLabel = "chat"

// Link is the peer connection as the controller drives it.
type Link interface {
	AddTrack(track webrtc.TrackLocal) error
	// AddReceiveOnly adds a transceiver that only receives kind.
	AddReceiveOnly(kind webrtc.RTPCodecType) error

	// CreateOffer creates an offer, sets it as the local description and
	// returns it. iceRestart regenerates ICE credentials.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer answers the current remote offer and sets it locally.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	SignalingState() webrtc.SignalingState
	HasRemoteDescription() bool

	CreateDataChannel(label string) (DataChannel, error)
	Close() error
}

// DataChannel is a text message channel between the participants.
type DataChannel interface {
	Label() string
	SendText(text string) error
	Close() error
}

// LinkEvents receives the asynchronous notifications of a Link. Callbacks
// may run on any goroutine.
type LinkEvents struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnICEState     func(webrtc.ICEConnectionState)
	OnTrack        func(kind webrtc.RTPCodecType)
	// OnDataChannel reports a chat channel opened by the remote side.
	OnDataChannel func(DataChannel)
	OnChannelOpen func(DataChannel)
	OnChatMessage func(text string)
}

// LinkFactory builds a fresh Link wired to events.
type LinkFactory func(events LinkEvents) (Link, error)
