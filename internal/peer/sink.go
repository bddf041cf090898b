package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/preetsinghmakkar/TeleConsult/internal/capture"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

// RenderSink presents the call to the user. Exactly one of LocalPreview and
// NoCamera is called once media is resolved.
type RenderSink interface {
	LocalPreview(c *capture.Capture)
	NoCamera(failures []capture.Failure)
	Status(state State, detail string)
	RemoteTrack(kind webrtc.RTPCodecType)
	ChatMessage(from models.PeerRole, text string)
	Terminated(reason string)
}

// LogSink renders to the structured log.
type LogSink struct{}

func (LogSink) LocalPreview(c *capture.Capture) {
	log.Info().Str("module", "peer").Stringer("tier", c.Tier).Msg("local preview live")
}

func (LogSink) NoCamera(failures []capture.Failure) {
	ev := log.Info().Str("module", "peer").Int("failures", len(failures))
	if n := len(failures); n > 0 {
		ev = ev.Str("hint", failures[n-1].Remediation())
	}
	ev.Msg("no camera")
}

func (LogSink) Status(state State, detail string) {
	log.Info().Str("module", "peer").Str("state", string(state)).Str("detail", detail).Msg("call status")
}

func (LogSink) RemoteTrack(kind webrtc.RTPCodecType) {
	log.Info().Str("module", "peer").Str("kind", kind.String()).Msg("remote media")
}

func (LogSink) ChatMessage(from models.PeerRole, text string) {
	log.Info().Str("module", "chat").Str("from", string(from)).Msg(text)
}

func (LogSink) Terminated(reason string) {
	log.Info().Str("module", "peer").Str("reason", reason).Msg("call ended")
}
