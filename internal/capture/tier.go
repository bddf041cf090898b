// Package capture acquires local media for a call through an ordered list of
// fallback tiers, from tuned audio and video down to receive-only.
package capture

import "fmt"

// Tier is one step of the acquisition fallback order.
type Tier int

const (
	TierTuned Tier = iota + 1
	TierDefault
	TierAudioOnly
	TierReceiveOnly
)

func (t Tier) String() string {
	switch t {
	case TierTuned:
		return "audio+video (tuned)"
	case TierDefault:
		return "audio+video (default)"
	case TierAudioOnly:
		return "audio only"
	case TierReceiveOnly:
		return "receive only"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Constraints is what a tier asks the capture device for. Zero values leave
// the choice to the device.
type Constraints struct {
	Audio bool
	Video bool

	Width            int
	Height           int
	FrameRate        float64
	EchoCancellation bool
	SampleRate       int
}

// Constraints returns the device request of the tier. TierReceiveOnly asks
// for nothing.
func (t Tier) Constraints() Constraints {
	switch t {
	case TierTuned:
		return Constraints{
			Audio:            true,
			Video:            true,
			Width:            1280,
			Height:           720,
			FrameRate:        30,
			EchoCancellation: true,
			SampleRate:       48000,
		}
	case TierDefault:
		return Constraints{Audio: true, Video: true}
	case TierAudioOnly:
		return Constraints{Audio: true}
	default:
		return Constraints{}
	}
}
