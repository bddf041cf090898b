package peer

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// remoteSendsMedia reports whether the description announces at least one
// audio or video section the remote side sends on. A receive-only peer
// produces none, so waiting for its media is pointless.
func remoteSendsMedia(raw string) (bool, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return false, fmt.Errorf("parse sdp: %w", err)
	}

	sessionDir := direction(desc.Attributes, "sendrecv")
	for _, m := range desc.MediaDescriptions {
		switch m.MediaName.Media {
		case "audio", "video":
		default:
			continue
		}
		if m.MediaName.Port.Value == 0 {
			continue
		}
		switch direction(m.Attributes, sessionDir) {
		case "sendrecv", "sendonly":
			return true, nil
		}
	}
	return false, nil
}

func direction(attrs []sdp.Attribute, fallback string) string {
	for _, a := range attrs {
		switch a.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			return a.Key
		}
	}
	return fallback
}
