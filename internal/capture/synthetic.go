package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
)

const (
	videoFrameInterval = time.Second / 30
	audioFrameInterval = 20 * time.Millisecond
)

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticProbe produces generated VP8 and Opus tracks in place of real
// devices. The flags simulate missing or blocked hardware.
type SyntheticProbe struct {
	NoCamera         bool
	NoMicrophone     bool
	PermissionDenied bool
	// StrictConstraints rejects any request carrying precise constraints.
	StrictConstraints bool
}

func (p SyntheticProbe) Open(ctx context.Context, c Constraints) (*Capture, error) {
	switch {
	case p.PermissionDenied && (c.Audio || c.Video):
		return nil, fmt.Errorf("synthetic probe: %w", errs.ErrMediaPermissionDenied)
	case p.StrictConstraints && (c.Width > 0 || c.Height > 0 || c.FrameRate > 0):
		return nil, fmt.Errorf("synthetic probe: constraints %dx%d@%.0f: %w", c.Width, c.Height, c.FrameRate, errs.ErrUnsupportedPlatform)
	case c.Video && p.NoCamera:
		return nil, fmt.Errorf("synthetic probe: camera: %w", errs.ErrMediaDeviceNotFound)
	case c.Audio && p.NoMicrophone:
		return nil, fmt.Errorf("synthetic probe: microphone: %w", errs.ErrMediaDeviceNotFound)
	}

	stream := "teleconsult-" + uuid.NewString()
	var tracks []webrtc.TrackLocal
	var writers []func(context.Context)

	if c.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}, "audio", stream)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		tracks = append(tracks, audio)
		writers = append(writers, sampleWriter(audio, opusSilence, audioFrameInterval))
	}
	if c.Video {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", stream)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, video)
		writers = append(writers, sampleWriter(video, make([]byte, 160), videoFrameInterval))
	}

	genCtx, cancel := context.WithCancel(context.Background())
	for _, w := range writers {
		go w(genCtx)
	}
	return NewCapture(tracks, cancel), nil
}

// sampleWriter emits the same frame at a fixed interval. Writes before the
// track is bound to a sender are dropped by pion, as are write errors of a
// closing connection.
func sampleWriter(track *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = track.WriteSample(media.Sample{Data: frame, Duration: interval})
			}
		}
	}
}
