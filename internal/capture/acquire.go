package capture

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Probe opens local devices. It returns the tracks satisfying c, or an error
// wrapping one of the errs media sentinels.
type Probe interface {
	Open(ctx context.Context, c Constraints) (*Capture, error)
}

// Capture is the outcome of a successful tier. A receive-only capture has
// no tracks.
type Capture struct {
	Tier   Tier
	Tracks []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

// NewCapture wraps tracks opened by a probe. stop, if non-nil, releases the
// devices and runs once.
func NewCapture(tracks []webrtc.TrackLocal, stop func()) *Capture {
	return &Capture{Tracks: tracks, stop: stop}
}

// HasVideo reports whether a live local preview exists.
func (c *Capture) HasVideo() bool {
	for _, t := range c.Tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

func (c *Capture) ReceiveOnly() bool {
	return len(c.Tracks) == 0
}

// Close releases the underlying devices.
func (c *Capture) Close() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			c.stop()
		}
	})
}

type Options struct {
	// ForceReceiveOnly skips every device tier.
	ForceReceiveOnly bool
}

// Result is the resolved capture and the failures that led to it.
type Result struct {
	Capture  *Capture
	Failures []Failure
}

// Acquire walks the tiers in order and stops at the first success. It only
// fails when ctx is done; exhausting the device tiers resolves to a
// receive-only capture.
func Acquire(ctx context.Context, probe Probe, opts Options) (Result, error) {
	var res Result

	tier := TierTuned
	if opts.ForceReceiveOnly || probe == nil {
		tier = TierReceiveOnly
	}

	for tier < TierReceiveOnly {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		c, err := probe.Open(ctx, tier.Constraints())
		if err == nil {
			c.Tier = tier
			res.Capture = c
			log.Info().Str("module", "capture").Stringer("tier", tier).Int("tracks", len(c.Tracks)).Msg("media acquired")
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		kind := Classify(err)
		res.Failures = append(res.Failures, Failure{Tier: tier, Kind: kind, Err: err})
		log.Warn().Str("module", "capture").Stringer("tier", tier).Str("kind", string(kind)).Err(err).Msg("media tier failed")
		tier = kind.next(tier)
	}

	res.Capture = &Capture{Tier: TierReceiveOnly}
	log.Info().Str("module", "capture").Bool("forced", opts.ForceReceiveOnly).Msg("continuing receive-only")
	return res, nil
}
