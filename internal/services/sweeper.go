package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// LinkSweeper runs SweepExpiredLinks on a fixed interval.
type LinkSweeper struct {
	lifecycle *VideoSessionService
	interval  time.Duration
}

func NewLinkSweeper(lifecycle *VideoSessionService, interval time.Duration) *LinkSweeper {
	return &LinkSweeper{lifecycle: lifecycle, interval: interval}
}

// Run blocks until ctx is cancelled. A non-positive interval disables it.
func (w *LinkSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		log.Info().Str("module", "sweeper").Msg("link sweeper disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := w.lifecycle.SweepExpiredLinks(ctx, now); err != nil {
				log.Error().Err(err).Str("module", "sweeper").Msg("sweep failed")
			}
		}
	}
}
