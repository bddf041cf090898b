// Package signaling is the client side of the room signaling log: a
// cursor-driven lazy sequence over the relay and a periodic poller that
// feeds decoded messages to the peer controller.
package signaling

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

// Source is the relay call the poller relies on.
type Source interface {
	Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error)
}

// Since returns the messages after since as a lazy sequence. Nothing is
// fetched until the sequence is ranged over, and every range issues a fresh
// request, so the same since yields the same messages until new ones are
// appended.
func Since(ctx context.Context, src Source, since int64) iter.Seq2[dtos.SignalEnvelope, error] {
	return func(yield func(dtos.SignalEnvelope, error) bool) {
		batch, err := src.Poll(ctx, since)
		if err != nil {
			yield(dtos.SignalEnvelope{}, err)
			return
		}
		for _, env := range batch {
			if !yield(env, nil) {
				return
			}
		}
	}
}

// Poller reads the room log at a fixed interval and delivers the other
// participant's messages in id order. The cursor only moves forward.
type Poller struct {
	src      Source
	self     models.PeerRole
	interval time.Duration
	cursor   atomic.Int64
}

func NewPoller(src Source, self models.PeerRole, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{src: src, self: self, interval: interval}
}

// Cursor is the highest id consumed so far.
func (p *Poller) Cursor() int64 {
	return p.cursor.Load()
}

// Tick polls once. Malformed payloads are logged and skipped; the cursor
// still advances past them. Messages posted by this participant are skipped.
func (p *Poller) Tick(ctx context.Context, deliver func(models.Signal)) error {
	for env, err := range Since(ctx, p.src, p.cursor.Load()) {
		if err != nil {
			return err
		}
		if env.ID <= p.cursor.Load() {
			continue
		}
		p.cursor.Store(env.ID)

		if models.PeerRole(env.From) == p.self {
			continue
		}
		payload, err := models.DecodeSignalPayload(env.Data)
		if err != nil {
			log.Warn().Str("module", "signaling").Int64("id", env.ID).Err(err).Msg("skipping malformed signal")
			continue
		}
		deliver(models.Signal{ID: env.ID, From: models.PeerRole(env.From), Payload: payload})
	}
	return nil
}

// Run polls until ctx is cancelled or the relay reports a terminal error.
// Transient failures are retried on the next tick.
func (p *Poller) Run(ctx context.Context, deliver func(models.Signal)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		err := p.Tick(ctx, deliver)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errs.IsTerminal(err):
			return err
		default:
			log.Debug().Str("module", "signaling").Err(err).Msg("poll failed, retrying on next tick")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
