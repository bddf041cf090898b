package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRequestTimeout   = 5 * time.Second
	DefaultFailureThreshold = 3
)

type ResilientOptions struct {
	// RequestTimeout bounds every request on either transport.
	RequestTimeout time.Duration
	// FailureThreshold is the number of consecutive transient failures of
	// the primary after which the fallback takes over.
	FailureThreshold int
}

// Resilient routes requests to a primary transport and switches to the
// fallback for good once the primary keeps failing. The switch is sticky:
// it is never re-evaluated.
type Resilient struct {
	primary  Transport
	fallback Transport
	opts     ResilientOptions

	mu       sync.Mutex
	active   Transport
	failures int
	switched bool
}

func NewResilient(primary, fallback Transport, opts ResilientOptions) *Resilient {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	return &Resilient{primary: primary, fallback: fallback, opts: opts, active: primary}
}

func (r *Resilient) Name() string {
	return r.current().Name()
}

// Switched reports whether the fallback is in use.
func (r *Resilient) Switched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switched
}

func (r *Resilient) Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error) {
	var out []dtos.SignalEnvelope
	err := r.call(ctx, func(ctx context.Context, t Transport) error {
		var err error
		out, err = t.Poll(ctx, since)
		return err
	})
	return out, err
}

func (r *Resilient) Post(ctx context.Context, payload json.RawMessage) (int64, error) {
	var id int64
	err := r.call(ctx, func(ctx context.Context, t Transport) error {
		var err error
		id, err = t.Post(ctx, payload)
		return err
	})
	return id, err
}

// Close closes both transports.
func (r *Resilient) Close() error {
	err := r.primary.Close()
	if r.fallback != nil {
		if ferr := r.fallback.Close(); err == nil {
			err = ferr
		}
	}
	return err
}

func (r *Resilient) current() Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Resilient) call(ctx context.Context, fn func(context.Context, Transport) error) error {
	t := r.current()
	reqCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()

	err := fn(reqCtx, t)
	// The caller giving up is not a transport failure.
	if ctx.Err() != nil {
		return err
	}
	r.record(t, err)
	return err
}

func (r *Resilient) record(t Transport, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t != r.active {
		return
	}
	if err == nil || !IsTransient(err) {
		r.failures = 0
		return
	}

	r.failures++
	if r.switched || r.fallback == nil || r.failures < r.opts.FailureThreshold {
		return
	}

	log.Warn().
		Str("module", "transport").
		Str("from", r.primary.Name()).
		Str("to", r.fallback.Name()).
		Int("failures", r.failures).
		Msg("switching to fallback transport")
	r.active = r.fallback
	r.switched = true
	r.failures = 0
	_ = r.primary.Close()
}
