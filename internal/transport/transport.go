// Package transport carries signaling requests from a client to the relay.
//
// Two implementations exist, a WebSocket request/response channel and plain
// HTTP, behind one Transport interface. Resilient selects between them with
// a sticky fallback policy so callers never branch on which one is active.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
)

// Transport is a room-bound signaling channel.
type Transport interface {
	// Name identifies the implementation in logs.
	Name() string

	// Poll returns the room's messages with id > since, ascending.
	Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error)

	// Post appends payload to the room log and returns the assigned id.
	Post(ctx context.Context, payload json.RawMessage) (int64, error)

	Close() error
}

// Credentials admit a client to a room. Exactly one of BearerToken and PIN
// is used; the token wins when both are set.
type Credentials struct {
	BearerToken string
	PIN         string
}

func (c Credentials) apply(h http.Header) {
	switch {
	case c.BearerToken != "":
		h.Set("Authorization", "Bearer "+c.BearerToken)
	case c.PIN != "":
		h.Set("X-Room-Pin", c.PIN)
	}
}

func (c Credentials) query(q url.Values) {
	switch {
	case c.BearerToken != "":
		q.Set("access_token", c.BearerToken)
	case c.PIN != "":
		q.Set("pin", c.PIN)
	}
}

// Room addresses one room on a relay. ID is a room id, or for guests the
// link token.
type Room struct {
	BaseURL     string
	ID          string
	Credentials Credentials
}

func (r Room) endpoint(suffix string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(r.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	u = u.JoinPath("api", "rooms", r.ID, suffix)
	return u, nil
}

// relayError turns a failed relay reply into the matching sentinel. Unknown
// server-side failures are transient; unknown client-side ones are not.
func relayError(status int, code, message string) error {
	if err := errs.FromCode(code); err != nil {
		return err
	}
	if code == "internal" || status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: relay returned %d %s", errs.ErrTransientTransport, status, message)
	}
	return fmt.Errorf("relay returned %d: %s", status, message)
}

// IsTransient reports whether a retry, or a transport switch, may help.
func IsTransient(err error) bool {
	return errors.Is(err, errs.ErrTransientTransport) || errors.Is(err, context.DeadlineExceeded)
}
