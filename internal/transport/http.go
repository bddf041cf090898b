package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
)

// HTTPTransport talks to the relay's REST signaling routes.
type HTTPTransport struct {
	room   Room
	client *http.Client
}

// NewHTTPTransport returns an HTTP transport. A nil client gets a 10s
// timeout client.
func NewHTTPTransport(room Room, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{room: room, client: client}
}

func (t *HTTPTransport) Name() string { return "http" }

// Join enters the room. It is only offered over HTTP.
func (t *HTTPTransport) Join(ctx context.Context) (*dtos.JoinRoomResponse, error) {
	u, err := t.room.endpoint("join")
	if err != nil {
		return nil, err
	}
	var out dtos.JoinRoomResponse
	if err := t.do(ctx, http.MethodPost, u.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *HTTPTransport) Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error) {
	u, err := t.room.endpoint("signals")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("since", strconv.FormatInt(since, 10))
	// Cache-defeating nonce
	q.Set("_", uuid.NewString())
	u.RawQuery = q.Encode()

	var out dtos.PollResponse
	if err := t.do(ctx, http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

func (t *HTTPTransport) Post(ctx context.Context, payload json.RawMessage) (int64, error) {
	u, err := t.room.endpoint("signals")
	if err != nil {
		return 0, err
	}
	var out dtos.PostResponse
	if err := t.do(ctx, http.MethodPost, u.String(), payload, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	t.room.Credentials.apply(req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errs.ErrTransientTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e dtos.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return relayError(resp.StatusCode, e.Code, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", errs.ErrTransientTransport, err)
	}
	return nil
}
