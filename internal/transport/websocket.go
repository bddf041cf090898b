package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	ws "github.com/preetsinghmakkar/TeleConsult/internal/websocket"
	"github.com/rs/zerolog/log"
)

const defaultFrameTimeout = 10 * time.Second

// WebSocketTransport sends request frames over one lazily dialed socket.
// Requests are serialized; a broken socket is dropped and redialed on the
// next request.
type WebSocketTransport struct {
	room   Room
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

func NewWebSocketTransport(room Room, dialer *websocket.Dialer) *WebSocketTransport {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultFrameTimeout,
		}
	}
	return &WebSocketTransport{room: room, dialer: dialer}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Poll(ctx context.Context, since int64) ([]dtos.SignalEnvelope, error) {
	resp, err := t.roundTrip(ctx, ws.Request{Op: ws.OpPoll, Since: since})
	if err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

func (t *WebSocketTransport) Post(ctx context.Context, payload json.RawMessage) (int64, error) {
	resp, err := t.roundTrip(ctx, ws.Request{Op: ws.OpPost, Data: payload})
	if err != nil {
		return 0, err
	}
	return resp.SignalID, nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropLocked()
}

func (t *WebSocketTransport) dropLocked() error {
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (t *WebSocketTransport) dialLocked(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	u, err := t.room.endpoint("ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	t.room.Credentials.query(q)
	u.RawQuery = q.Encode()

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		// A rejected handshake carries the relay's error body.
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			var e dtos.ErrorResponse
			_ = json.NewDecoder(resp.Body).Decode(&e)
			return relayError(resp.StatusCode, e.Code, e.Error)
		}
		return fmt.Errorf("%w: dial: %v", errs.ErrTransientTransport, err)
	}
	t.conn = conn
	log.Debug().Str("module", "transport").Str("room", t.room.ID).Msg("websocket connected")
	return nil
}

func (t *WebSocketTransport) roundTrip(ctx context.Context, req ws.Request) (*ws.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.dialLocked(ctx); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultFrameTimeout)
	}
	t.nextID++
	req.ID = t.nextID

	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(req); err != nil {
		t.dropLocked()
		return nil, fmt.Errorf("%w: write: %v", errs.ErrTransientTransport, err)
	}

	t.conn.SetReadDeadline(deadline)
	for {
		var resp ws.Response
		if err := t.conn.ReadJSON(&resp); err != nil {
			t.dropLocked()
			if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", errs.ErrTransientTransport, ctxErr)
			}
			return nil, fmt.Errorf("%w: read: %v", errs.ErrTransientTransport, err)
		}
		// Replies to requests abandoned by an earlier timeout are skipped.
		if resp.ID != req.ID {
			continue
		}
		if !resp.Success {
			return nil, relayError(http.StatusOK, resp.Code, resp.Message)
		}
		return &resp, nil
	}
}
