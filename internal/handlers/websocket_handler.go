package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	ws "github.com/preetsinghmakkar/TeleConsult/internal/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	frameWait  = 5 * time.Second
)

// WebSocketHandler serves the signaling relay over a WebSocket. It is the
// same request/response relay as the HTTP routes: each frame is answered
// from the room log, nothing is pushed.
type WebSocketHandler struct {
	signaling      *services.SignalingService
	hub            *ws.Hub
	maxMessageSize int64
	upgrader       websocket.Upgrader
}

func NewWebSocketHandler(
	signaling *services.SignalingService,
	hub *ws.Hub,
	maxMessageSize int64,
	allowedOrigins []string,
) *WebSocketHandler {
	return &WebSocketHandler{
		signaling:      signaling,
		hub:            hub,
		maxMessageSize: maxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// HandleWebSocket handles GET /api/rooms/:room/ws
// MUST be behind RoomAccessMiddleware
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	ra, err := middlewares.GetRoomAccess(c)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "ws").Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(ra.Admission.Session.RoomID, ra.Admission.Role, conn)
	h.hub.AddClient(client)

	log.Info().
		Str("module", "ws").
		Str("room", client.RoomID).
		Str("role", string(client.Role)).
		Str("client", client.ID.String()).
		Msg("signaling socket opened")

	go h.readPump(client, ra)
	go h.writePump(client)
}

// readPump answers request frames until the socket closes
func (h *WebSocketHandler) readPump(client *ws.Client, ra *middlewares.RoomAccess) {
	defer func() {
		h.hub.RemoveClient(client)
		client.Close()
		log.Info().Str("module", "ws").Str("room", client.RoomID).Str("client", client.ID.String()).Msg("signaling socket closed")
	}()

	if h.maxMessageSize > 0 {
		client.Conn.SetReadLimit(h.maxMessageSize)
	}
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req ws.Request
		err := client.Conn.ReadJSON(&req)
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(client, failure(req.ID, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "ws").Err(err).Msg("unexpected close")
			}
			return
		}

		if !h.reply(client, h.dispatch(ra, req)) {
			return
		}
	}
}

func (h *WebSocketHandler) reply(client *ws.Client, resp ws.Response) bool {
	err := client.Enqueue(resp)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ws.ErrSendBufferFull):
		log.Warn().Str("module", "ws").Str("client", client.ID.String()).Int64("frame", resp.ID).Msg("dropping reply, send buffer full")
		return true
	default:
		return false
	}
}

// dispatch re-checks room access and serves one frame.
func (h *WebSocketHandler) dispatch(ra *middlewares.RoomAccess, req ws.Request) ws.Response {
	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()

	adm, err := ra.Reauthorize(ctx)
	if err != nil {
		return failure(req.ID, err)
	}

	switch req.Op {
	case ws.OpPing:
		return ws.Response{ID: req.ID, Success: true}

	case ws.OpPoll:
		msgs, err := services.Collect(h.signaling.Poll(ctx, adm.Session.RoomID, req.Since))
		if err != nil {
			return failure(req.ID, err)
		}
		return ws.Response{ID: req.ID, Success: true, Signals: envelopes(msgs)}

	case ws.OpPost:
		msg, err := h.signaling.Post(ctx, adm, req.Data)
		if err != nil {
			return failure(req.ID, err)
		}
		return ws.Response{ID: req.ID, Success: true, SignalID: msg.ID}

	default:
		return failure(req.ID, fmt.Errorf("%w: unknown op %q", errs.ErrInvalidRequest, req.Op))
	}
}

func failure(id int64, err error) ws.Response {
	if errs.HTTPStatus(err) >= http.StatusInternalServerError {
		log.Error().Str("module", "ws").Int64("frame", id).Err(err).Msg("frame failed")
	}
	return ws.Response{ID: id, Success: false, Message: errs.Message(err), Code: errs.Code(err)}
}

// writePump writes replies and keepalive pings to the WebSocket
func (h *WebSocketHandler) writePump(client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case resp := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteJSON(resp); err != nil {
				log.Debug().Str("module", "ws").Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
