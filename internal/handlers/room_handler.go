package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	"github.com/rs/zerolog/log"
)

// RoomHandler serves room entry and the HTTP signaling relay. Every route is
// behind RoomAccessMiddleware.
type RoomHandler struct {
	access       *services.AccessService
	signaling    *services.SignalingService
	pollInterval time.Duration
	iceServers   []string
}

func NewRoomHandler(
	access *services.AccessService,
	signaling *services.SignalingService,
	pollInterval time.Duration,
	iceServers []string,
) *RoomHandler {
	return &RoomHandler{
		access:       access,
		signaling:    signaling,
		pollInterval: pollInterval,
		iceServers:   iceServers,
	}
}

// Join handles POST /api/rooms/:room/join. First entry activates the session.
func (h *RoomHandler) Join(c *gin.Context) {
	ra, err := middlewares.GetRoomAccess(c)
	if err != nil {
		writeError(c, err)
		return
	}

	adm, err := h.access.Enter(c.Request.Context(), ra.Admission)
	if err != nil {
		writeError(c, err)
		return
	}

	log.Info().
		Str("module", "rooms").
		Str("room", adm.Session.RoomID).
		Str("role", string(adm.Role)).
		Bool("guest", adm.Guest).
		Msg("participant joined")

	iceServers := h.iceServers
	if iceServers == nil {
		iceServers = []string{}
	}
	c.JSON(http.StatusOK, dtos.JoinRoomResponse{
		Success:        true,
		RoomID:         adm.Session.RoomID,
		Role:           string(adm.Role),
		State:          string(adm.Session.State),
		StartAt:        adm.Session.StartAt,
		EndAt:          adm.Session.EndAt,
		PollIntervalMS: h.pollInterval.Milliseconds(),
		ICEServers:     iceServers,
	})
}

// Poll handles GET /api/rooms/:room/signals?since=<id>
func (h *RoomHandler) Poll(c *gin.Context) {
	ra, err := middlewares.GetRoomAccess(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var since int64
	if v := c.Query("since"); v != "" {
		since, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, fmt.Errorf("%w: since must be an integer", errs.ErrInvalidRequest))
			return
		}
	}

	messages, err := services.Collect(h.signaling.Poll(c.Request.Context(), ra.Admission.Session.RoomID, since))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.PollResponse{Success: true, Signals: envelopes(messages)})
}

// Post handles POST /api/rooms/:room/signals. The body is the payload.
func (h *RoomHandler) Post(c *gin.Context) {
	ra, err := middlewares.GetRoomAccess(c)
	if err != nil {
		writeError(c, err)
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", errs.ErrSignalParse, err))
		return
	}

	msg, err := h.signaling.Post(c.Request.Context(), ra.Admission, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dtos.PostResponse{Success: true, ID: msg.ID})
}

func envelopes(messages []models.SignalMessage) []dtos.SignalEnvelope {
	out := make([]dtos.SignalEnvelope, 0, len(messages))
	for _, m := range messages {
		out = append(out, dtos.SignalEnvelope{ID: m.ID, From: string(m.SenderRole), Data: m.Payload})
	}
	return out
}
