package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
)

// SessionHandler serves the staff-facing lifecycle API.
type SessionHandler struct {
	lifecycle *services.VideoSessionService
}

func NewSessionHandler(lifecycle *services.VideoSessionService) *SessionHandler {
	return &SessionHandler{lifecycle: lifecycle}
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	user, ok := middlewares.GetUser(c)
	if !ok {
		writeError(c, errs.ErrUnauthenticated)
		return
	}
	if !user.IsStaff() {
		writeError(c, errs.ErrAccessDenied)
		return
	}

	var req dtos.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err))
		return
	}

	clinicianID := user.ID
	switch {
	case req.ClinicianID != nil && user.Role == models.UserRoleAdmin:
		clinicianID = *req.ClinicianID
	case req.ClinicianID != nil && *req.ClinicianID != user.ID:
		writeError(c, errs.ErrAccessDenied)
		return
	case req.ClinicianID == nil && user.Role == models.UserRoleAdmin:
		writeError(c, fmt.Errorf("%w: clinician_id is required", errs.ErrInvalidRequest))
		return
	}

	window := models.SessionWindow{
		Start:    req.StartAt,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
	}
	created, err := h.lifecycle.Create(c.Request.Context(), req.PatientID, clinicianID, window, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dtos.CreateSessionResponse{
		VideoSessionResponse: toSessionResponse(created.Session, created.AccessLink, true),
		AccessCode:           created.AccessCode,
	})
}

// Get handles GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	user, session, ok := h.load(c)
	if !ok {
		return
	}
	if user.Role != models.UserRoleAdmin && !session.IsParty(user.ID) {
		writeError(c, errs.ErrAccessDenied)
		return
	}
	withCredentials := user.Role == models.UserRoleAdmin || (user.IsStaff() && session.ClinicianID == user.ID)
	c.JSON(http.StatusOK, toSessionResponse(session, h.lifecycle.AccessLink(session), withCredentials))
}

// Activate handles POST /api/sessions/:id/activate
func (h *SessionHandler) Activate(c *gin.Context) {
	_, session, ok := h.loadManaged(c)
	if !ok {
		return
	}
	updated, err := h.lifecycle.Activate(c.Request.Context(), session.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(updated, h.lifecycle.AccessLink(updated), true))
}

// Finish handles POST /api/sessions/:id/finish. The body is optional.
func (h *SessionHandler) Finish(c *gin.Context) {
	_, session, ok := h.loadManaged(c)
	if !ok {
		return
	}

	var req dtos.FinishSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err))
			return
		}
	}
	var actual *time.Duration
	if req.ActualDurationSeconds != nil {
		d := time.Duration(*req.ActualDurationSeconds) * time.Second
		actual = &d
	}

	updated, err := h.lifecycle.Finish(c.Request.Context(), session.ID, actual)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(updated, "", false))
}

// Cancel handles POST /api/sessions/:id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	_, session, ok := h.loadManaged(c)
	if !ok {
		return
	}
	updated, err := h.lifecycle.Cancel(c.Request.Context(), session.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(updated, "", false))
}

// Sweep handles POST /api/maintenance/sweep (admin only).
func (h *SessionHandler) Sweep(c *gin.Context) {
	user, ok := middlewares.GetUser(c)
	if !ok {
		writeError(c, errs.ErrUnauthenticated)
		return
	}
	if user.Role != models.UserRoleAdmin {
		writeError(c, errs.ErrAccessDenied)
		return
	}
	n, err := h.lifecycle.SweepExpiredLinks(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.SweepResponse{Success: true, Cleared: n})
}

func (h *SessionHandler) load(c *gin.Context) (models.User, *models.VideoSession, bool) {
	user, ok := middlewares.GetUser(c)
	if !ok {
		writeError(c, errs.ErrUnauthenticated)
		return user, nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: invalid session id", errs.ErrInvalidRequest))
		return user, nil, false
	}
	session, err := h.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return user, nil, false
	}
	return user, session, true
}

// loadManaged loads a session the caller may change: admins any, clinicians
// their own.
func (h *SessionHandler) loadManaged(c *gin.Context) (models.User, *models.VideoSession, bool) {
	user, session, ok := h.load(c)
	if !ok {
		return user, nil, false
	}
	if user.Role != models.UserRoleAdmin && !(user.Role == models.UserRoleClinician && session.ClinicianID == user.ID) {
		writeError(c, errs.ErrAccessDenied)
		return user, nil, false
	}
	return user, session, true
}
