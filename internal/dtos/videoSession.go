package dtos

import (
	"time"

	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
)

// Create session request
type CreateSessionRequest struct {
	PatientID       uuid.UUID  `json:"patient_id" binding:"required"`
	ClinicianID     *uuid.UUID `json:"clinician_id"`
	StartAt         time.Time  `json:"start_at" binding:"required"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=5,max=480"`
	Reason          string     `json:"reason" binding:"max=500"`
}

// Finish session request
type FinishSessionRequest struct {
	ActualDurationSeconds *int `json:"actual_duration_seconds" binding:"omitempty,min=0"`
}

// Video session response. Credentials are only filled for staff callers.
type VideoSessionResponse struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	ClinicianID           uuid.UUID  `json:"clinician_id"`
	Date                  string     `json:"date"`
	StartAt               time.Time  `json:"start_at"`
	EndAt                 time.Time  `json:"end_at"`
	PlannedDuration       int        `json:"planned_duration_minutes"`
	State                 string     `json:"state"`
	RoomID                string     `json:"room_id"`
	LinkToken             string     `json:"link_token,omitempty"`
	PIN                   string     `json:"pin,omitempty"`
	AccessLink            string     `json:"access_link,omitempty"`
	LinkExpiresAt         time.Time  `json:"link_expires_at"`
	Reason                string     `json:"reason,omitempty"`
	ActualDurationSeconds *int       `json:"actual_duration_seconds,omitempty"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Created session response carries the one-time access code.
type CreateSessionResponse struct {
	VideoSessionResponse
	AccessCode string `json:"access_code"`
}

// Room entry response
type JoinRoomResponse struct {
	Success        bool      `json:"success"`
	RoomID         string    `json:"room_id"`
	Role           string    `json:"role"` // "initiator" or "responder"
	State          string    `json:"state"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	PollIntervalMS int64     `json:"poll_interval_ms"`
	ICEServers     []string  `json:"ice_servers"`
}

// Sweep response
type SweepResponse struct {
	Success bool  `json:"success"`
	Cleared int64 `json:"cleared"`
}

// Error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// NewErrorResponse renders err with its stable code. Unknown errors are
// reported as internal without detail.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Success: false, Error: errs.Message(err), Code: errs.Code(err)}
}
