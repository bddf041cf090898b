package models

import (
	"time"

	"github.com/google/uuid"
)

type VideoSessionState string

const (
	VideoSessionStateScheduled VideoSessionState = "scheduled"
	VideoSessionStateActive    VideoSessionState = "active"
	VideoSessionStateFinished  VideoSessionState = "finished"
	VideoSessionStateCancelled VideoSessionState = "cancelled"
)

// LinkTTL is how long a guest link stays valid after the planned end.
const LinkTTL = 24 * time.Hour

// IsTerminal reports whether no transition leaves the state.
func (s VideoSessionState) IsTerminal() bool {
	return s == VideoSessionStateFinished || s == VideoSessionStateCancelled
}

// SessionWindow is the scheduled time slot of a consultation.
type SessionWindow struct {
	Start    time.Time
	Duration time.Duration
}

func (w SessionWindow) End() time.Time {
	return w.Start.Add(w.Duration)
}

// LinkExpiry is end-time + 24h.
func (w SessionWindow) LinkExpiry() time.Time {
	return w.End().Add(LinkTTL)
}

type VideoSession struct {
	ID          uuid.UUID `db:"id"`
	PatientID   uuid.UUID `db:"patient_id"`
	ClinicianID uuid.UUID `db:"clinician_id"`

	StartAt                time.Time `db:"start_at"`
	EndAt                  time.Time `db:"end_at"`
	PlannedDurationMinutes int       `db:"planned_duration_minutes"`

	State VideoSessionState `db:"state"`

	RoomID         string    `db:"room_id"`
	AccessCodeHash string    `db:"access_code_hash"`
	LinkToken      *string   `db:"link_token"`
	PIN            string    `db:"pin"`
	LinkExpiresAt  time.Time `db:"link_expires_at"`

	Reason                string `db:"reason"`
	ActualDurationSeconds *int   `db:"actual_duration_seconds"`

	CreatedAt time.Time  `db:"created_at"`
	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Date is the calendar day of the consultation in the start time's location.
func (s *VideoSession) Date() time.Time {
	y, m, d := s.StartAt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.StartAt.Location())
}

func (s *VideoSession) LinkExpired(now time.Time) bool {
	return now.After(s.LinkExpiresAt)
}

// IsParty reports whether the user is the patient or the clinician of the session.
func (s *VideoSession) IsParty(userID uuid.UUID) bool {
	return s.PatientID == userID || s.ClinicianID == userID
}
