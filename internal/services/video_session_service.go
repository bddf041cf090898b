package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/repositories"
	"github.com/preetsinghmakkar/TeleConsult/internal/utils"
	"github.com/rs/zerolog/log"
)

const maxCredentialAttempts = 16

// CreatedSession is returned once at creation; the access code is not
// recoverable afterwards.
type CreatedSession struct {
	Session    *models.VideoSession
	AccessCode string
	AccessLink string
}

// VideoSessionService owns the room state machine, credential issuance and
// link expiry.
type VideoSessionService struct {
	sessions VideoSessionStore
	creds    CredentialSource
	notifier AccessLinkNotifier
	closer   RoomCloser
	baseURL  string
	now      func() time.Time
}

func NewVideoSessionService(
	sessions VideoSessionStore,
	creds CredentialSource,
	notifier AccessLinkNotifier,
	closer RoomCloser,
	baseURL string,
) *VideoSessionService {
	if creds == nil {
		creds = RandomCredentials{}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &VideoSessionService{
		sessions: sessions,
		creds:    creds,
		notifier: notifier,
		closer:   closer,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// Create schedules a consultation with fresh room credentials.
func (s *VideoSessionService) Create(
	ctx context.Context,
	patientID uuid.UUID,
	clinicianID uuid.UUID,
	window models.SessionWindow,
	reason string,
) (*CreatedSession, error) {
	if patientID == uuid.Nil || clinicianID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and clinician are required", errs.ErrInvalidRequest)
	}
	if window.Start.IsZero() || window.Duration < time.Minute {
		return nil, fmt.Errorf("%w: invalid session window", errs.ErrInvalidRequest)
	}

	accessCode := s.creds.AccessCode()
	hash, err := utils.HashAccessCode(accessCode)
	if err != nil {
		return nil, fmt.Errorf("hash access code: %w", err)
	}

	for attempt := 1; attempt <= maxCredentialAttempts; attempt++ {
		roomID, token, pin := s.creds.RoomID(), s.creds.LinkToken(), s.creds.PIN()
		if !ValidPIN(pin) {
			return nil, fmt.Errorf("credential source produced malformed pin")
		}

		inUse, err := s.sessions.CredentialsInUse(ctx, roomID, token, pin, s.now())
		if err != nil {
			return nil, fmt.Errorf("check credentials: %w", err)
		}
		if inUse {
			log.Debug().Str("module", "lifecycle").Int("attempt", attempt).Msg("credential collision, retrying")
			continue
		}

		session := &models.VideoSession{
			ID:                     uuid.New(),
			PatientID:              patientID,
			ClinicianID:            clinicianID,
			StartAt:                window.Start,
			EndAt:                  window.End(),
			PlannedDurationMinutes: int(window.Duration / time.Minute),
			State:                  models.VideoSessionStateScheduled,
			RoomID:                 roomID,
			AccessCodeHash:         hash,
			LinkToken:              &token,
			PIN:                    pin,
			LinkExpiresAt:          window.LinkExpiry(),
			Reason:                 reason,
		}

		err = s.sessions.Create(ctx, session)
		if errors.Is(err, repositories.ErrCredentialCollision) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}

		link := s.AccessLink(session)
		if err := s.notifier.SendAccessLink(ctx, session, link); err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Str("session_id", session.ID.String()).Msg("access link delivery failed")
		}

		log.Info().
			Str("module", "lifecycle").
			Str("session_id", session.ID.String()).
			Str("room", session.RoomID).
			Time("link_expires_at", session.LinkExpiresAt).
			Msg("session scheduled")

		return &CreatedSession{Session: session, AccessCode: accessCode, AccessLink: link}, nil
	}

	return nil, fmt.Errorf("could not issue unique room credentials after %d attempts", maxCredentialAttempts)
}

// AccessLink is the guest URL of a session; the PIN travels separately.
func (s *VideoSessionService) AccessLink(session *models.VideoSession) string {
	if session.LinkToken == nil {
		return ""
	}
	return s.baseURL + "/consult/" + url.PathEscape(*session.LinkToken)
}

func (s *VideoSessionService) Get(ctx context.Context, id uuid.UUID) (*models.VideoSession, error) {
	return s.sessions.GetByID(ctx, id)
}

// Activate moves a scheduled session to active. Calling it again, or on a
// session that is no longer scheduled, leaves the state as it is.
func (s *VideoSessionService) Activate(ctx context.Context, id uuid.UUID) (*models.VideoSession, error) {
	changed, err := s.sessions.MarkActive(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("module", "lifecycle").Str("session_id", id.String()).Msg("session active")
	}
	return session, nil
}

// Finish ends a scheduled or active session. A nil actual duration is
// derived from the activation time.
func (s *VideoSessionService) Finish(ctx context.Context, id uuid.UUID, actual *time.Duration) (*models.VideoSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	duration := 0
	switch {
	case actual != nil:
		duration = int(actual.Seconds())
	case session.StartedAt != nil:
		duration = int(now.Sub(*session.StartedAt).Seconds())
	}

	changed, err := s.sessions.Finish(ctx, id, now, duration)
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	if !changed {
		current, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot finish a %s session", errs.ErrInvalidTransition, current.State)
	}

	s.closeRoom(session.RoomID)
	log.Info().Str("module", "lifecycle").Str("session_id", id.String()).Int("duration_seconds", duration).Msg("session finished")
	return s.sessions.GetByID(ctx, id)
}

// Cancel is only allowed from scheduled; otherwise the state is untouched.
func (s *VideoSessionService) Cancel(ctx context.Context, id uuid.UUID) (*models.VideoSession, error) {
	changed, err := s.sessions.Cancel(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: cannot cancel a %s session", errs.ErrInvalidTransition, session.State)
	}

	s.closeRoom(session.RoomID)
	log.Info().Str("module", "lifecycle").Str("session_id", id.String()).Msg("session cancelled")
	return session, nil
}

// SweepExpiredLinks clears the link token of every session whose link
// expired before now. Session state is not touched.
func (s *VideoSessionService) SweepExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.sessions.ClearExpiredLinks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired links: %w", err)
	}
	log.Info().Str("module", "lifecycle").Int64("cleared", n).Msg("expired links swept")
	return n, nil
}

// VerifyAccessCode checks the reserved per-session access code.
func (s *VideoSessionService) VerifyAccessCode(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return utils.CheckAccessCode(session.AccessCodeHash, code), nil
}

func (s *VideoSessionService) closeRoom(roomID string) {
	if s.closer != nil {
		s.closer.CloseRoom(roomID)
	}
}
