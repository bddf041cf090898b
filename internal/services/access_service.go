package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

// Admission is the outcome of a successful access check.
type Admission struct {
	Session *models.VideoSession
	Role    models.PeerRole
	Guest   bool
	User    *models.User
}

// AccessService admits authenticated users and PIN-holding guests to rooms.
type AccessService struct {
	sessions VideoSessionStore
	now      func() time.Time
}

func NewAccessService(sessions VideoSessionStore) *AccessService {
	return &AccessService{sessions: sessions, now: time.Now}
}

// AuthorizeUser checks an authenticated caller against a room without
// side effects. Admins may enter any room, everyone else only rooms they are
// party to.
func (s *AccessService) AuthorizeUser(ctx context.Context, user models.User, roomID string) (*Admission, error) {
	session, err := s.sessions.GetByRoomID(ctx, roomID)
	if errors.Is(err, errs.ErrSessionNotFound) {
		return nil, errs.ErrAccessDenied
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}

	switch user.Role {
	case models.UserRoleAdmin:
	case models.UserRoleClinician:
		if session.ClinicianID != user.ID && session.PatientID != user.ID {
			return nil, errs.ErrAccessDenied
		}
	case models.UserRolePatient:
		if session.PatientID != user.ID {
			return nil, errs.ErrAccessDenied
		}
	default:
		return nil, errs.ErrAccessDenied
	}

	if err := checkState(session); err != nil {
		return nil, err
	}

	// Only the session's clinician offers. Anyone else observing joins as
	// a responder so a room never holds two initiators.
	role := models.PeerRoleResponder
	if session.ClinicianID == user.ID {
		role = models.PeerRoleInitiator
	}
	return &Admission{Session: session, Role: role, User: &user}, nil
}

// AuthorizeGuest checks a possession factor (link token or room id) and a
// PIN without side effects. Credential failures are indistinguishable.
func (s *AccessService) AuthorizeGuest(ctx context.Context, tokenOrRoomID, pin string) (*Admission, error) {
	if tokenOrRoomID == "" || pin == "" {
		return nil, errs.ErrInvalidPin
	}

	session, err := s.sessions.FindByTokenOrRoomID(ctx, tokenOrRoomID)
	if errors.Is(err, errs.ErrSessionNotFound) {
		return nil, errs.ErrInvalidPin
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(session.PIN), []byte(pin)) != 1 {
		log.Info().Str("module", "access").Str("room", session.RoomID).Msg("guest credential mismatch")
		return nil, errs.ErrInvalidPin
	}
	if session.LinkExpired(s.now()) {
		return nil, errs.ErrLinkExpired
	}
	if err := checkState(session); err != nil {
		return nil, err
	}

	return &Admission{Session: session, Role: models.PeerRoleResponder, Guest: true}, nil
}

// ValidateAuthenticatedAccess authorizes a user and enters the room.
func (s *AccessService) ValidateAuthenticatedAccess(ctx context.Context, user models.User, roomID string) (*Admission, error) {
	adm, err := s.AuthorizeUser(ctx, user, roomID)
	if err != nil {
		return nil, err
	}
	return s.Enter(ctx, adm)
}

// ValidateGuestAccess authorizes a guest and enters the room.
func (s *AccessService) ValidateGuestAccess(ctx context.Context, tokenOrRoomID, pin string) (*Admission, error) {
	adm, err := s.AuthorizeGuest(ctx, tokenOrRoomID, pin)
	if err != nil {
		return nil, err
	}
	return s.Enter(ctx, adm)
}

// Enter performs the guarded scheduled -> active transition on first entry.
// The reloaded session is re-checked so a concurrent cancel still wins.
func (s *AccessService) Enter(ctx context.Context, adm *Admission) (*Admission, error) {
	if adm.Session.State != models.VideoSessionStateScheduled {
		return adm, nil
	}

	changed, err := s.sessions.MarkActive(ctx, adm.Session.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	session, err := s.sessions.GetByID(ctx, adm.Session.ID)
	if err != nil {
		return nil, err
	}
	if err := checkState(session); err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("module", "access").Str("room", session.RoomID).Str("role", string(adm.Role)).Msg("first entry activated session")
	}

	next := *adm
	next.Session = session
	return &next, nil
}

func checkState(session *models.VideoSession) error {
	switch session.State {
	case models.VideoSessionStateCancelled:
		return errs.ErrSessionCancelled
	case models.VideoSessionStateFinished:
		return errs.ErrSessionFinished
	}
	return nil
}
