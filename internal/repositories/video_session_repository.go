package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
)

// ErrCredentialCollision is returned by Create when the room id or link
// token hits a unique constraint.
var ErrCredentialCollision = errors.New("room credential collision")

const uniqueViolation = "23505"

const sessionColumns = `
		id,
		patient_id,
		clinician_id,
		start_at,
		end_at,
		planned_duration_minutes,
		state,
		room_id,
		access_code_hash,
		link_token,
		pin,
		link_expires_at,
		reason,
		actual_duration_seconds,
		created_at,
		started_at,
		ended_at,
		updated_at`

type VideoSessionRepository struct {
	db *sql.DB
}

func NewVideoSessionRepository(db *sql.DB) *VideoSessionRepository {
	return &VideoSessionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.VideoSession, error) {
	var session models.VideoSession
	err := row.Scan(
		&session.ID,
		&session.PatientID,
		&session.ClinicianID,
		&session.StartAt,
		&session.EndAt,
		&session.PlannedDurationMinutes,
		&session.State,
		&session.RoomID,
		&session.AccessCodeHash,
		&session.LinkToken,
		&session.PIN,
		&session.LinkExpiresAt,
		&session.Reason,
		&session.ActualDurationSeconds,
		&session.CreatedAt,
		&session.StartedAt,
		&session.EndedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Create a new video session
func (r *VideoSessionRepository) Create(ctx context.Context, session *models.VideoSession) error {
	const query = `
	INSERT INTO video_sessions (
		id,
		patient_id,
		clinician_id,
		start_at,
		end_at,
		planned_duration_minutes,
		state,
		room_id,
		access_code_hash,
		link_token,
		pin,
		link_expires_at,
		reason,
		created_at,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		session.ID,
		session.PatientID,
		session.ClinicianID,
		session.StartAt,
		session.EndAt,
		session.PlannedDurationMinutes,
		session.State,
		session.RoomID,
		session.AccessCodeHash,
		session.LinkToken,
		session.PIN,
		session.LinkExpiresAt,
		session.Reason,
	).Scan(&session.CreatedAt, &session.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrCredentialCollision
	}
	return err
}

// Get session by ID
func (r *VideoSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoSession, error) {
	query := `SELECT` + sessionColumns + `
	FROM video_sessions
	WHERE id = $1
	LIMIT 1`

	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

// Get session by room identifier
func (r *VideoSessionRepository) GetByRoomID(ctx context.Context, roomID string) (*models.VideoSession, error) {
	query := `SELECT` + sessionColumns + `
	FROM video_sessions
	WHERE room_id = $1
	LIMIT 1`

	return scanSession(r.db.QueryRowContext(ctx, query, roomID))
}

// FindByTokenOrRoomID resolves a guest possession factor, which may be
// either a live link token or the room identifier.
func (r *VideoSessionRepository) FindByTokenOrRoomID(ctx context.Context, tokenOrRoomID string) (*models.VideoSession, error) {
	query := `SELECT` + sessionColumns + `
	FROM video_sessions
	WHERE link_token = $1 OR room_id = $1
	LIMIT 1`

	return scanSession(r.db.QueryRowContext(ctx, query, tokenOrRoomID))
}

// CredentialsInUse reports whether a candidate room id or link token is taken,
// or the PIN is held by another session whose link is still live.
func (r *VideoSessionRepository) CredentialsInUse(ctx context.Context, roomID, linkToken, pin string, now time.Time) (bool, error) {
	const query = `
	SELECT EXISTS (
		SELECT 1 FROM video_sessions
		WHERE room_id = $1
		   OR link_token = $2
		   OR (pin = $3 AND link_token IS NOT NULL AND link_expires_at > $4)
	)
	`

	var inUse bool
	err := r.db.QueryRowContext(ctx, query, roomID, linkToken, pin, now).Scan(&inUse)
	return inUse, err
}

// MarkActive moves a scheduled session to active. It reports false when the
// session was no longer scheduled.
func (r *VideoSessionRepository) MarkActive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	const query = `
	UPDATE video_sessions
	SET
		started_at = $1,
		state = $2,
		updated_at = NOW()
	WHERE id = $3 AND state = $4
	`

	res, err := r.db.ExecContext(ctx, query, now, models.VideoSessionStateActive, id, models.VideoSessionStateScheduled)
	return affected(res, err)
}

// Finish ends a scheduled or active session and records its duration.
func (r *VideoSessionRepository) Finish(ctx context.Context, id uuid.UUID, now time.Time, durationSeconds int) (bool, error) {
	const query = `
	UPDATE video_sessions
	SET
		ended_at = $1,
		actual_duration_seconds = $2,
		state = $3,
		updated_at = NOW()
	WHERE id = $4 AND state IN ($5, $6)
	`

	res, err := r.db.ExecContext(ctx, query,
		now,
		durationSeconds,
		models.VideoSessionStateFinished,
		id,
		models.VideoSessionStateScheduled,
		models.VideoSessionStateActive,
	)
	return affected(res, err)
}

// Cancel moves a scheduled session to cancelled.
func (r *VideoSessionRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	const query = `
	UPDATE video_sessions
	SET
		ended_at = $1,
		state = $2,
		updated_at = NOW()
	WHERE id = $3 AND state = $4
	`

	res, err := r.db.ExecContext(ctx, query, now, models.VideoSessionStateCancelled, id, models.VideoSessionStateScheduled)
	return affected(res, err)
}

// ClearExpiredLinks nulls the link token of every session whose link expired.
func (r *VideoSessionRepository) ClearExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	const query = `
	UPDATE video_sessions
	SET link_token = NULL, updated_at = NOW()
	WHERE link_token IS NOT NULL AND link_expires_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
