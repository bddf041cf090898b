package services

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/repositories"
)

// VideoSessionStore is the persistence the lifecycle and access services need.
type VideoSessionStore interface {
	Create(ctx context.Context, session *models.VideoSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.VideoSession, error)
	GetByRoomID(ctx context.Context, roomID string) (*models.VideoSession, error)
	FindByTokenOrRoomID(ctx context.Context, tokenOrRoomID string) (*models.VideoSession, error)
	CredentialsInUse(ctx context.Context, roomID, linkToken, pin string, now time.Time) (bool, error)
	MarkActive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, now time.Time, durationSeconds int) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ClearExpiredLinks(ctx context.Context, now time.Time) (int64, error)
}

// SignalStore is the append-only signaling log.
type SignalStore interface {
	Append(ctx context.Context, roomID string, sender models.PeerRole, payload json.RawMessage) (*models.SignalMessage, error)
	ListSince(ctx context.Context, roomID string, sinceID int64, limit int) iter.Seq2[models.SignalMessage, error]
}

// RoomCloser drops live connections of a room once it reaches a terminal state.
type RoomCloser interface {
	CloseRoom(roomID string)
}

var (
	_ VideoSessionStore = (*repositories.VideoSessionRepository)(nil)
	_ SignalStore       = (*repositories.SignalRepository)(nil)
)
