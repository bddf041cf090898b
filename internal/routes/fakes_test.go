package routes

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/repositories"
)

// memStore backs the router tests with the same conditional-update
// semantics as the SQL repositories.
type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.VideoSession
	signals  []models.SignalMessage
}

func newMemStore() *memStore {
	return &memStore{sessions: map[uuid.UUID]models.VideoSession{}}
}

func (m *memStore) find(match func(models.VideoSession) bool) (*models.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if match(s) {
			c := s
			return &c, nil
		}
	}
	return nil, errs.ErrSessionNotFound
}

func (m *memStore) Create(ctx context.Context, session *models.VideoSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RoomID == session.RoomID {
			return repositories.ErrCredentialCollision
		}
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	m.sessions[session.ID] = *session
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoSession, error) {
	return m.find(func(s models.VideoSession) bool { return s.ID == id })
}

func (m *memStore) GetByRoomID(ctx context.Context, roomID string) (*models.VideoSession, error) {
	return m.find(func(s models.VideoSession) bool { return s.RoomID == roomID })
}

func (m *memStore) FindByTokenOrRoomID(ctx context.Context, v string) (*models.VideoSession, error) {
	return m.find(func(s models.VideoSession) bool {
		return s.RoomID == v || (s.LinkToken != nil && *s.LinkToken == v)
	})
}

func (m *memStore) CredentialsInUse(ctx context.Context, roomID, token, pin string, now time.Time) (bool, error) {
	_, err := m.find(func(s models.VideoSession) bool {
		return s.RoomID == roomID || (s.LinkToken != nil && (*s.LinkToken == token || (s.PIN == pin && s.LinkExpiresAt.After(now))))
	})
	return err == nil, nil
}

func (m *memStore) update(id uuid.UUID, fn func(*models.VideoSession) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !fn(&s) {
		return false
	}
	m.sessions[id] = s
	return true
}

func (m *memStore) MarkActive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return m.update(id, func(s *models.VideoSession) bool {
		if s.State != models.VideoSessionStateScheduled {
			return false
		}
		s.State, s.StartedAt = models.VideoSessionStateActive, &now
		return true
	}), nil
}

func (m *memStore) Finish(ctx context.Context, id uuid.UUID, now time.Time, duration int) (bool, error) {
	return m.update(id, func(s *models.VideoSession) bool {
		if s.State.IsTerminal() {
			return false
		}
		s.State, s.EndedAt, s.ActualDurationSeconds = models.VideoSessionStateFinished, &now, &duration
		return true
	}), nil
}

func (m *memStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return m.update(id, func(s *models.VideoSession) bool {
		if s.State != models.VideoSessionStateScheduled {
			return false
		}
		s.State, s.EndedAt = models.VideoSessionStateCancelled, &now
		return true
	}), nil
}

func (m *memStore) ClearExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.LinkToken != nil && s.LinkExpiresAt.Before(now) {
			s.LinkToken = nil
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memStore) Append(ctx context.Context, roomID string, sender models.PeerRole, payload json.RawMessage) (*models.SignalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := models.SignalMessage{
		ID:         int64(len(m.signals) + 1),
		RoomID:     roomID,
		SenderRole: sender,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	m.signals = append(m.signals, msg)
	return &msg, nil
}

func (m *memStore) ListSince(ctx context.Context, roomID string, sinceID int64, limit int) iter.Seq2[models.SignalMessage, error] {
	return func(yield func(models.SignalMessage, error) bool) {
		m.mu.Lock()
		var batch []models.SignalMessage
		for _, msg := range m.signals {
			if msg.RoomID == roomID && msg.ID > sinceID && len(batch) < limit {
				batch = append(batch, msg)
			}
		}
		m.mu.Unlock()
		for _, msg := range batch {
			if !yield(msg, nil) {
				return
			}
		}
	}
}
