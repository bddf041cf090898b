package services

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/repositories"
)

// memStore is an in-memory VideoSessionStore and SignalStore. Conditional
// updates are atomic under mu so concurrent tests see the same guarantees as
// the SQL statements.
type memStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*models.VideoSession
	signals     []models.SignalMessage
	nextID      int64
	activations int
	createErr   error
}

func newMemStore() *memStore {
	return &memStore{sessions: map[uuid.UUID]*models.VideoSession{}}
}

func clone(s *models.VideoSession) *models.VideoSession {
	c := *s
	if s.LinkToken != nil {
		t := *s.LinkToken
		c.LinkToken = &t
	}
	return &c
}

func (m *memStore) Create(ctx context.Context, session *models.VideoSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		err := m.createErr
		m.createErr = nil
		return err
	}
	for _, s := range m.sessions {
		if s.RoomID == session.RoomID || (s.LinkToken != nil && session.LinkToken != nil && *s.LinkToken == *session.LinkToken) {
			return repositories.ErrCredentialCollision
		}
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	m.sessions[session.ID] = clone(session)
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return clone(s), nil
	}
	return nil, errs.ErrSessionNotFound
}

func (m *memStore) GetByRoomID(ctx context.Context, roomID string) (*models.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RoomID == roomID {
			return clone(s), nil
		}
	}
	return nil, errs.ErrSessionNotFound
}

func (m *memStore) FindByTokenOrRoomID(ctx context.Context, v string) (*models.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RoomID == v || (s.LinkToken != nil && *s.LinkToken == v) {
			return clone(s), nil
		}
	}
	return nil, errs.ErrSessionNotFound
}

func (m *memStore) CredentialsInUse(ctx context.Context, roomID, token, pin string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RoomID == roomID {
			return true, nil
		}
		if s.LinkToken != nil && (*s.LinkToken == token || (s.PIN == pin && s.LinkExpiresAt.After(now))) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) transition(id uuid.UUID, to models.VideoSessionState, from ...models.VideoSessionState) (*models.VideoSession, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	for _, f := range from {
		if s.State == f {
			s.State = to
			return s, true
		}
	}
	return s, false
}

func (m *memStore) MarkActive(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.transition(id, models.VideoSessionStateActive, models.VideoSessionStateScheduled)
	if ok {
		s.StartedAt = &now
		m.activations++
	}
	return ok, nil
}

func (m *memStore) Finish(ctx context.Context, id uuid.UUID, now time.Time, duration int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.transition(id, models.VideoSessionStateFinished, models.VideoSessionStateScheduled, models.VideoSessionStateActive)
	if ok {
		s.EndedAt = &now
		s.ActualDurationSeconds = &duration
	}
	return ok, nil
}

func (m *memStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.transition(id, models.VideoSessionStateCancelled, models.VideoSessionStateScheduled)
	if ok {
		s.EndedAt = &now
	}
	return ok, nil
}

func (m *memStore) ClearExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.LinkToken != nil && s.LinkExpiresAt.Before(now) {
			s.LinkToken = nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) Append(ctx context.Context, roomID string, sender models.PeerRole, payload json.RawMessage) (*models.SignalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := models.SignalMessage{ID: m.nextID, RoomID: roomID, SenderRole: sender, Payload: payload, CreatedAt: time.Now()}
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

// fixedCredentials replays a scripted sequence of credentials.
type fixedCredentials struct {
	rooms, tokens, pins []string
	i                   int
}

func (f *fixedCredentials) next(list []string) string {
	v := list[f.i%len(list)]
	return v
}

func (f *fixedCredentials) RoomID() string    { return f.next(f.rooms) }
func (f *fixedCredentials) LinkToken() string { return f.next(f.tokens) }
func (f *fixedCredentials) PIN() string {
	v := f.next(f.pins)
	f.i++
	return v
}
func (f *fixedCredentials) AccessCode() string { return "access" }

type recordingCloser struct {
	mu    sync.Mutex
	rooms []string
}

func (r *recordingCloser) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, roomID)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) SendAccessLink(ctx context.Context, session *models.VideoSession, link string) error {
	f.calls++
	return errors.New("smtp down")
}
