package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/preetsinghmakkar/TeleConsult/internal/models"
)

// SignalRepository stores the append-only per-room signaling log.
type SignalRepository struct {
	db *sql.DB
}

func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Append stores a message. The id comes from the sequence, never the caller.
// Appends to one room hold a transaction-scoped advisory lock on the room, so
// they commit in id order and a reader that has seen id n never misses a
// smaller id committed later.
func (r *SignalRepository) Append(ctx context.Context, roomID string, sender models.PeerRole, payload json.RawMessage) (*models.SignalMessage, error) {
	const lock = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const query = `
	INSERT INTO signal_messages (room_id, sender_role, payload, created_at)
	VALUES ($1, $2, $3, NOW())
	RETURNING id, created_at
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lock, roomID); err != nil {
		return nil, fmt.Errorf("lock room log: %w", err)
	}

	msg := &models.SignalMessage{
		RoomID:     roomID,
		SenderRole: sender,
		Payload:    payload,
	}
	if err := tx.QueryRowContext(ctx, query, roomID, sender, []byte(payload)).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// ListSince lazily yields up to limit messages of the room with id > sinceID in
// ascending order. Every iteration runs a fresh query, so the sequence can be
// restarted.
func (r *SignalRepository) ListSince(ctx context.Context, roomID string, sinceID int64, limit int) iter.Seq2[models.SignalMessage, error] {
	const query = `
	SELECT id, room_id, sender_role, payload, created_at
	FROM signal_messages
	WHERE room_id = $1 AND id > $2
	ORDER BY id ASC
	LIMIT $3
	`

	return func(yield func(models.SignalMessage, error) bool) {
		rows, err := r.db.QueryContext(ctx, query, roomID, sinceID, limit)
		if err != nil {
			yield(models.SignalMessage{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var msg models.SignalMessage
			var payload []byte
			if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderRole, &payload, &msg.CreatedAt); err != nil {
				yield(models.SignalMessage{}, err)
				return
			}
			msg.Payload = json.RawMessage(payload)
			if !yield(msg, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.SignalMessage{}, err)
		}
	}
}
