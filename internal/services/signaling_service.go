package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

// SignalingService relays opaque negotiation messages through the per-room log.
type SignalingService struct {
	signals    SignalStore
	batchLimit int
}

func NewSignalingService(signals SignalStore, batchLimit int) *SignalingService {
	if batchLimit <= 0 {
		batchLimit = 200
	}
	return &SignalingService{
		signals:    signals,
		batchLimit: batchLimit,
	}
}

// DecodePayload parses and shape-checks a raw payload.
func (s *SignalingService) DecodePayload(raw json.RawMessage) (models.SignalPayload, error) {
	return models.DecodeSignalPayload(raw)
}

// Post appends a payload to the admitted room's log, stamped with the
// poster's role.
func (s *SignalingService) Post(ctx context.Context, adm *Admission, raw json.RawMessage) (*models.SignalMessage, error) {
	if adm == nil || adm.Session == nil || adm.Session.RoomID == "" {
		return nil, fmt.Errorf("%w: room id is required", errs.ErrSignalParse)
	}
	if err := checkState(adm.Session); err != nil {
		return nil, err
	}

	payload, err := s.DecodePayload(raw)
	if err != nil {
		return nil, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSignalParse, err)
	}

	msg, err := s.signals.Append(ctx, adm.Session.RoomID, adm.Role, compact.Bytes())
	if err != nil {
		return nil, fmt.Errorf("append signal: %w", err)
	}

	log.Debug().
		Str("module", "signaling").
		Str("room", msg.RoomID).
		Int64("id", msg.ID).
		Str("type", string(payload.Type)).
		Str("from", string(adm.Role)).
		Msg("signal appended")
	return msg, nil
}

// Poll returns the messages of the room with id > sinceID in ascending order.
// The sequence is lazy and re-queries the log each time it is ranged over.
func (s *SignalingService) Poll(ctx context.Context, roomID string, sinceID int64) iter.Seq2[models.SignalMessage, error] {
	if sinceID < 0 {
		sinceID = 0
	}
	return s.signals.ListSince(ctx, roomID, sinceID, s.batchLimit)
}

// Collect drains a poll sequence.
func Collect(seq iter.Seq2[models.SignalMessage, error]) ([]models.SignalMessage, error) {
	var out []models.SignalMessage
	for msg, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
