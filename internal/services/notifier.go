package services

import (
	"context"

	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

// AccessLinkNotifier delivers a guest access link to the patient. Delivery
// itself (email, SMS) belongs to the surrounding application.
type AccessLinkNotifier interface {
	SendAccessLink(ctx context.Context, session *models.VideoSession, link string) error
}

// LogNotifier records deliveries in the log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) SendAccessLink(ctx context.Context, session *models.VideoSession, link string) error {
	log.Info().
		Str("module", "notifier").
		Str("session_id", session.ID.String()).
		Str("patient_id", session.PatientID.String()).
		Time("link_expires_at", session.LinkExpiresAt).
		Msg("access link ready for delivery")
	return nil
}
