package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/rs/zerolog/log"
)

func writeError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Str("module", "handlers").Str("path", c.FullPath()).Err(err).Msg("request failed")
	}
	c.JSON(status, dtos.NewErrorResponse(err))
}

// toSessionResponse renders a session. Guest credentials are only included
// when withCredentials is set.
func toSessionResponse(s *models.VideoSession, accessLink string, withCredentials bool) dtos.VideoSessionResponse {
	resp := dtos.VideoSessionResponse{
		ID:                    s.ID,
		PatientID:             s.PatientID,
		ClinicianID:           s.ClinicianID,
		Date:                  s.Date().Format("2006-01-02"),
		StartAt:               s.StartAt,
		EndAt:                 s.EndAt,
		PlannedDuration:       s.PlannedDurationMinutes,
		State:                 string(s.State),
		RoomID:                s.RoomID,
		LinkExpiresAt:         s.LinkExpiresAt,
		Reason:                s.Reason,
		ActualDurationSeconds: s.ActualDurationSeconds,
		StartedAt:             s.StartedAt,
		EndedAt:               s.EndedAt,
		CreatedAt:             s.CreatedAt,
	}
	if withCredentials {
		if s.LinkToken != nil {
			resp.LinkToken = *s.LinkToken
		}
		resp.PIN = s.PIN
		resp.AccessLink = accessLink
	}
	return resp
}
