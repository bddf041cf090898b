package middlewares

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	"github.com/preetsinghmakkar/TeleConsult/internal/utils"
	"github.com/rs/zerolog/log"
)

// PinHeader carries a guest PIN. The pin query parameter is accepted for
// clients that cannot set headers, such as browser WebSockets.
const PinHeader = "X-Room-Pin"

// RoomAccess holds the admission resolved for a room request.
type RoomAccess struct {
	Admission *services.Admission
	// Reauthorize repeats the same credential check against the current
	// room state. Long-lived connections call it per frame.
	Reauthorize func(ctx context.Context) (*services.Admission, error)
}

type roomAccessKey struct{}

// RoomAccessMiddleware admits a request to the room named by the :room path
// parameter. An authenticated caller presents a bearer token (header or
// access_token query parameter); a guest presents the link token or room id
// in the path plus the PIN. The check has no side effects; entering the room
// is a separate call.
func RoomAccessMiddleware(access *services.AccessService, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		if room == "" {
			abortWithError(c, errs.ErrInvalidPin)
			return
		}

		check, err := roomCredential(c, access, jwtSecret, room)
		if err != nil {
			abortWithError(c, err)
			return
		}

		adm, err := check(c.Request.Context())
		if err != nil {
			if errs.IsTerminal(err) {
				log.Info().Str("module", "room_access").Str("code", errs.Code(err)).Msg("room access rejected")
			} else {
				log.Error().Str("module", "room_access").Err(err).Msg("room access check failed")
			}
			abortWithError(c, err)
			return
		}

		ctx := context.WithValue(c.Request.Context(), roomAccessKey{}, &RoomAccess{
			Admission:   adm,
			Reauthorize: check,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func roomCredential(c *gin.Context, access *services.AccessService, jwtSecret, room string) (func(context.Context) (*services.Admission, error), error) {
	token := bearerToken(c.Request)
	if token == "" {
		token = c.Query("access_token")
	}
	if token != "" {
		claims, err := utils.ParseAccessToken(token, jwtSecret)
		if err != nil {
			return nil, errs.ErrUnauthenticated
		}
		user := claims.User()
		return func(ctx context.Context) (*services.Admission, error) {
			return access.AuthorizeUser(ctx, user, room)
		}, nil
	}

	pin := c.GetHeader(PinHeader)
	if pin == "" {
		pin = c.Query("pin")
	}
	if pin == "" {
		return nil, errs.ErrInvalidPin
	}
	return func(ctx context.Context) (*services.Admission, error) {
		return access.AuthorizeGuest(ctx, room, pin)
	}, nil
}

// GetRoomAccess retrieves the admission stored by RoomAccessMiddleware.
func GetRoomAccess(c *gin.Context) (*RoomAccess, error) {
	ra, ok := c.Request.Context().Value(roomAccessKey{}).(*RoomAccess)
	if !ok || ra == nil {
		return nil, errors.New("room access context not found")
	}
	return ra, nil
}
