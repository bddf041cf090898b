package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/dtos"
	"github.com/preetsinghmakkar/TeleConsult/internal/errs"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
	"github.com/preetsinghmakkar/TeleConsult/internal/utils"
	"github.com/rs/zerolog/log"
)

const userContextKey = "user"

// AuthMiddleware requires a valid bearer access token and stores the caller
// in the gin context.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			abortWithError(c, errs.ErrUnauthenticated)
			return
		}

		claims, err := utils.ParseAccessToken(token, jwtSecret)
		if err != nil {
			log.Debug().Str("module", "auth").Err(err).Msg("access token rejected")
			abortWithError(c, errs.ErrUnauthenticated)
			return
		}

		c.Set(userContextKey, claims.User())
		c.Next()
	}
}

// GetUser returns the caller stored by AuthMiddleware.
func GetUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errs.HTTPStatus(err), dtos.NewErrorResponse(err))
}
