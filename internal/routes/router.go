package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/handlers"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	"github.com/rs/zerolog/log"
)

// Handlers bundles everything the router serves.
type Handlers struct {
	Health    *handlers.HealthHandler
	Sessions  *handlers.SessionHandler
	Rooms     *handlers.RoomHandler
	WebSocket *handlers.WebSocketHandler
	Access    *services.AccessService
}

// SetupRouter builds the gin engine with CORS and both route groups.
func SetupRouter(h Handlers, jwtSecret string, corsOrigins []string, development bool) *gin.Engine {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if development {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(corsOrigins)))

	RegisterPublicEndpoints(r, h.Health, h.Rooms, h.WebSocket, h.Access, jwtSecret)
	RegisterProtectedEndpoints(r, h.Sessions, jwtSecret)

	log.Info().Str("module", "routes").Strs("cors_origins", corsOrigins).Msg("router setup")
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middlewares.PinHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
