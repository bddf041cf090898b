package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/handlers"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
)

// RegisterPublicEndpoints registers health checks and the room routes. Room
// routes authenticate per request with a bearer token or a guest PIN.
func RegisterPublicEndpoints(
	router *gin.Engine,
	healthHandler *handlers.HealthHandler,
	roomHandler *handlers.RoomHandler,
	webSocketHandler *handlers.WebSocketHandler,
	accessService *services.AccessService,
	jwtSecret string,
) {
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	rooms := router.Group("/api/rooms/:room")
	rooms.Use(middlewares.RoomAccessMiddleware(accessService, jwtSecret))

	rooms.POST("/join", roomHandler.Join)
	rooms.GET("/signals", roomHandler.Poll)
	rooms.POST("/signals", roomHandler.Post)

	// Same relay over a WebSocket; credentials are re-checked per frame
	rooms.GET("/ws", webSocketHandler.HandleWebSocket)
}
