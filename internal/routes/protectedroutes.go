package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/preetsinghmakkar/TeleConsult/internal/handlers"
	"github.com/preetsinghmakkar/TeleConsult/internal/middlewares"
)

func RegisterProtectedEndpoints(
	router *gin.Engine,
	sessionHandler *handlers.SessionHandler,
	jwtSecret string,
) {
	protected := router.Group("/api")
	protected.Use(middlewares.AuthMiddleware(jwtSecret))

	protected.POST("/sessions", sessionHandler.Create)
	protected.GET("/sessions/:id", sessionHandler.Get)
	protected.POST("/sessions/:id/activate", sessionHandler.Activate)
	protected.POST("/sessions/:id/finish", sessionHandler.Finish)
	protected.POST("/sessions/:id/cancel", sessionHandler.Cancel)

	protected.POST("/maintenance/sweep", sessionHandler.Sweep)
}
