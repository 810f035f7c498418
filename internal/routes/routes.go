package routes

import (
	"trustwork_backend/internal/handlers"
	"trustwork_backend/internal/logger"
	"trustwork_backend/ws"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все HTTP и WebSocket маршруты.
// protected - цепочка авторизации и лимитов для закрытой части API.
func RegisterRoutes(
	ginRouter *gin.Engine,
	appHandlers *handlers.AppHandlers,
	wsHandler *ws.WebSocketHandler,
	protected ...gin.HandlerFunc,
) {
	api := ginRouter.Group("/api/v1")

	// публичная часть: health, метрики, вебхук процессора
	appHandlers.HealthHandler.RegisterRoutes(api)
	appHandlers.PaymentHandler.RegisterPublicRoutes(api)

	private := api.Group("")
	private.Use(protected...)
	{
		appHandlers.ApplicationHandler.RegisterRoutes(private)
		appHandlers.AssignmentHandler.RegisterRoutes(private)
		appHandlers.GigHandler.RegisterRoutes(private)
		appHandlers.PaymentHandler.RegisterRoutes(private)
		appHandlers.NotificationHandler.RegisterRoutes(private)
		appHandlers.AdminHandler.RegisterRoutes(private)
	}

	if wsHandler != nil {
		private.GET("/ws", wsHandler.ServeWS)
		logger.Info("WebSocket route /api/v1/ws registered")
	}
}
