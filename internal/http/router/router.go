package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	orderHandler *handlers.OrderHandler,
	disputeHandler *handlers.DisputeHandler,
	paymentHandler *handlers.PaymentHandler,
	webhookHandler *handlers.WebhookHandler,
	trustHandler *handlers.TrustHandler,
	reviewHandler *handlers.ReviewHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// Callback платёжного шлюза: без авторизации, подпись проверяется
	// внутри, rate limit закрывает от перебора.
	webhookRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)
	api.POST("/webhooks/payment", webhookRateLimit, webhookHandler.HandlePaymentWebhook)

	api.GET("/ws", wsHandler.Handle)

	// Публичные маршруты
	api.GET("/users/:id/trust", middleware.UUIDValidator("id"), trustHandler.GetScore)
	api.GET("/users/:id/trust/events", middleware.UUIDValidator("id"), trustHandler.ListEvents)
	api.GET("/users/:id/reviews", middleware.UUIDValidator("id"), reviewHandler.ListUserReviews)
	api.GET("/users/:id/rating", middleware.UUIDValidator("id"), reviewHandler.GetUserRating)
	api.GET("/orders/:id/reviews", middleware.UUIDValidator("id"), reviewHandler.ListOrderReviews)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/orders", orderHandler.CreateOrder)
		protected.GET("/orders", orderHandler.ListMyOrders)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), orderHandler.GetOrder)
		protected.POST("/orders/:id/deliver", middleware.UUIDValidator("id"), orderHandler.Deliver)
		protected.POST("/orders/:id/approve", middleware.UUIDValidator("id"), orderHandler.Approve)
		protected.PATCH("/orders/:id/revision", middleware.UUIDValidator("id"), orderHandler.RequestRevision)
		protected.POST("/orders/:id/cancel", middleware.UUIDValidator("id"), orderHandler.Cancel)
		protected.POST("/orders/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.RaiseDispute)
		protected.GET("/orders/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.GetOrderDispute)

		protected.GET("/orders/:id/payment", middleware.UUIDValidator("id"), paymentHandler.GetPaymentIntent)
		protected.GET("/orders/:id/escrow", middleware.UUIDValidator("id"), paymentHandler.GetEscrow)

		protected.GET("/disputes", disputeHandler.ListMyDisputes)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.GetDispute)

		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread", notificationHandler.CountUnread)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
	}

	// Арбитраж и модерация
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokenManager), middleware.AdminOnly())
	{
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.ResolveDispute)
		admin.POST("/users/:id/verify", middleware.UUIDValidator("id"), trustHandler.VerifyIdentity)
	}

	return r
}
