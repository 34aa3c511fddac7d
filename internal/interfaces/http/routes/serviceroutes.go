package routes

import (
	"github.com/gin-gonic/gin"

	"courseledger/internal/interfaces/http/handlers"
	"courseledger/internal/interfaces/http/middleware"
)

// ServiceRouteConfig holds dependencies for content, pricing and operation
// routes.
type ServiceRouteConfig struct {
	ContentHandler   *handlers.ContentHandler
	PricingHandler   *handlers.PricingHandler
	OperationHandler *handlers.OperationHandler
	AuthMiddleware   *middleware.AuthMiddleware
	MutationLimit    gin.HandlerFunc
}

func SetupServiceRoutes(v1 *gin.RouterGroup, cfg *ServiceRouteConfig) {
	protected := v1.Group("")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		protected.GET("/content/:content_id/token", cfg.ContentHandler.GetToken)
		protected.GET("/pricing/:resource_id", cfg.PricingHandler.GetQuote)
		protected.POST("/operations/:handle/reconcile", cfg.MutationLimit, cfg.OperationHandler.Reconcile)
	}
}
