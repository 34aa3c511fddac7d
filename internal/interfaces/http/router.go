// Package http exposes the engine over a gin JSON API.
package http

import (
	"github.com/gin-gonic/gin"

	"courseledger/internal/infrastructure/metrics"
	"courseledger/internal/interfaces/http/handlers"
	"courseledger/internal/interfaces/http/middleware"
	"courseledger/internal/interfaces/http/routes"
	"courseledger/internal/shared/logger"
)

// Handlers groups every handler the router mounts.
type Handlers struct {
	Health      *handlers.HealthHandler
	License     *handlers.LicenseHandler
	Course      *handlers.CourseHandler
	Certificate *handlers.CertificateHandler
	Content     *handlers.ContentHandler
	Pricing     *handlers.PricingHandler
	Operation   *handlers.OperationHandler
}

// Router represents the HTTP router configuration
type Router struct {
	engine         *gin.Engine
	handlers       Handlers
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	logger         logger.Interface
}

// NewRouter builds the router. rateLimiter may be nil.
func NewRouter(h Handlers, authMiddleware *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter, log logger.Interface) *Router {
	return &Router{
		engine:         gin.New(),
		handlers:       h,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		logger:         log,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.CustomLogger(r.logger))

	r.engine.GET("/health", r.handlers.Health.Check)
	r.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.engine.Group("/v1")
	limit := r.rateLimiter.Limit()

	routes.SetupLicenseRoutes(v1, &routes.LicenseRouteConfig{
		LicenseHandler: r.handlers.License,
		AuthMiddleware: r.authMiddleware,
		MutationLimit:  limit,
	})
	routes.SetupCourseRoutes(v1, &routes.CourseRouteConfig{
		CourseHandler:  r.handlers.Course,
		AuthMiddleware: r.authMiddleware,
		MutationLimit:  limit,
	})
	routes.SetupCertificateRoutes(v1, &routes.CertificateRouteConfig{
		CertificateHandler: r.handlers.Certificate,
		AuthMiddleware:     r.authMiddleware,
		MutationLimit:      limit,
	})
	routes.SetupServiceRoutes(v1, &routes.ServiceRouteConfig{
		ContentHandler:   r.handlers.Content,
		PricingHandler:   r.handlers.Pricing,
		OperationHandler: r.handlers.Operation,
		AuthMiddleware:   r.authMiddleware,
		MutationLimit:    limit,
	})
}

// Engine returns the underlying gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
