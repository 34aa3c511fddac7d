package routes

import (
	"github.com/gin-gonic/gin"

	"courseledger/internal/interfaces/http/handlers"
	"courseledger/internal/interfaces/http/middleware"
)

// LicenseRouteConfig holds dependencies for license routes.
type LicenseRouteConfig struct {
	LicenseHandler *handlers.LicenseHandler
	AuthMiddleware *middleware.AuthMiddleware
	MutationLimit  gin.HandlerFunc
}

// SetupLicenseRoutes configures license status, purchase and renewal routes.
func SetupLicenseRoutes(v1 *gin.RouterGroup, cfg *LicenseRouteConfig) {
	licenses := v1.Group("/licenses")
	licenses.Use(cfg.AuthMiddleware.RequireAuth())
	{
		licenses.GET("/:resource_id", cfg.LicenseHandler.GetStatus)
		licenses.POST("/:resource_id/purchase", cfg.MutationLimit, cfg.LicenseHandler.Purchase)
		licenses.POST("/:resource_id/renew", cfg.MutationLimit, cfg.LicenseHandler.Renew)
	}
}

// CourseRouteConfig holds dependencies for course progress routes.
type CourseRouteConfig struct {
	CourseHandler  *handlers.CourseHandler
	AuthMiddleware *middleware.AuthMiddleware
	MutationLimit  gin.HandlerFunc
}

func SetupCourseRoutes(v1 *gin.RouterGroup, cfg *CourseRouteConfig) {
	courses := v1.Group("/courses")
	courses.Use(cfg.AuthMiddleware.RequireAuth())
	{
		courses.GET("/:resource_id/progress", cfg.CourseHandler.GetProgress)
		courses.GET("/:resource_id/next-section", cfg.CourseHandler.GetNextSection)
		courses.GET("/:resource_id/analytics", cfg.CourseHandler.GetAnalytics)
		courses.POST("/:resource_id/sections/:section_id/start", cfg.MutationLimit, cfg.CourseHandler.StartSection)
		courses.POST("/:resource_id/sections/:section_id/complete", cfg.MutationLimit, cfg.CourseHandler.CompleteSection)
	}
}

// CertificateRouteConfig holds dependencies for credential routes.
type CertificateRouteConfig struct {
	CertificateHandler *handlers.CertificateHandler
	AuthMiddleware     *middleware.AuthMiddleware
	MutationLimit      gin.HandlerFunc
}

func SetupCertificateRoutes(v1 *gin.RouterGroup, cfg *CertificateRouteConfig) {
	certificates := v1.Group("/certificates")
	certificates.Use(cfg.AuthMiddleware.RequireAuth())
	{
		certificates.GET("", cfg.CertificateHandler.GetCredential)
		certificates.POST("", cfg.MutationLimit, cfg.CertificateHandler.AddToCredential)
		certificates.GET("/eligibility/:resource_id", cfg.CertificateHandler.GetEligibility)
	}
}
