package main

import (
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"marketintel/internal/config"
	"marketintel/internal/handlers"
	"marketintel/internal/middleware"
)

// setupRouter registers the API routes and their middleware
func setupRouter(cfg config.Config, h *handlers.JobsHandler, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Printf("⚠️  Invalid TRUSTED_PROXIES, trusting none: %v", err)
		_ = r.SetTrustedProxies(nil)
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Admin-Key"}
	r.Use(cors.New(corsConfig))

	r.Use(
		middleware.HTTPMethodFilter([]string{http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodHead}),
		middleware.ScannerFilter(),
		middleware.SecurityScanDetection(),
		middleware.SecurityHeaders(),
	)

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	admin := middleware.AdminKeyMiddleware(cfg.AdminKeyHash)

	jobs := r.Group("/jobs")
	{
		jobs.POST("", middleware.RateLimitMiddleware(limiter), h.CreateJob)
		jobs.GET("", h.ListJobs)
		jobs.GET("/:job_id", h.GetJob)
		jobs.GET("/:job_id/products", h.ListProducts)
		jobs.POST("/:job_id/cancel", admin, h.CancelJob)
	}

	r.GET("/trends/:marketplace", h.GetTrends)
	r.GET("/status", h.GetStatus)
	r.GET("/health", h.Health)

	r.POST("/admin/pool/restart", admin, middleware.CooldownMiddleware(cfg.RestartWait), h.RestartPool)

	return r
}
