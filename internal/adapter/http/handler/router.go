package handler

import (
	"github.com/Ni8crawler18/Phloem/internal/adapter/http/middleware"
	redisStore "github.com/Ni8crawler18/Phloem/internal/adapter/storage/redis"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	RegistrySvc    ports.RegistryService
	DeliverySvc    ports.DeliveryService
	TokenSvc       ports.TokenService
	AuditSvc       ports.AuditService              // nil = audit logging disabled
	RateLimitStore *redisStore.RateLimitStore      // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	webhookHandler := NewWebhookHandler(deps.RegistrySvc, deps.DeliverySvc, deps.AuditSvc)

	webhooks := v1.Group("/webhooks", jwtAuth)
	{
		webhooks.POST("", rl("webhooks_create"), webhookHandler.Create)
		webhooks.GET("", rl("webhooks_read"), webhookHandler.List)
		webhooks.GET("/:id", rl("webhooks_read"), webhookHandler.Get)
		webhooks.PATCH("/:id", rl("webhooks_create"), webhookHandler.Update)
		webhooks.DELETE("/:id", rl("webhooks_create"), webhookHandler.Delete)
		webhooks.POST("/:id/rotate-secret", rl("webhooks_create"), webhookHandler.RotateSecret)
		webhooks.POST("/:id/test", rl("webhooks_test"), webhookHandler.SendTest)
		webhooks.GET("/:id/deliveries", rl("webhooks_read"), webhookHandler.ListDeliveries)
	}

	return r
}
