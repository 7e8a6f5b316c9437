package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ni8crawler18/Phloem/config"
	httpHandler "github.com/Ni8crawler18/Phloem/internal/adapter/http/handler"
	pgStorage "github.com/Ni8crawler18/Phloem/internal/adapter/storage/postgres"
	redisStorage "github.com/Ni8crawler18/Phloem/internal/adapter/storage/redis"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/internal/metrics"
	"github.com/Ni8crawler18/Phloem/internal/service"
	"github.com/Ni8crawler18/Phloem/internal/worker"
	"github.com/Ni8crawler18/Phloem/pkg/logger"

	"github.com/robfig/cron/v3"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Phloem webhook service")

	metrics.RegisterDefault()

	ctx := context.Background()

	// Apply schema migrations before opening the pool
	if err := pgStorage.Migrate(cfg.Database, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	subRepo := pgStorage.NewSubscriptionRepo(pool)
	dlvRepo := pgStorage.NewDeliveryRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	urlVal := service.NewSafeURLValidator()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Delivery worker pool
	deliveryPool := worker.NewPool(cfg.Webhook.Workers, log)
	deliveryPool.Start()

	// Business services
	registrySvc := service.NewRegistryService(subRepo, dlvRepo, encSvc, urlVal, cfg.Webhook, log)
	deliverySvc := service.NewDeliveryService(
		subRepo,
		dlvRepo,
		encSvc,
		sigSvc,
		urlVal,
		deliveryPool,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		cfg.Webhook,
		log,
	)

	// Retry and reclaim sweeps
	sweeper := worker.NewSweeper(dlvRepo, deliverySvc, deliveryPool, cfg.Webhook, log)
	scheduler := cron.New()
	every := fmt.Sprintf("@every %s", cfg.Webhook.SweepInterval)
	if _, err := scheduler.AddFunc(every, func() { sweeper.SweepRetries(context.Background()) }); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule retry sweep")
	}
	if _, err := scheduler.AddFunc(every, func() { sweeper.ReclaimStalled(context.Background()) }); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule stalled reclaim")
	}
	scheduler.Start()

	// Initialize rate limit store
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		RegistrySvc:    registrySvc,
		DeliverySvc:    deliverySvc,
		TokenSvc:       tokenSvc,
		AuditSvc:       auditSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop sweeps first so no new deliveries are queued, then drain the
	// pool so in-flight deliveries get recorded.
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	deliveryPool.Stop()

	log.Info().Msg("Server exited")
}
