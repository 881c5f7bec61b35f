// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storywork/storywork-api/internal/admin"
	"github.com/storywork/storywork-api/internal/ai"
	"github.com/storywork/storywork-api/internal/auth"
	"github.com/storywork/storywork-api/internal/billing"
	"github.com/storywork/storywork-api/internal/config"
	"github.com/storywork/storywork-api/internal/core"
	"github.com/storywork/storywork-api/internal/credit"
	"github.com/storywork/storywork-api/internal/health"
	"github.com/storywork/storywork-api/internal/middleware"
	"github.com/storywork/storywork-api/internal/server"
	"github.com/storywork/storywork-api/internal/story"
	"github.com/storywork/storywork-api/internal/user"
)

const (
	drainDelay = 5 * time.Second

	lockPrefix        = "storywork:"
	linkAttempts      = 5
	linkAttemptsBurst = 5
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	verifier, err := auth.NewVerifier(ctx, cfg.Identity)
	if err != nil {
		return err
	}
	logger.Info("token verifier initialized",
		"jwks_url", cfg.Identity.JWKSURL,
		"issuer", cfg.Identity.Issuer,
	)

	portal := credit.NewPortalClient(cfg.Portal)
	if cfg.Portal.URL == "" {
		logger.Warn("ASM Portal not configured, linked spends fall back to local credits")
	}

	creditSvc := credit.NewService(credit.ServiceConfig{
		Repo:    credit.NewRepository(db.DB),
		Agents:  credit.NewAgentDirectory(db.DB),
		Unified: credit.NewUnifiedStore(db.DB),
		Remote:  portal,
		Logger:  logger,
	})
	creditHandler := credit.NewHandler(creditSvc)

	userSvc := user.NewService(user.NewRepository(db.DB), logger)
	userHandler := user.NewHandler(userSvc, creditSvc)

	gateway := ai.NewGateway(cfg.AI, logger)
	if !gateway.Configured() {
		logger.Warn("no AI provider configured, generation endpoints will fail")
	}

	storySvc := story.NewService(story.ServiceConfig{
		Repo:      story.NewRepository(db.DB),
		Ledger:    creditSvc,
		Generator: gateway,
		Locker:    core.NewLocker(redis.Client, lockPrefix),
		Cost:      cfg.Generation.Cost,
		LockTTL:   cfg.Generation.LockTTL,
		Logger:    logger,
	})
	storyHandler := story.NewHandler(storySvc)

	billingSvc := billing.NewService(billing.ServiceConfig{
		Gateway: billing.NewStripeGateway(
			cfg.Stripe.SecretKey,
			cfg.Stripe.WebhookSecret,
			logger,
		),
		Users:        userSvc,
		Ledger:       creditSvc,
		Events:       billing.NewEventRepository(db.DB),
		Catalog:      billing.NewCatalog(cfg.Stripe),
		CostPerStory: cfg.Generation.Cost,
		AppURL:       cfg.Stripe.AppURL,
		Logger:       logger,
	})
	billingHandler := billing.NewHandler(billingSvc, logger)

	healthHandler := health.NewHandler(
		health.Dependency{Name: "database", Checker: db},
		health.Dependency{Name: "redis", Checker: redis},
		health.Dependency{Name: "asm_portal", Checker: portal, Optional: true},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Ledger:     admin.NewRepository(db.DB),
		Integrations: admin.Integrations{
			Portal:  cfg.Portal.URL != "",
			AI:      gateway.Configured(),
			Billing: cfg.Stripe.SecretKey != "",
		},
		Logger: logger,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recoverer(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	if !cfg.IsProduction() && cfg.Identity.PrivateKeyPath != "" {
		signer, signerErr := auth.NewSigner(cfg.Identity)
		if signerErr != nil {
			logger.Warn("development signer unavailable", "error", signerErr)
		} else {
			router.Get("/.well-known/jwks.json", signer.GetJWKSHandler())
			logger.Info("serving development JWKS", "key_id", signer.KeyID())
		}
	}

	verify := middleware.Authenticator(verifier)
	resolve := middleware.ResolveAccount(userSvc)
	authenticator := func(next http.Handler) http.Handler {
		return verify(resolve(next))
	}
	adminOnly := middleware.RequireAdmin

	generationLimiter := middleware.TieredRateLimiter(
		redis.Client,
		middleware.GenerationTiers,
	)
	linkLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit:    middleware.PerHour(linkAttempts, linkAttemptsBurst),
		KeyFunc:  middleware.KeyByUserAndEndpoint,
		FailOpen: true,
	}).Handler

	router.Route("/v1", func(r chi.Router) {
		creditHandler.RegisterRoutes(r, authenticator, linkLimiter)
		creditHandler.RegisterAdminRoutes(r, authenticator, adminOnly)

		userHandler.RegisterRoutes(r, authenticator)
		userHandler.RegisterAdminRoutes(r, authenticator, adminOnly)

		storyHandler.RegisterRoutes(r, authenticator, generationLimiter)

		billingHandler.RegisterRoutes(r, authenticator)
		billingHandler.RegisterWebhookRoutes(r)

		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
