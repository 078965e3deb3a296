// Package app wires configuration, storage, and handlers into the running
// router process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/config"
	"github.com/waddlebot/router/internal/httpserver"
	"github.com/waddlebot/router/internal/platform"
	"github.com/waddlebot/router/internal/seed"
	"github.com/waddlebot/router/internal/telemetry"
	"github.com/waddlebot/router/pkg/cache"
	"github.com/waddlebot/router/pkg/command"
	"github.com/waddlebot/router/pkg/community"
	"github.com/waddlebot/router/pkg/coordination"
	"github.com/waddlebot/router/pkg/entity"
	"github.com/waddlebot/router/pkg/execution"
	"github.com/waddlebot/router/pkg/notify"
	"github.com/waddlebot/router/pkg/ratelimit"
	"github.com/waddlebot/router/pkg/reputation"
	"github.com/waddlebot/router/pkg/router"
	"github.com/waddlebot/router/pkg/session"
	"github.com/waddlebot/router/pkg/stringmatch"
)

// Run starts the router in the configured mode and blocks until ctx is
// cancelled or the mode finishes.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	readPool := pool
	if cfg.DatabaseReadReplicaURL != cfg.DatabaseURL {
		readPool, err = platform.NewPostgresPool(ctx, cfg.DatabaseReadReplicaURL, cfg.DatabaseReadMaxConns)
		if err != nil {
			return fmt.Errorf("connecting to read replica: %w", err)
		}
		defer readPool.Close()
	}

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	logger.Info("migrations applied", "dir", cfg.MigrationsDir)

	communityStore := community.NewStore(pool)
	if err := communityStore.EnsureGlobal(ctx); err != nil {
		return fmt.Errorf("ensuring global community: %w", err)
	}

	switch cfg.Mode {
	case "seed":
		return seed.Run(ctx, cfg, pool, logger)
	case "api":
		// fall through to the server below
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	metricsReg := telemetry.NewMetricsRegistry()

	// Shared infrastructure.
	c := cache.New(cfg.CommandCacheTTL)
	c.StartSweeper(ctx)
	limiter := ratelimit.New()
	limiter.StartSweeper(ctx, cfg.RateLimitWindow)
	sessions := session.NewStore(rdb, cfg.SessionTTL, logger)

	// Auth.
	authStore := auth.NewStore(pool)
	usage := auth.NewUsageWriter(authStore, logger)
	usage.Start(ctx)
	defer usage.Close()
	authn := auth.NewAuthenticator(authStore, usage, logger, cfg.AccountRateWindow)

	// Domain stores.
	entityStore := entity.NewStore(pool)
	commandStore := command.NewStore(pool, readPool)
	ruleStore := stringmatch.NewStore(pool, readPool)
	coordStore := coordination.NewStore(pool, readPool, cfg.CheckinTimeout, cfg.ClaimDuration)

	// Pipeline components.
	matcher := stringmatch.NewMatcher(ruleStore, c, cfg.StringRuleCacheTTL, logger)
	engine := execution.NewEngine(logger, cfg.OpenWhiskAuthKey, cfg.RequestTimeout, cfg.MaxRetries)
	reputationClient := reputation.NewClient(cfg.ReputationAPIURL)
	resolver := community.NewResolver(communityStore, logger)
	bulkRBAC := community.NewBulk(communityStore, resolver, cfg.RBACWorkers)
	notifier := notify.NewNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	coordManager := coordination.NewManager(coordStore, notifier, logger)
	coordManager.StartSweeper(ctx, cfg.CheckinInterval)

	processor := router.NewProcessor(
		commandStore, entityStore, communityStore, sessions,
		matcher, engine, reputationClient, stringmatch.NewWebhookClient(),
		resolver, limiter, c, logger,
		router.Config{
			CommandCacheTTL:    cfg.CommandCacheTTL,
			PermissionCacheTTL: cfg.EntityCacheTTL,
			RateLimitWindow:    cfg.RateLimitWindow,
			ModuleWorkers:      cfg.ModuleWorkers,
		},
	)
	batchCfg := router.BatchConfig{
		MaxWorkers:     cfg.MaxWorkers,
		RequestTimeout: cfg.RequestTimeout,
	}

	// HTTP surface.
	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, authn.Middleware, auth.RequirePermission)
	srv.RouterGroup.Mount("/", router.NewHandler(processor, batchCfg, logger).Routes())
	srv.RouterGroup.Mount("/responses", router.NewResponsesHandler(commandStore, sessions, logger).Routes())
	srv.RouterGroup.Mount("/entities", entity.NewHandler(entityStore, logger).Routes())
	srv.RouterGroup.Mount("/commands", command.NewHandler(commandStore, c, logger).Routes())
	srv.RouterGroup.Mount("/string-rules", stringmatch.NewHandler(ruleStore, matcher, logger).Routes())
	srv.RouterGroup.Mount("/coordination", coordination.NewHandler(coordStore, coordManager, logger).Routes())

	srv.RouterGroup.Group(func(r chi.Router) {
		r.Use(auth.RequireAccountType(auth.TypeAdmin))
		r.Mount("/accounts", auth.NewHandler(authStore, logger).Routes())
		r.Mount("/rbac", community.NewHandler(bulkRBAC, logger).Routes())
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("router listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
