// Package main is the entry point of the SubVoyager API server.
//
// The server exposes the expedition, profile and leaderboard REST API over a
// single Redis instance. Background repair jobs run in cmd/worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/subvoyager/subvoyager/config"
	"github.com/subvoyager/subvoyager/internal/application/command"
	"github.com/subvoyager/subvoyager/internal/application/query"
	"github.com/subvoyager/subvoyager/internal/infrastructure/persistence/redis"
	httpserver "github.com/subvoyager/subvoyager/internal/interface/http"
	"github.com/subvoyager/subvoyager/internal/interface/http/handlers"
	"github.com/subvoyager/subvoyager/pkg/circuitbreaker"
	"github.com/subvoyager/subvoyager/pkg/logger"
	"github.com/subvoyager/subvoyager/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting SubVoyager API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("address", cfg.HTTP.Addr()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS
	// ─────────────────────────────────────────────────────────────────────────
	store, err := connectStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing Redis connection...")
		_ = store.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS REGISTRY
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES AND HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	expeditions := redis.NewExpeditionRepository(store)
	users := redis.NewUserRepository(store, log)

	cdeps := command.Deps{
		Expeditions: expeditions,
		Users:       users,
		Features:    cfg.Features,
		Metrics:     command.NewMetrics(registry),
		Logger:      log,
		Clock:       time.Now,
	}
	qdeps := query.Deps{Expeditions: expeditions, Users: users}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("redis", handlers.NewStoreCheck(store))

	deps := httpserver.Dependencies{
		CreateExpedition:   command.NewCreateExpeditionHandler(cdeps, cfg.App.DefaultCountry),
		UnlockExpedition:   command.NewUnlockExpeditionHandler(cdeps),
		CompleteExpedition: command.NewCompleteExpeditionHandler(cdeps),
		ModerateExpedition: command.NewModerateExpeditionHandler(cdeps),
		AwardPoints:        command.NewAwardPointsHandler(cdeps),

		ListExpeditions:    query.NewListExpeditionsHandler(qdeps),
		GetExpedition:      query.NewGetExpeditionHandler(qdeps),
		NearbyExpeditions:  query.NewNearbyExpeditionsHandler(qdeps),
		GetUserProfile:     query.NewGetUserProfileHandler(qdeps),
		GetUserExpeditions: query.NewGetUserExpeditionsHandler(qdeps),
		GetLeaderboard:     query.NewGetLeaderboardHandler(qdeps),
		Stats:              query.NewStatsHandler(qdeps),

		Features:      cfg.Features,
		Logger:        log,
		HealthChecker: health,
		Registerer:    registry,
		Gatherer:      registry,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.ConfigFrom(cfg), deps)
	errCh := server.StartAsync()

	log.Info("SubVoyager API is running",
		logger.Bool("metrics", cfg.Observability.MetricsEnabled),
		logger.Int("admin_keys", len(cfg.HTTP.AdminAPIKeys)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return errors.New("http server stopped unexpectedly")
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
		return err
	}

	log.Info("shutdown completed successfully", logger.Duration("uptime", server.Uptime()))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the process logger from the observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		Format:    logger.Format(cfg.Observability.LogFormat),
		AddCaller: cfg.IsDevelopment(),
	}).With(logger.String("service", "api"))
}

// connectStore dials Redis, retrying while the instance comes up.
func connectStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Store, error) {
	log.Info("connecting to Redis...")

	var store *redis.Store
	err := retry.ConnectRetrier().Do(ctx, func(ctx context.Context) error {
		s, err := redis.NewStore(ctx, cfg.Redis.StoreConfig())
		if err != nil {
			log.Warn("redis not ready", logger.Err(err))
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if cfg.Redis.BreakerEnabled {
		store.UseBreaker(redis.NewBreaker(circuitbreaker.Config{
			Name:             "redis",
			FailureThreshold: cfg.Redis.BreakerFailures,
			OpenTimeout:      cfg.Redis.BreakerOpenTimeout,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		}))
	}

	log.Info("Redis connection established", logger.Bool("breaker", cfg.Redis.BreakerEnabled))
	return store, nil
}
