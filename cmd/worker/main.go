// Package main is the entry point of the SubVoyager background worker.
//
// The worker runs the maintenance jobs that repair state left behind by
// interrupted multi-key writes:
//   - reconcile_indexes re-aligns the expedition status, city and tag indexes
//   - rebuild_leaderboard re-seeds global scores from profile totals
//
// With -run <job> it executes a single job once and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subvoyager/subvoyager/config"
	"github.com/subvoyager/subvoyager/internal/infrastructure/persistence/redis"
	"github.com/subvoyager/subvoyager/internal/infrastructure/scheduler"
	"github.com/subvoyager/subvoyager/internal/infrastructure/scheduler/jobs"
	"github.com/subvoyager/subvoyager/pkg/circuitbreaker"
	"github.com/subvoyager/subvoyager/pkg/logger"
	"github.com/subvoyager/subvoyager/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	runOnce := flag.String("run", "", "run the named job once and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := run(ctx, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runOnce string) error {
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
	log.Info("starting SubVoyager worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	if !cfg.Scheduler.Enabled && runOnce == "" {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

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

	expeditions := redis.NewExpeditionRepository(store)
	users := redis.NewUserRepository(store, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER AND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Logger = log
	schedCfg.JobTimeout = cfg.Scheduler.JobTimeout
	schedCfg.Registerer = registry
	sched := scheduler.New(schedCfg)

	reconcileEvery, err := jobSchedule(cfg.Scheduler.ReconcileIndexesCron, cfg.Scheduler.ReconcileIndexesInterval)
	if err != nil {
		return fmt.Errorf("reconcile_indexes schedule: %w", err)
	}
	rebuildEvery, err := jobSchedule(cfg.Scheduler.RebuildLeaderboardCron, cfg.Scheduler.RebuildLeaderboardInterval)
	if err != nil {
		return fmt.Errorf("rebuild_leaderboard schedule: %w", err)
	}

	if err := sched.Register(jobs.NewReconcileIndexesJob(expeditions, log), reconcileEvery); err != nil {
		return err
	}
	if err := sched.Register(jobs.NewRebuildLeaderboardJob(users, log, jobs.DefaultRebuildLeaderboardConfig()), rebuildEvery); err != nil {
		return err
	}

	if runOnce != "" {
		result, err := sched.RunNow(ctx, runOnce)
		if err != nil {
			return fmt.Errorf("job %s: %w", runOnce, err)
		}
		log.Info("job finished",
			logger.String("job", result.JobName),
			logger.Duration("duration", result.Duration),
		)
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. METRICS LISTENER
	// ─────────────────────────────────────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled && cfg.Observability.WorkerMetricsPort > 0 {
		metricsServer = newMetricsServer(cfg, registry, sched)
		go func() {
			log.Info("serving worker metrics", logger.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener failed", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Info("SubVoyager worker is running",
		logger.String("reconcile_indexes", reconcileEvery.String()),
		logger.String("rebuild_leaderboard", rebuildEvery.String()),
	)

	<-ctx.Done()
	log.Info("received shutdown signal")

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics listener shutdown failed", logger.Err(err))
		}
	}

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("failed to stop scheduler: %w", err)
		}
	case <-shutdownCtx.Done():
		return errors.New("timed out waiting for running jobs")
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// jobSchedule prefers the cron expression when one is configured.
func jobSchedule(cron string, interval time.Duration) (scheduler.Schedule, error) {
	if cron != "" {
		return scheduler.ParseSchedule(cron)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return scheduler.Every(interval), nil
}

func newMetricsServer(cfg *config.Config, registry *prometheus.Registry, sched *scheduler.Scheduler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Observability.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, _ *http.Request) {
		infos := sched.ListJobs()
		views := make([]jobView, 0, len(infos))
		for _, info := range infos {
			v := jobView{
				Name:      info.Name,
				Schedule:  info.Schedule,
				Enabled:   info.Enabled,
				Running:   info.Running,
				NextRun:   info.NextRun,
				RunCount:  info.RunCount,
				FailCount: info.FailCount,
			}
			if info.LastResult != nil {
				last := toRunView(*info.LastResult)
				v.LastResult = &last
			}
			views = append(views, v)
		}

		history := sched.GetHistory(20)
		runs := make([]runView, 0, len(history))
		for _, h := range history {
			runs = append(runs, toRunView(h))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": views, "history": runs})
	})
	mux.HandleFunc("GET /live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Observability.WorkerMetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type jobView struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Enabled    bool      `json:"enabled"`
	Running    bool      `json:"running"`
	NextRun    time.Time `json:"nextRun"`
	RunCount   int64     `json:"runCount"`
	FailCount  int64     `json:"failCount"`
	LastResult *runView  `json:"lastResult,omitempty"`
}

type runView struct {
	Job       string    `json:"job"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Success   bool      `json:"success"`
	Manual    bool      `json:"manual,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func toRunView(r scheduler.JobResult) runView {
	v := runView{
		Job:       r.JobName,
		StartedAt: r.StartedAt,
		Duration:  r.Duration.String(),
		Success:   r.Success,
		Manual:    r.Manual,
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return v
}

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
	}).With(logger.String("service", "worker"))
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
