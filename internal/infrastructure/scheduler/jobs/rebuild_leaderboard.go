// Package jobs contains the scheduled maintenance jobs of SubVoyager.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/subvoyager/subvoyager/internal/domain/user"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardJob re-seeds the global leaderboard from profile totals.
// Profile and leaderboard are written separately, so a crash between the two
// writes leaves the board behind; this job is the repair path.
type RebuildLeaderboardJob struct {
	users  user.Repository
	logger *logger.Logger
	config RebuildLeaderboardConfig

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Concurrency bounds parallel profile reads.
	Concurrency int
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{Concurrency: 8}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Users     int
	Updated   int
	Skipped   int
	Failed    int
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(users user.Repository, log *logger.Logger, config RebuildLeaderboardConfig) *RebuildLeaderboardJob {
	if log == nil {
		log = logger.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &RebuildLeaderboardJob{
		users:  users,
		logger: log.With(logger.String("job", "rebuild_leaderboard")),
		config: config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Re-seeds the global leaderboard from profile point totals"
}

// Run executes the rebuild. Users without points are left off the board, the
// same as the live write path. Per-user failures do not stop the run; they
// are joined into the returned error.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	stats := &RebuildStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	names, err := j.users.AllUsernames(ctx)
	if err != nil {
		return fmt.Errorf("rebuild_leaderboard: list users: %w", err)
	}
	stats.Users = len(names)

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, name := range names {
		g.Go(func() error {
			updated, err := j.rebuildOne(gctx, name)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			case updated:
				stats.Updated++
			default:
				stats.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	j.logger.Info("leaderboard rebuilt",
		logger.Int("users", stats.Users),
		logger.Int("updated", stats.Updated),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
	)

	if len(errs) > 0 {
		return fmt.Errorf("rebuild_leaderboard: %d users failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (j *RebuildLeaderboardJob) rebuildOne(ctx context.Context, username string) (bool, error) {
	profile, err := j.users.GetOrCreateProfile(ctx, username)
	if err != nil {
		return false, err
	}
	if profile.TotalPoints <= 0 {
		return false, nil
	}
	if err := j.users.RaiseLeaderboardScore(ctx, username, profile.TotalPoints); err != nil {
		return false, err
	}
	return true, nil
}

// LastStats returns the statistics of the most recent run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
