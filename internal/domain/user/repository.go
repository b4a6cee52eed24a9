package user

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY CONTRACT
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository owns profiles, the per-user id sets, completion records and the
// leaderboards. Missing data is reported as nil/false/empty, never as an error.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Profile
	// ─────────────────────────────────────────────────────────────────────────

	// GetOrCreateProfile returns the stored profile, creating a zeroed one on
	// first access. Concurrent first calls create exactly one profile.
	GetOrCreateProfile(ctx context.Context, username string) (*Profile, error)

	// AllUsernames lists every user with a stored profile.
	AllUsernames(ctx context.Context) ([]string, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Progress
	// ─────────────────────────────────────────────────────────────────────────

	HasUnlocked(ctx context.Context, username, expeditionID string) (bool, error)
	HasCompleted(ctx context.Context, username, expeditionID string) (bool, error)

	// Unlock moves the pair to Unlocked. Returns shared.ErrAlreadyUnlocked
	// when the id is already in the unlocked set.
	Unlock(ctx context.Context, username, expeditionID string) (*Profile, error)

	// Complete moves the pair to Completed, stores c and credits
	// c.PointsAwarded. Returns shared.ErrMustUnlockFirst or
	// shared.ErrAlreadyCompleted on invalid transitions.
	Complete(ctx context.Context, username, expeditionID string, c *Completion) (*Profile, error)

	// TrackCreation records an authored expedition.
	TrackCreation(ctx context.Context, username, expeditionID string) (*Profile, error)

	// AwardPoints credits points outside the completion flow.
	AwardPoints(ctx context.Context, username string, points int, reason string) (*Profile, error)

	GetCompletion(ctx context.Context, username, expeditionID string) (*Completion, error)

	UnlockedIDs(ctx context.Context, username string) ([]string, error)
	CompletedIDs(ctx context.Context, username string) ([]string, error)
	CreatedIDs(ctx context.Context, username string) ([]string, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Leaderboards
	// ─────────────────────────────────────────────────────────────────────────

	// GetLeaderboard returns the top entries by descending score.
	// limit <= 0 falls back to DefaultLeaderboardLimit.
	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	// GetRank returns the 1-based rank consistent with GetLeaderboard.
	// ok is false when the user is not ranked.
	GetRank(ctx context.Context, username string) (rank int, ok bool, err error)

	// AddCityPoints credits points on the city leaderboard.
	AddCityPoints(ctx context.Context, city, username string, points int) error

	GetCityLeaderboard(ctx context.Context, city string, limit int) ([]LeaderboardEntry, error)
	GetCityRank(ctx context.Context, city, username string) (rank int, ok bool, err error)

	// RaiseLeaderboardScore sets a global score unless a higher one is
	// stored; used by the rebuild job.
	RaiseLeaderboardScore(ctx context.Context, username string, score int) error
}
