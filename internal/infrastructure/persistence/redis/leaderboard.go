package redis

import (
	"context"
	"errors"
	"math"

	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARDS
// Sorted sets with score = points. Ranks are 1-based and read in descending
// score order, so GetRank always agrees with the position in GetLeaderboard.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboard returns the global top entries.
func (r *UserRepository) GetLeaderboard(ctx context.Context, limit int) ([]user.LeaderboardEntry, error) {
	return r.top(ctx, "GetLeaderboard", GlobalLeaderboardKey(), limit)
}

// GetRank returns the global rank of username.
func (r *UserRepository) GetRank(ctx context.Context, username string) (int, bool, error) {
	return r.rank(ctx, "GetRank", GlobalLeaderboardKey(), username)
}

// RaiseLeaderboardScore sets the global score of username unless the board
// already holds a higher one. Totals only grow, so a stale read never lowers
// a score written by a concurrent completion.
func (r *UserRepository) RaiseLeaderboardScore(ctx context.Context, username string, score int) error {
	err := r.store.ZAddGT(ctx, GlobalLeaderboardKey(), username, float64(score))
	if err != nil {
		return r.wrap("RaiseLeaderboardScore", err)
	}
	return nil
}

// AddCityPoints credits points earned in city.
func (r *UserRepository) AddCityPoints(ctx context.Context, city, username string, points int) error {
	if points < 0 {
		return shared.ErrNegativePoints
	}
	if _, err := r.store.ZIncrBy(ctx, CityLeaderboardKey(city), username, float64(points)); err != nil {
		return r.wrap("AddCityPoints", err)
	}
	return nil
}

// GetCityLeaderboard returns the top entries of a city.
func (r *UserRepository) GetCityLeaderboard(ctx context.Context, city string, limit int) ([]user.LeaderboardEntry, error) {
	return r.top(ctx, "GetCityLeaderboard", CityLeaderboardKey(city), limit)
}

// GetCityRank returns the rank of username in a city.
func (r *UserRepository) GetCityRank(ctx context.Context, city, username string) (int, bool, error) {
	return r.rank(ctx, "GetCityRank", CityLeaderboardKey(city), username)
}

func (r *UserRepository) top(ctx context.Context, op, key string, limit int) ([]user.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = user.DefaultLeaderboardLimit
	}

	members, err := r.store.ZRevRangeWithScores(ctx, key, 0, int64(limit-1))
	if err != nil {
		return nil, r.wrap(op, err)
	}

	entries := make([]user.LeaderboardEntry, 0, len(members))
	for i, m := range members {
		entries = append(entries, user.LeaderboardEntry{
			Username: m.Member,
			Score:    int(math.Round(m.Score)),
			Rank:     i + 1,
		})
	}
	return entries, nil
}

func (r *UserRepository) rank(ctx context.Context, op, key, username string) (int, bool, error) {
	pos, err := r.store.ZRevRank(ctx, key, username)
	if errors.Is(err, ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, r.wrap(op, err)
	}
	return int(pos) + 1, true, nil
}
