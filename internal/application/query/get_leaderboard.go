package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Global ranking by total points, or the ranking of a single city.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the parameters of a leaderboard read.
type GetLeaderboardQuery struct {
	// City selects a city leaderboard; empty means global.
	City string

	// Limit defaults to user.DefaultLeaderboardLimit.
	Limit int

	// Username, when set, adds the caller's own rank to the result.
	Username string
}

// Validate normalizes defaults and rejects bad input.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return invalid("limit cannot be negative")
	}
	if q.Limit == 0 || q.Limit > user.DefaultLeaderboardLimit {
		q.Limit = user.DefaultLeaderboardLimit
	}
	q.City = strings.TrimSpace(q.City)
	return nil
}

// GetLeaderboardResult contains the ranked entries.
type GetLeaderboardResult struct {
	Leaderboard []user.LeaderboardEntry `json:"leaderboard"`

	// City is the normalized city name, empty for the global board.
	City string `json:"city,omitempty"`

	// CurrentUserRank is nil when no username was given or the user is unranked.
	CurrentUserRank *int `json:"currentUserRank,omitempty"`
}

// GetLeaderboardHandler handles GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	users user.Repository
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler.
func NewGetLeaderboardHandler(deps Deps) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{users: deps.Users}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		entries []user.LeaderboardEntry
		rank    int
		ranked  bool
		err     error
	)

	if q.City == "" {
		entries, err = h.users.GetLeaderboard(ctx, q.Limit)
	} else {
		entries, err = h.users.GetCityLeaderboard(ctx, q.City, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	if q.Username != "" {
		if q.City == "" {
			rank, ranked, err = h.users.GetRank(ctx, q.Username)
		} else {
			rank, ranked, err = h.users.GetCityRank(ctx, q.City, q.Username)
		}
		if err != nil {
			return nil, fmt.Errorf("get_leaderboard: %w", err)
		}
	}

	if entries == nil {
		entries = []user.LeaderboardEntry{}
	}
	res := &GetLeaderboardResult{Leaderboard: entries}
	if q.City != "" {
		res.City = expedition.NormalizeCity(q.City)
	}
	if ranked {
		res.CurrentUserRank = &rank
	}
	return res, nil
}

// StatsHandler returns the global activity counters.
type StatsHandler struct {
	expeditions expedition.Repository
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(deps Deps) *StatsHandler {
	return &StatsHandler{expeditions: deps.Expeditions}
}

// Handle executes the query.
func (h *StatsHandler) Handle(ctx context.Context) (expedition.Stats, error) {
	stats, err := h.expeditions.Stats(ctx)
	if err != nil {
		return expedition.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}
