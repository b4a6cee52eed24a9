// Package user contains the explorer side of the domain: profiles, completion
// records, the level formula and the per-expedition progress state machine.
//
// Points flow in one direction. A profile's TotalPoints only grows, and the
// level is always derived from it:
//
//	level := CalculateLevel(profile.TotalPoints) // floor(points/50) + 1
//
// Like the other domain packages it depends on the standard library only.
package user

import (
	"strings"
	"time"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORING
// ══════════════════════════════════════════════════════════════════════════════

// PointsPerLevel is the number of points between two levels.
const PointsPerLevel = 50

// CalculateLevel derives the level from total points: floor(points/50) + 1.
// Negative totals are treated as zero.
func CalculateLevel(totalPoints int) int {
	if totalPoints < 0 {
		totalPoints = 0
	}
	return totalPoints/PointsPerLevel + 1
}

// PointsToNextLevel returns how many points are missing for the next level.
func PointsToNextLevel(totalPoints int) int {
	if totalPoints < 0 {
		totalPoints = 0
	}
	return PointsPerLevel - totalPoints%PointsPerLevel
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile is the per-user aggregate. Stored as a flat JSON document.
type Profile struct {
	Username             string   `json:"username"`
	JoinedAt             string   `json:"joinedAt"`
	TotalPoints          int      `json:"totalPoints"`
	ExpeditionsCreated   int      `json:"expeditionsCreated"`
	ExpeditionsUnlocked  int      `json:"expeditionsUnlocked"`
	ExpeditionsCompleted int      `json:"expeditionsCompleted"`
	Level                int      `json:"level"`
	Badges               []string `json:"badges"`
}

// NewProfile returns a zeroed level-1 profile joined at now.
func NewProfile(username string, now time.Time) (*Profile, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &Profile{
		Username: username,
		JoinedAt: expedition.FormatTime(now),
		Level:    1,
		Badges:   []string{},
	}, nil
}

// AddPoints grows the total and recomputes the level.
func (p *Profile) AddPoints(points int) error {
	if points < 0 {
		return shared.ErrNegativePoints
	}
	p.TotalPoints += points
	p.Level = CalculateLevel(p.TotalPoints)
	return nil
}

// ValidateUsername rejects blank usernames and the key separator.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return shared.ErrEmptyUsername
	}
	if strings.Contains(username, ":") {
		return shared.ErrInvalidUsername
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// Completion records a confirmed visit. PointsAwarded is a snapshot of the
// expedition's points at completion time and never changes afterwards.
type Completion struct {
	ExpeditionID  string            `json:"expeditionId"`
	Username      string            `json:"username"`
	CompletedAt   string            `json:"completedAt"`
	Photo         *expedition.Photo `json:"photo,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	PointsAwarded int               `json:"pointsAwarded"`
}

// NewCompletion snapshots the expedition's points for username.
func NewCompletion(username string, e *expedition.Expedition, photo *expedition.Photo, notes string, now time.Time) *Completion {
	return &Completion{
		ExpeditionID:  e.ID,
		Username:      username,
		CompletedAt:   expedition.FormatTime(now),
		Photo:         photo,
		Notes:         notes,
		PointsAwarded: e.Points,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardEntry is one row of a ranked view. Rank starts at 1.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// DefaultLeaderboardLimit is used when a caller passes limit <= 0.
const DefaultLeaderboardLimit = 100
