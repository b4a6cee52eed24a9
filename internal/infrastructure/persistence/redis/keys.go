package redis

import (
	"strings"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
)

// ══════════════════════════════════════════════════════════════════════════════
// KEY SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

// Key prefixes for namespacing Redis keys.
const (
	PrefixExpedition  = "expedition:"
	PrefixExpeditions = "expeditions:"
	PrefixUser        = "user:"
	PrefixLeaderboard = "leaderboard:"
	PrefixStats       = "stats:"
)

// ExpeditionKey is the JSON record of one expedition.
func ExpeditionKey(id string) string {
	return PrefixExpedition + id
}

// ExpeditionIDCounterKey backs GenerateID.
func ExpeditionIDCounterKey() string {
	return PrefixExpedition + "id:counter"
}

// StatusIndexKey is the id set of expeditions in a status.
func StatusIndexKey(status expedition.Status) string {
	return PrefixExpeditions + string(status)
}

// CityIndexKey is the id set of expeditions in a city, case-insensitive.
func CityIndexKey(city string) string {
	return PrefixExpeditions + "city:" + expedition.NormalizeCity(city)
}

// TagIndexKey is the id set of expeditions with a tag.
func TagIndexKey(tag expedition.Tag) string {
	return PrefixExpeditions + "tag:" + string(tag)
}

// UserKey is the JSON profile of a user.
func UserKey(username string) string {
	return PrefixUser + username
}

// UserUnlockedKey maps unlocked expedition ids to their unlock time.
func UserUnlockedKey(username string) string {
	return PrefixUser + username + ":unlocked"
}

// UserCompletedKey maps completed expedition ids to their completion time.
func UserCompletedKey(username string) string {
	return PrefixUser + username + ":completed"
}

// UserCreatedKey maps authored expedition ids to their creation time.
func UserCreatedKey(username string) string {
	return PrefixUser + username + ":created"
}

// UserCompletionKey is the JSON completion record of a (user, expedition) pair.
func UserCompletionKey(username, expeditionID string) string {
	return PrefixUser + username + ":completion:" + expeditionID
}

// GlobalLeaderboardKey ranks users by total points.
func GlobalLeaderboardKey() string {
	return PrefixLeaderboard + "global"
}

// CityLeaderboardKey ranks users by points earned in a city.
func CityLeaderboardKey(city string) string {
	return PrefixLeaderboard + "city:" + expedition.NormalizeCity(city)
}

// StatsKey holds global activity counters.
func StatsKey() string {
	return PrefixStats + "total"
}

// usernameFromUserKey extracts the username from a profile key, rejecting
// the per-user sub-keys (user:{u}:unlocked and friends).
func usernameFromUserKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, PrefixUser)
	if !ok || rest == "" || strings.Contains(rest, ":") {
		return "", false
	}
	return rest, true
}
