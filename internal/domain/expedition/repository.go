package expedition

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY CONTRACT
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores expedition records and their status/city/tag indexes.
// Reads return (nil, nil) or empty slices for missing data; errors are
// reserved for store failures.
type Repository interface {
	// GenerateID atomically allocates the next expedition id (exp_000123).
	GenerateID(ctx context.Context) (string, error)

	// Create persists the record and adds it to the status, city and tag indexes.
	Create(ctx context.Context, e *Expedition) error

	// Get returns the record or nil when absent. Status is not filtered.
	Get(ctx context.Context, id string) (*Expedition, error)

	// GetMany fetches records in one round-trip, dropping missing ids.
	GetMany(ctx context.Context, ids []string) ([]*Expedition, error)

	// Update overwrites the record and moves it between indexes when
	// status, city or tag changed. Returns false when the record is absent.
	Update(ctx context.Context, e *Expedition) (bool, error)

	ListByStatus(ctx context.Context, status Status, page Page) ([]*Expedition, error)
	ListByCity(ctx context.Context, city string, page Page) ([]*Expedition, error)
	ListByTag(ctx context.Context, tag Tag, page Page) ([]*Expedition, error)

	// Search returns expeditions of a status, narrowed by city and/or tag.
	// Paging counts only ids whose indexed status matches.
	Search(ctx context.Context, params SearchParams) ([]*Expedition, error)

	// Nearby scans approved expeditions and keeps those within radiusKm.
	Nearby(ctx context.Context, origin Coordinates, radiusKm float64, limit int) ([]WithDistance, error)

	IncrementUnlocks(ctx context.Context, id string) error
	IncrementCompletions(ctx context.Context, id string) error

	// Approve moves the expedition to approved. Returns false when absent.
	Approve(ctx context.Context, id, approvedBy string) (bool, error)

	// Reject moves the expedition to rejected. Returns false when absent.
	Reject(ctx context.Context, id, rejectedBy string) (bool, error)

	// Stats returns the global activity counters.
	Stats(ctx context.Context) (Stats, error)
}

// Stats are global activity counters maintained alongside the records.
type Stats struct {
	Expeditions int64 `json:"expeditions"`
	Unlocks     int64 `json:"unlocks"`
	Completions int64 `json:"completions"`
}

// Page is an offset/limit window. Limit <= 0 means "everything".
type Page struct {
	Limit  int
	Offset int
}

// Apply slices ids to the page window.
func (p Page) Apply(ids []string) []string {
	start := p.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(ids) {
		return []string{}
	}
	if p.Limit <= 0 {
		return ids[start:]
	}
	end := start + p.Limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}

// SearchParams filters a search. Status defaults to approved.
type SearchParams struct {
	City   string
	Tag    Tag
	Status Status
	Limit  int
	Offset int
}

// ══════════════════════════════════════════════════════════════════════════════
// IDS
// ══════════════════════════════════════════════════════════════════════════════

const idPrefix = "exp_"

// FormatID renders a counter value as an expedition id.
func FormatID(n int64) string {
	return fmt.Sprintf("%s%06d", idPrefix, n)
}

// idSeq extracts the numeric part of an id; unknown formats sort last.
func idSeq(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, idPrefix), 10, 64)
	if err != nil || !strings.HasPrefix(id, idPrefix) {
		return 0, false
	}
	return n, true
}

// SortIDs orders ids by creation sequence so pagination over an unordered
// index is stable between calls.
func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, okA := idSeq(ids[i])
		b, okB := idSeq(ids[j])
		switch {
		case okA && okB:
			return a < b
		case okA != okB:
			return okA
		default:
			return ids[i] < ids[j]
		}
	})
}

// Intersect returns the ids present in both a and b, in a's order.
func Intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]string, 0)
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// NormalizeCity is the case-insensitive index key for a city name.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
