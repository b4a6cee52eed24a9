package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
	persistence "github.com/subvoyager/subvoyager/internal/infrastructure/persistence/redis"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

var mumbai = expedition.Coordinates{Lat: 19.0760, Lng: 72.8777}

type fixture struct {
	deps        Deps
	expeditions *persistence.ExpeditionRepository
	users       *persistence.UserRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := persistence.NewStoreFromClient(client)
	f := &fixture{
		expeditions: persistence.NewExpeditionRepository(store),
		users:       persistence.NewUserRepository(store, logger.Nop()),
	}
	f.deps = Deps{Expeditions: f.expeditions, Users: f.users}
	return f
}

func (f *fixture) add(t *testing.T, city string, tag expedition.Tag, approved bool, at expedition.Coordinates) *expedition.Expedition {
	t.Helper()
	ctx := context.Background()

	id, err := f.expeditions.GenerateID(ctx)
	require.NoError(t, err)

	e, err := expedition.New(expedition.NewExpeditionParams{
		ID:          id,
		Title:       "Spot " + id,
		Description: "Somewhere worth the detour",
		Coordinates: at,
		Address:     "Somewhere",
		City:        city,
		Country:     "India",
		PhotoURL:    "data:image/png;base64,AAAA",
		Tag:         tag,
		Difficulty:  expedition.DifficultyEasy,
		CreatedBy:   "asha",
		AutoApprove: approved,
		Now:         testNow,
	})
	require.NoError(t, err)
	require.NoError(t, f.expeditions.Create(ctx, e))
	return e
}

func ids(list []*expedition.Expedition) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// List
// ─────────────────────────────────────────────────────────────────────────────

func TestListExpeditions_PagesWithHasMore(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	}
	f.add(t, "Mumbai", expedition.TagFood, false, mumbai)

	h := NewListExpeditionsHandler(f.deps)
	ctx := context.Background()

	page, err := h.Handle(ctx, ListExpeditionsQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"exp_000001", "exp_000002"}, ids(page.Expeditions))
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasMore)

	page, err = h.Handle(ctx, ListExpeditionsQuery{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"exp_000005"}, ids(page.Expeditions))
	assert.False(t, page.HasMore)

	pending, err := h.Handle(ctx, ListExpeditionsQuery{Status: expedition.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"exp_000006"}, ids(pending.Expeditions))
}

func TestListExpeditions_CityPagesSkipOtherStatuses(t *testing.T) {
	f := newFixture(t)
	f.add(t, "Mumbai", expedition.TagFood, false, mumbai)
	first := f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	second := f.add(t, "Mumbai", expedition.TagNature, true, mumbai)

	h := NewListExpeditionsHandler(f.deps)
	ctx := context.Background()

	page, err := h.Handle(ctx, ListExpeditionsQuery{City: "Mumbai", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids(page.Expeditions))
	assert.True(t, page.HasMore)

	page, err = h.Handle(ctx, ListExpeditionsQuery{City: "Mumbai", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(page.Expeditions))
	assert.False(t, page.HasMore)
}

func TestListExpeditions_Filters(t *testing.T) {
	f := newFixture(t)
	food := f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	f.add(t, "Mumbai", expedition.TagWalk, true, mumbai)
	f.add(t, "Pune", expedition.TagFood, true, mumbai)

	h := NewListExpeditionsHandler(f.deps)
	page, err := h.Handle(context.Background(), ListExpeditionsQuery{City: "mumbai", Tag: expedition.TagFood})
	require.NoError(t, err)
	assert.Equal(t, []string{food.ID}, ids(page.Expeditions))
}

func TestListExpeditions_EmptyAndInvalid(t *testing.T) {
	f := newFixture(t)
	h := NewListExpeditionsHandler(f.deps)
	ctx := context.Background()

	page, err := h.Handle(ctx, ListExpeditionsQuery{})
	require.NoError(t, err)
	assert.NotNil(t, page.Expeditions)
	assert.Empty(t, page.Expeditions)
	assert.False(t, page.HasMore)

	_, err = h.Handle(ctx, ListExpeditionsQuery{Limit: -1})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, ListExpeditionsQuery{Status: "archived"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, ListExpeditionsQuery{Tag: "nightlife"})
	assert.True(t, shared.IsValidation(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Single expedition / nearby
// ─────────────────────────────────────────────────────────────────────────────

func TestGetExpedition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.add(t, "Mumbai", expedition.TagFood, false, mumbai)
	h := NewGetExpeditionHandler(f.deps)

	_, err := h.Handle(ctx, GetExpeditionQuery{ID: "exp_777777"})
	assert.ErrorIs(t, err, shared.ErrExpeditionNotFound)

	res, err := h.Handle(ctx, GetExpeditionQuery{ID: pending.ID})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, res.Expedition.ID)
	assert.False(t, res.IsUnlocked)

	_, err = f.users.Unlock(ctx, "ravi", pending.ID)
	require.NoError(t, err)

	res, err = h.Handle(ctx, GetExpeditionQuery{ID: pending.ID, Username: "ravi"})
	require.NoError(t, err)
	assert.True(t, res.IsUnlocked)
	assert.False(t, res.IsCompleted)
}

func TestNearbyExpeditions(t *testing.T) {
	f := newFixture(t)
	here := f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	next := f.add(t, "Mumbai", expedition.TagWalk, true, expedition.Coordinates{Lat: 19.10, Lng: 72.88})
	f.add(t, "Pune", expedition.TagWalk, true, expedition.Coordinates{Lat: 18.52, Lng: 73.85})
	f.add(t, "Mumbai", expedition.TagWalk, false, mumbai)

	h := NewNearbyExpeditionsHandler(f.deps)
	ctx := context.Background()

	res, err := h.Handle(ctx, NearbyExpeditionsQuery{Lat: mumbai.Lat, Lng: mumbai.Lng})
	require.NoError(t, err)
	assert.Equal(t, expedition.DefaultRadiusKm, res.RadiusKm)
	require.Len(t, res.Expeditions, 2)
	assert.Equal(t, here.ID, res.Expeditions[0].Expedition.ID)
	assert.Equal(t, 0.0, res.Expeditions[0].DistanceKm)
	assert.Equal(t, next.ID, res.Expeditions[1].Expedition.ID)

	res, err = h.Handle(ctx, NearbyExpeditionsQuery{Lat: mumbai.Lat, Lng: mumbai.Lng, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Expeditions, 1)

	zero := 0.0
	res, err = h.Handle(ctx, NearbyExpeditionsQuery{Lat: mumbai.Lat, Lng: mumbai.Lng, RadiusKm: &zero})
	require.NoError(t, err)
	assert.Zero(t, res.RadiusKm)
	require.Len(t, res.Expeditions, 1)
	assert.Equal(t, here.ID, res.Expeditions[0].Expedition.ID)

	negative := -2.0
	_, err = h.Handle(ctx, NearbyExpeditionsQuery{Lat: mumbai.Lat, Lng: mumbai.Lng, RadiusKm: &negative})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, NearbyExpeditionsQuery{Lat: 91, Lng: 0})
	assert.True(t, shared.IsValidation(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

func TestGetUserProfile_CreatesOnFirstAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewGetUserProfileHandler(f.deps)

	res, err := h.Handle(ctx, "meera")
	require.NoError(t, err)
	assert.Equal(t, "meera", res.Profile.Username)
	assert.Equal(t, 1, res.Profile.Level)
	assert.Equal(t, 50, res.PointsToNextLevel)
	assert.Empty(t, res.UnlockedExpeditions)
	assert.Empty(t, res.CompletedExpeditions)

	e := f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	_, err = f.users.Unlock(ctx, "meera", e.ID)
	require.NoError(t, err)
	_, err = f.users.AwardPoints(ctx, "meera", 80, "meetup")
	require.NoError(t, err)

	res, err = h.Handle(ctx, "meera")
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, res.UnlockedExpeditions)
	assert.Equal(t, 2, res.Profile.Level)
	assert.Equal(t, 20, res.PointsToNextLevel)

	_, err = h.Handle(ctx, "")
	assert.ErrorIs(t, err, shared.ErrEmptyUsername)
}

func TestGetUserExpeditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	second := f.add(t, "Mumbai", expedition.TagWalk, true, mumbai)
	_, err := f.users.TrackCreation(ctx, "ravi", second.ID)
	require.NoError(t, err)

	for _, e := range []*expedition.Expedition{first, second} {
		_, err := f.users.Unlock(ctx, "ravi", e.ID)
		require.NoError(t, err)
	}
	completion := user.NewCompletion("ravi", first, nil, "great vada pav", testNow)
	_, err = f.users.Complete(ctx, "ravi", first.ID, completion)
	require.NoError(t, err)

	res, err := NewGetUserExpeditionsHandler(f.deps).Handle(ctx, "ravi")
	require.NoError(t, err)

	assert.Equal(t, []string{second.ID}, ids(res.Created))
	assert.Equal(t, []string{first.ID, second.ID}, ids(res.Unlocked))
	require.Len(t, res.Completed, 1)
	assert.Equal(t, first.ID, res.Completed[0].Expedition.ID)
	assert.Equal(t, "great vada pav", res.Completed[0].Completion.Notes)
	assert.Equal(t, first.Points, res.Completed[0].Completion.PointsAwarded)
}

func TestGetUserExpeditions_NewUser(t *testing.T) {
	f := newFixture(t)

	res, err := NewGetUserExpeditionsHandler(f.deps).Handle(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, res.Created)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Unlocked)
	assert.Empty(t, res.Completed)
}

// ─────────────────────────────────────────────────────────────────────────────
// Leaderboard / stats
// ─────────────────────────────────────────────────────────────────────────────

func TestGetLeaderboard_GlobalWithCurrentUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, score := range map[string]int{"a": 10, "b": 30, "c": 20} {
		require.NoError(t, f.users.RaiseLeaderboardScore(ctx, name, score))
	}

	h := NewGetLeaderboardHandler(f.deps)
	res, err := h.Handle(ctx, GetLeaderboardQuery{Username: "c"})
	require.NoError(t, err)

	require.Len(t, res.Leaderboard, 3)
	assert.Equal(t, user.LeaderboardEntry{Username: "b", Score: 30, Rank: 1}, res.Leaderboard[0])
	require.NotNil(t, res.CurrentUserRank)
	assert.Equal(t, 2, *res.CurrentUserRank)
	assert.Equal(t, "c", res.Leaderboard[*res.CurrentUserRank-1].Username)

	res, err = h.Handle(ctx, GetLeaderboardQuery{Username: "stranger", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Leaderboard, 1)
	assert.Nil(t, res.CurrentUserRank)
}

func TestGetLeaderboard_City(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.users.AddCityPoints(ctx, "Pune", "asha", 10))
	require.NoError(t, f.users.AddCityPoints(ctx, "Pune", "ravi", 30))
	require.NoError(t, f.users.AddCityPoints(ctx, "Mumbai", "asha", 50))

	res, err := NewGetLeaderboardHandler(f.deps).Handle(ctx, GetLeaderboardQuery{City: " Pune ", Username: "asha"})
	require.NoError(t, err)

	assert.Equal(t, "pune", res.City)
	require.Len(t, res.Leaderboard, 2)
	assert.Equal(t, "ravi", res.Leaderboard[0].Username)
	require.NotNil(t, res.CurrentUserRank)
	assert.Equal(t, 2, *res.CurrentUserRank)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	f.add(t, "Mumbai", expedition.TagFood, true, mumbai)
	require.NoError(t, f.expeditions.IncrementUnlocks(ctx, e.ID))

	stats, err := NewStatsHandler(f.deps).Handle(ctx)
	require.NoError(t, err)
	assert.Equal(t, expedition.Stats{Expeditions: 2, Unlocks: 1}, stats)
}

func ExampleListExpeditionsQuery_Validate() {
	q := ListExpeditionsQuery{}
	_ = q.Validate()
	fmt.Println(q.Limit, q.Status)
	// Output: 50 approved
}
