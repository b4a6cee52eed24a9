package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

func newTestUserRepo(t *testing.T) *UserRepository {
	t.Helper()
	store, _ := newTestStore(t)
	repo := NewUserRepository(store, logger.Nop())
	repo.now = func() time.Time { return fixedNow }
	return repo
}

func completion(username, id string, points int) *user.Completion {
	e := &expedition.Expedition{ID: id, Points: points}
	return user.NewCompletion(username, e, nil, "", fixedNow)
}

// unlockAndComplete walks a pair through the full forward path.
func unlockAndComplete(t *testing.T, repo *UserRepository, username, id string, points int) *user.Profile {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Unlock(ctx, username, id)
	require.NoError(t, err)
	p, err := repo.Complete(ctx, username, id, completion(username, id, points))
	require.NoError(t, err)
	return p
}

func TestGetOrCreateProfile(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	p, err := repo.GetOrCreateProfile(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, "asha", p.Username)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, "2025-04-01T09:00:00.000Z", p.JoinedAt)
	assert.Empty(t, p.Badges)

	repo.now = func() time.Time { return fixedNow.Add(time.Hour) }
	again, err := repo.GetOrCreateProfile(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, p.JoinedAt, again.JoinedAt)

	_, err = repo.GetOrCreateProfile(ctx, "")
	assert.True(t, shared.IsValidation(err))
}

func TestGetOrCreateProfile_ConcurrentFirstAccess(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	// Every call sees a distinct clock, so a double creation would be visible.
	var tick atomic.Int64
	repo.now = func() time.Time { return fixedNow.Add(time.Duration(tick.Add(1)) * time.Millisecond) }

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		joinedAt = map[string]struct{}{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := repo.GetOrCreateProfile(ctx, "asha")
			if assert.NoError(t, err) {
				mu.Lock()
				joinedAt[p.JoinedAt] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, joinedAt, 1)
	names, err := repo.AllUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"asha"}, names)
}

func TestUnlock_StateMachine(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	ok, err := repo.HasUnlocked(ctx, "asha", "exp_000001")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := repo.Unlock(ctx, "asha", "exp_000001")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ExpeditionsUnlocked)

	ok, err = repo.HasUnlocked(ctx, "asha", "exp_000001")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.Unlock(ctx, "asha", "exp_000001")
	assert.ErrorIs(t, err, shared.ErrAlreadyUnlocked)
	assert.True(t, shared.IsInvalidState(err))

	stored, err := repo.GetOrCreateProfile(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExpeditionsUnlocked)
}

func TestComplete_RequiresUnlock(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	_, err := repo.Complete(ctx, "asha", "exp_000001", completion("asha", "exp_000001", 20))
	assert.ErrorIs(t, err, shared.ErrMustUnlockFirst)
	assert.True(t, shared.IsInvalidState(err))

	done, err := repo.HasCompleted(ctx, "asha", "exp_000001")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestComplete_Twice(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	unlockAndComplete(t, repo, "asha", "exp_000001", 20)

	_, err := repo.Complete(ctx, "asha", "exp_000001", completion("asha", "exp_000001", 20))
	assert.ErrorIs(t, err, shared.ErrAlreadyCompleted)

	_, err = repo.Unlock(ctx, "asha", "exp_000001")
	assert.ErrorIs(t, err, shared.ErrAlreadyUnlocked)

	p, err := repo.GetOrCreateProfile(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, 20, p.TotalPoints)
	assert.Equal(t, 1, p.ExpeditionsCompleted)
}

func TestComplete_UpdatesProfileLevelAndLeaderboard(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	unlockAndComplete(t, repo, "asha", "exp_000001", 30)
	p := unlockAndComplete(t, repo, "asha", "exp_000002", 20)

	assert.Equal(t, 50, p.TotalPoints)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 2, p.ExpeditionsCompleted)
	assert.Equal(t, 2, p.ExpeditionsUnlocked)

	board, err := repo.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []user.LeaderboardEntry{{Username: "asha", Score: 50, Rank: 1}}, board)

	completed, err := repo.CompletedIDs(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, []string{"exp_000001", "exp_000002"}, completed)
}

func TestCompletion_ImmutableAfterAwardPoints(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	unlockAndComplete(t, repo, "asha", "exp_000003", 30)

	before, err := repo.GetCompletion(ctx, "asha", "exp_000003")
	require.NoError(t, err)
	require.NotNil(t, before)

	_, err = repo.AwardPoints(ctx, "asha", 100, "streak bonus")
	require.NoError(t, err)

	after, err := repo.GetCompletion(ctx, "asha", "exp_000003")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 30, after.PointsAwarded)

	missing, err := repo.GetCompletion(ctx, "asha", "exp_000009")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAwardPoints(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	p, err := repo.AwardPoints(ctx, "asha", 149, "")
	require.NoError(t, err)
	assert.Equal(t, 149, p.TotalPoints)
	assert.Equal(t, 3, p.Level)

	_, err = repo.AwardPoints(ctx, "asha", -1, "oops")
	assert.True(t, shared.IsValidation(err))

	rank, ok, err := repo.GetRank(ctx, "asha")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rank)

	stored, err := repo.GetOrCreateProfile(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, 149, stored.TotalPoints)
}

func TestAwardPoints_ZeroGrantStaysOffBoard(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	p, err := repo.AwardPoints(ctx, "asha", 0, "nothing yet")
	require.NoError(t, err)
	assert.Zero(t, p.TotalPoints)

	_, ok, err := repo.GetRank(ctx, "asha")
	require.NoError(t, err)
	assert.False(t, ok)

	board, err := repo.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, board)
}

func TestTrackCreation_Idempotent(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	p, err := repo.TrackCreation(ctx, "asha", "exp_000002")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ExpeditionsCreated)

	p, err = repo.TrackCreation(ctx, "asha", "exp_000002")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ExpeditionsCreated)

	_, err = repo.TrackCreation(ctx, "asha", "exp_000001")
	require.NoError(t, err)

	created, err := repo.CreatedIDs(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, []string{"exp_000001", "exp_000002"}, created)
}

func TestLeaderboard_DescendingWithRanks(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	unlockAndComplete(t, repo, "bala", "exp_000001", 10)
	unlockAndComplete(t, repo, "asha", "exp_000001", 30)
	unlockAndComplete(t, repo, "chen", "exp_000001", 20)

	board, err := repo.GetLeaderboard(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []user.LeaderboardEntry{
		{Username: "asha", Score: 30, Rank: 1},
		{Username: "chen", Score: 20, Rank: 2},
		{Username: "bala", Score: 10, Rank: 3},
	}, board)

	// Rank lookups agree with the displayed order.
	for _, entry := range board {
		rank, ok, err := repo.GetRank(ctx, entry.Username)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, entry.Rank, rank, entry.Username)
	}

	_, ok, err := repo.GetRank(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	top, err := repo.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, top, 3)
}

func TestCityLeaderboard(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AddCityPoints(ctx, "Mumbai", "asha", 10))
	require.NoError(t, repo.AddCityPoints(ctx, "mumbai", "asha", 20))
	require.NoError(t, repo.AddCityPoints(ctx, "Mumbai", "bala", 25))
	require.NoError(t, repo.AddCityPoints(ctx, "Pune", "bala", 5))

	board, err := repo.GetCityLeaderboard(ctx, "MUMBAI", 10)
	require.NoError(t, err)
	assert.Equal(t, []user.LeaderboardEntry{
		{Username: "asha", Score: 30, Rank: 1},
		{Username: "bala", Score: 25, Rank: 2},
	}, board)

	rank, ok, err := repo.GetCityRank(ctx, "pune", "bala")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rank)

	assert.True(t, shared.IsValidation(repo.AddCityPoints(ctx, "Pune", "bala", -3)))
}

func TestRaiseLeaderboardScore_NeverLowers(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RaiseLeaderboardScore(ctx, "asha", 70))
	require.NoError(t, repo.RaiseLeaderboardScore(ctx, "asha", 40))

	board, err := repo.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []user.LeaderboardEntry{{Username: "asha", Score: 70, Rank: 1}}, board)

	require.NoError(t, repo.RaiseLeaderboardScore(ctx, "asha", 90))
	board, err = repo.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []user.LeaderboardEntry{{Username: "asha", Score: 90, Rank: 1}}, board)
}

func TestIDLists_EmptyForUnknownUser(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	for _, list := range []func(context.Context, string) ([]string, error){repo.UnlockedIDs, repo.CompletedIDs, repo.CreatedIDs} {
		got, err := list(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestAllUsernames_IgnoresSubKeys(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	unlockAndComplete(t, repo, "asha", "exp_000001", 10)
	_, err := repo.GetOrCreateProfile(ctx, "bala")
	require.NoError(t, err)

	names, err := repo.AllUsernames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"asha", "bala"}, names)
}
