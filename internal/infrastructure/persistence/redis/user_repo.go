package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

const userDomain = "user"

// UserRepository implements user.Repository.
//
// Every profile mutation runs as an optimistic transaction: the profile key and
// the per-user sets it depends on are WATCHed, the state-machine checks run on
// the watched values and all writes (set membership, completion record,
// profile, leaderboard) commit in one MULTI/EXEC.
type UserRepository struct {
	store *Store
	log   *logger.Logger
	now   func() time.Time
}

// NewUserRepository creates a repository over store.
func NewUserRepository(store *Store, log *logger.Logger) *UserRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &UserRepository{
		store: store,
		log:   log.With(logger.Component("user_repository")),
		now:   time.Now,
	}
}

var _ user.Repository = (*UserRepository)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// GetOrCreateProfile returns the profile, creating it with SET NX on first access.
func (r *UserRepository) GetOrCreateProfile(ctx context.Context, username string) (*user.Profile, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	var p user.Profile
	err := r.store.GetJSON(ctx, UserKey(username), &p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, ErrMiss) {
		return nil, shared.WrapStoreError(userDomain, "GetOrCreateProfile", err)
	}

	fresh, err := user.NewProfile(username, r.now())
	if err != nil {
		return nil, err
	}
	created, err := r.store.SetNXJSON(ctx, UserKey(username), fresh)
	if err != nil {
		return nil, shared.WrapStoreError(userDomain, "GetOrCreateProfile", err)
	}
	if created {
		r.log.Debug("profile created", logger.Username(username))
		return fresh, nil
	}

	// Lost the creation race; read the winner's profile.
	if err := r.store.GetJSON(ctx, UserKey(username), &p); err != nil {
		return nil, shared.WrapStoreError(userDomain, "GetOrCreateProfile", err)
	}
	return &p, nil
}

// AllUsernames SCANs profile keys.
func (r *UserRepository) AllUsernames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	names := make([]string, 0)

	err := r.store.Scan(ctx, PrefixUser+"*", func(key string) error {
		name, ok := usernameFromUserKey(key)
		if !ok {
			return nil
		}
		// SCAN may return a key more than once.
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, shared.WrapStoreError(userDomain, "AllUsernames", err)
	}
	return names, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// HasUnlocked reports membership in the unlocked set.
func (r *UserRepository) HasUnlocked(ctx context.Context, username, expeditionID string) (bool, error) {
	ok, err := r.store.HExists(ctx, UserUnlockedKey(username), expeditionID)
	if err != nil {
		return false, shared.WrapStoreError(userDomain, "HasUnlocked", err)
	}
	return ok, nil
}

// HasCompleted reports membership in the completed set.
func (r *UserRepository) HasCompleted(ctx context.Context, username, expeditionID string) (bool, error) {
	ok, err := r.store.HExists(ctx, UserCompletedKey(username), expeditionID)
	if err != nil {
		return false, shared.WrapStoreError(userDomain, "HasCompleted", err)
	}
	return ok, nil
}

// Unlock moves the pair from Locked to Unlocked.
func (r *UserRepository) Unlock(ctx context.Context, username, expeditionID string) (*user.Profile, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	var profile *user.Profile
	unlockedKey := UserUnlockedKey(username)

	err := r.store.Transact(ctx, func(tx *redis.Tx) error {
		progress, err := progressOf(ctx, tx, username, expeditionID)
		if err != nil {
			return err
		}
		if err := progress.CanUnlock(); err != nil {
			return err
		}

		p, err := r.loadProfile(ctx, tx, username)
		if err != nil {
			return err
		}
		p.ExpeditionsUnlocked++

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, unlockedKey, expeditionID, expedition.FormatTime(r.now()))
			return queueJSON(ctx, pipe, UserKey(username), p)
		})
		profile = p
		return err
	}, UserKey(username), unlockedKey, UserCompletedKey(username))
	if err != nil {
		return nil, r.wrap("Unlock", err)
	}
	return profile, nil
}

// Complete moves the pair from Unlocked to Completed, stores the completion
// record and credits its points on the profile and the global leaderboard.
func (r *UserRepository) Complete(ctx context.Context, username, expeditionID string, c *user.Completion) (*user.Profile, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, shared.NewDomainError(userDomain, "Complete", shared.ErrValidation, "completion is required")
	}

	var profile *user.Profile
	completedKey := UserCompletedKey(username)

	err := r.store.Transact(ctx, func(tx *redis.Tx) error {
		progress, err := progressOf(ctx, tx, username, expeditionID)
		if err != nil {
			return err
		}
		if err := progress.CanComplete(); err != nil {
			return err
		}

		p, err := r.loadProfile(ctx, tx, username)
		if err != nil {
			return err
		}
		if err := p.AddPoints(c.PointsAwarded); err != nil {
			return err
		}
		p.ExpeditionsCompleted++

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, completedKey, expeditionID, c.CompletedAt)
			if err := queueJSON(ctx, pipe, UserCompletionKey(username, expeditionID), c); err != nil {
				return err
			}
			if err := queueJSON(ctx, pipe, UserKey(username), p); err != nil {
				return err
			}
			pipe.ZAdd(ctx, GlobalLeaderboardKey(), redis.Z{Score: float64(p.TotalPoints), Member: username})
			return nil
		})
		profile = p
		return err
	}, UserKey(username), UserUnlockedKey(username), completedKey)
	if err != nil {
		return nil, r.wrap("Complete", err)
	}
	return profile, nil
}

// TrackCreation records an authored expedition. Tracking the same id twice
// does not double-count.
func (r *UserRepository) TrackCreation(ctx context.Context, username, expeditionID string) (*user.Profile, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	var profile *user.Profile
	createdKey := UserCreatedKey(username)

	err := r.store.Transact(ctx, func(tx *redis.Tx) error {
		p, err := r.loadProfile(ctx, tx, username)
		if err != nil {
			return err
		}
		profile = p

		tracked, err := tx.HExists(ctx, createdKey, expeditionID).Result()
		if err != nil || tracked {
			return err
		}
		p.ExpeditionsCreated++

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, createdKey, expeditionID, expedition.FormatTime(r.now()))
			return queueJSON(ctx, pipe, UserKey(username), p)
		})
		return err
	}, UserKey(username), createdKey)
	if err != nil {
		return nil, r.wrap("TrackCreation", err)
	}
	return profile, nil
}

// AwardPoints credits points outside the completion flow. No completion
// record is written.
func (r *UserRepository) AwardPoints(ctx context.Context, username string, points int, reason string) (*user.Profile, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}
	if points < 0 {
		return nil, shared.ErrNegativePoints
	}

	var profile *user.Profile
	err := r.store.Transact(ctx, func(tx *redis.Tx) error {
		p, err := r.loadProfile(ctx, tx, username)
		if err != nil {
			return err
		}
		if err := p.AddPoints(points); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := queueJSON(ctx, pipe, UserKey(username), p); err != nil {
				return err
			}
			// Users without points stay off the board.
			if p.TotalPoints > 0 {
				pipe.ZAdd(ctx, GlobalLeaderboardKey(), redis.Z{Score: float64(p.TotalPoints), Member: username})
			}
			return nil
		})
		profile = p
		return err
	}, UserKey(username))
	if err != nil {
		return nil, r.wrap("AwardPoints", err)
	}

	if reason == "" {
		reason = "N/A"
	}
	r.log.Info("points awarded",
		logger.Username(username),
		logger.Points(points),
		logger.String("reason", reason),
		logger.Int("total_points", profile.TotalPoints),
	)
	return profile, nil
}

// GetCompletion returns the stored completion record or nil.
func (r *UserRepository) GetCompletion(ctx context.Context, username, expeditionID string) (*user.Completion, error) {
	var c user.Completion
	if err := r.store.GetJSON(ctx, UserCompletionKey(username, expeditionID), &c); err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, nil
		}
		return nil, shared.WrapStoreError(userDomain, "GetCompletion", err)
	}
	return &c, nil
}

// UnlockedIDs lists unlocked expedition ids in creation order.
func (r *UserRepository) UnlockedIDs(ctx context.Context, username string) ([]string, error) {
	return r.ids(ctx, "UnlockedIDs", UserUnlockedKey(username))
}

// CompletedIDs lists completed expedition ids in creation order.
func (r *UserRepository) CompletedIDs(ctx context.Context, username string) ([]string, error) {
	return r.ids(ctx, "CompletedIDs", UserCompletedKey(username))
}

// CreatedIDs lists authored expedition ids in creation order.
func (r *UserRepository) CreatedIDs(ctx context.Context, username string) ([]string, error) {
	return r.ids(ctx, "CreatedIDs", UserCreatedKey(username))
}

func (r *UserRepository) ids(ctx context.Context, op, key string) ([]string, error) {
	ids, err := r.store.HKeys(ctx, key)
	if err != nil {
		return nil, shared.WrapStoreError(userDomain, op, err)
	}
	expedition.SortIDs(ids)
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// loadProfile reads the profile through tx, initializing it when absent.
func (r *UserRepository) loadProfile(ctx context.Context, tx *redis.Tx, username string) (*user.Profile, error) {
	var p user.Profile
	err := getJSON(ctx, tx, UserKey(username), &p)
	if errors.Is(err, ErrMiss) {
		return user.NewProfile(username, r.now())
	}
	if err != nil {
		return nil, err
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	return &p, nil
}

func progressOf(ctx context.Context, tx *redis.Tx, username, expeditionID string) (user.Progress, error) {
	unlocked, err := tx.HExists(ctx, UserUnlockedKey(username), expeditionID).Result()
	if err != nil {
		return user.ProgressLocked, err
	}
	completed, err := tx.HExists(ctx, UserCompletedKey(username), expeditionID).Result()
	if err != nil {
		return user.ProgressLocked, err
	}
	return user.ProgressOf(unlocked, completed), nil
}

// wrap passes domain errors through and tags everything else as a store failure.
func (r *UserRepository) wrap(op string, err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.WrapStoreError(userDomain, op, err)
}
