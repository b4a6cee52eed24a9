package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// GetUserProfileResult is the profile plus the ids the user has progressed on.
type GetUserProfileResult struct {
	Profile              *user.Profile `json:"profile"`
	PointsToNextLevel    int           `json:"pointsToNextLevel"`
	UnlockedExpeditions  []string      `json:"unlockedExpeditions"`
	CompletedExpeditions []string      `json:"completedExpeditions"`
}

// GetUserProfileHandler returns a user's profile, creating it on first access.
type GetUserProfileHandler struct {
	users user.Repository
}

// NewGetUserProfileHandler creates a new GetUserProfileHandler.
func NewGetUserProfileHandler(deps Deps) *GetUserProfileHandler {
	return &GetUserProfileHandler{users: deps.Users}
}

// Handle executes the query.
func (h *GetUserProfileHandler) Handle(ctx context.Context, username string) (*GetUserProfileResult, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	profile, err := h.users.GetOrCreateProfile(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get_user_profile: %w", err)
	}

	unlocked, err := h.users.UnlockedIDs(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get_user_profile: %w", err)
	}
	completed, err := h.users.CompletedIDs(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get_user_profile: %w", err)
	}

	return &GetUserProfileResult{
		Profile:              profile,
		PointsToNextLevel:    user.PointsToNextLevel(profile.TotalPoints),
		UnlockedExpeditions:  unlocked,
		CompletedExpeditions: completed,
	}, nil
}

// CompletedExpedition pairs an expedition with the user's completion record.
type CompletedExpedition struct {
	Expedition *expedition.Expedition `json:"expedition"`
	Completion *user.Completion       `json:"completion"`
}

// GetUserExpeditionsResult groups a user's expeditions by relationship.
type GetUserExpeditionsResult struct {
	Created   []*expedition.Expedition `json:"created"`
	Unlocked  []*expedition.Expedition `json:"unlocked"`
	Completed []CompletedExpedition    `json:"completed"`
}

// GetUserExpeditionsHandler loads the expeditions a user created, unlocked and
// completed. The three groups are read concurrently.
type GetUserExpeditionsHandler struct {
	expeditions expedition.Repository
	users       user.Repository
}

// NewGetUserExpeditionsHandler creates a new GetUserExpeditionsHandler.
func NewGetUserExpeditionsHandler(deps Deps) *GetUserExpeditionsHandler {
	return &GetUserExpeditionsHandler{expeditions: deps.Expeditions, users: deps.Users}
}

// Handle executes the query. Ids whose record has disappeared are skipped.
func (h *GetUserExpeditionsHandler) Handle(ctx context.Context, username string) (*GetUserExpeditionsResult, error) {
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	res := &GetUserExpeditionsResult{
		Created:   []*expedition.Expedition{},
		Unlocked:  []*expedition.Expedition{},
		Completed: []CompletedExpedition{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		found, err := h.load(gctx, h.users.CreatedIDs, username)
		if err == nil {
			res.Created = found
		}
		return err
	})

	g.Go(func() error {
		found, err := h.load(gctx, h.users.UnlockedIDs, username)
		if err == nil {
			res.Unlocked = found
		}
		return err
	})

	g.Go(func() error {
		found, err := h.load(gctx, h.users.CompletedIDs, username)
		if err != nil {
			return err
		}
		completed := make([]CompletedExpedition, 0, len(found))
		for _, e := range found {
			c, err := h.users.GetCompletion(gctx, username, e.ID)
			if err != nil {
				return err
			}
			if c == nil {
				continue
			}
			completed = append(completed, CompletedExpedition{Expedition: e, Completion: c})
		}
		res.Completed = completed
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_user_expeditions: %w", err)
	}
	return res, nil
}

func (h *GetUserExpeditionsHandler) load(
	ctx context.Context,
	ids func(context.Context, string) ([]string, error),
	username string,
) ([]*expedition.Expedition, error) {
	list, err := ids(ctx, username)
	if err != nil {
		return nil, err
	}
	found, err := h.expeditions.GetMany(ctx, list)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []*expedition.Expedition{}
	}
	return found, nil
}
