package command

import (
	"context"
	"fmt"

	"github.com/subvoyager/subvoyager/config"
	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE EXPEDITION COMMAND
// Unlocked -> Completed. Credits the expedition's points to the user, the
// global leaderboard and (when enabled) the leaderboard of the city.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteExpeditionCommand contains the proof of visit.
type CompleteExpeditionCommand struct {
	Username     string
	ExpeditionID string

	// PhotoURL and Notes are optional.
	PhotoURL string
	Notes    string
}

// CompleteExpeditionResult contains the completion record and refreshed profile.
type CompleteExpeditionResult struct {
	Completion    *user.Completion
	Profile       *user.Profile
	PointsAwarded int
	Message       string
}

// CompleteExpeditionHandler handles CompleteExpeditionCommand.
type CompleteExpeditionHandler struct {
	deps Deps
}

// NewCompleteExpeditionHandler creates a new CompleteExpeditionHandler.
func NewCompleteExpeditionHandler(deps Deps) *CompleteExpeditionHandler {
	return &CompleteExpeditionHandler{deps: deps.withDefaults("complete_expedition")}
}

// Handle completes the expedition. Returns shared.ErrExpeditionNotFound,
// shared.ErrMustUnlockFirst or shared.ErrAlreadyCompleted on invalid requests.
func (h *CompleteExpeditionHandler) Handle(ctx context.Context, cmd CompleteExpeditionCommand) (*CompleteExpeditionResult, error) {
	if err := user.ValidateUsername(cmd.Username); err != nil {
		return nil, err
	}

	exp, err := h.deps.Expeditions.Get(ctx, cmd.ExpeditionID)
	if err != nil {
		return nil, fmt.Errorf("complete_expedition: %w", err)
	}
	if exp == nil {
		return nil, shared.ErrExpeditionNotFound
	}

	now := h.deps.Clock()
	var photo *expedition.Photo
	if cmd.PhotoURL != "" {
		photo = &expedition.Photo{URL: cmd.PhotoURL, UploadedAt: expedition.FormatTime(now)}
	}
	completion := user.NewCompletion(cmd.Username, exp, photo, cmd.Notes, now)

	var profile *user.Profile
	steps := []step{
		{"complete", func(ctx context.Context) error {
			p, err := h.deps.Users.Complete(ctx, cmd.Username, exp.ID, completion)
			profile = p
			return err
		}},
		{"increment_completions", func(ctx context.Context) error {
			return h.deps.Expeditions.IncrementCompletions(ctx, exp.ID)
		}},
	}
	if h.deps.Features.IsEnabled(config.FeatureLeaderboardCity, &config.FeatureContext{Username: cmd.Username}) {
		steps = append(steps, step{"city_leaderboard", func(ctx context.Context) error {
			return h.deps.Users.AddCityPoints(ctx, exp.Location.City, cmd.Username, completion.PointsAwarded)
		}})
	}

	seq := newSequence("complete_expedition", h.deps.Logger, h.deps.Metrics)
	if err := seq.run(ctx, steps...); err != nil {
		return nil, err
	}

	h.deps.Metrics.completed(string(exp.Difficulty), completion.PointsAwarded)
	h.deps.Logger.Info("expedition completed",
		logger.ExpeditionID(exp.ID),
		logger.Username(cmd.Username),
		logger.Points(completion.PointsAwarded),
		logger.Int("level", profile.Level),
	)

	return &CompleteExpeditionResult{
		Completion:    completion,
		Profile:       profile,
		PointsAwarded: completion.PointsAwarded,
		Message:       fmt.Sprintf("Expedition completed! You earned %d points!", completion.PointsAwarded),
	}, nil
}
