package command

import (
	"context"
	"fmt"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK EXPEDITION COMMAND
// Locked -> Unlocked. Reveals the exact location to the user.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockMessage is shown to the user after a successful unlock.
const UnlockMessage = "Expedition unlocked successfully!"

// UnlockExpeditionCommand identifies the pair to unlock.
type UnlockExpeditionCommand struct {
	Username     string
	ExpeditionID string
}

// UnlockExpeditionResult contains the refreshed profile.
type UnlockExpeditionResult struct {
	Expedition *expedition.Expedition
	Profile    *user.Profile
	Message    string
}

// UnlockExpeditionHandler handles UnlockExpeditionCommand.
type UnlockExpeditionHandler struct {
	deps Deps
}

// NewUnlockExpeditionHandler creates a new UnlockExpeditionHandler.
func NewUnlockExpeditionHandler(deps Deps) *UnlockExpeditionHandler {
	return &UnlockExpeditionHandler{deps: deps.withDefaults("unlock_expedition")}
}

// Handle unlocks the expedition. Returns shared.ErrExpeditionNotFound or
// shared.ErrAlreadyUnlocked on invalid requests.
func (h *UnlockExpeditionHandler) Handle(ctx context.Context, cmd UnlockExpeditionCommand) (*UnlockExpeditionResult, error) {
	if err := user.ValidateUsername(cmd.Username); err != nil {
		return nil, err
	}

	exp, err := h.deps.Expeditions.Get(ctx, cmd.ExpeditionID)
	if err != nil {
		return nil, fmt.Errorf("unlock_expedition: %w", err)
	}
	if exp == nil {
		return nil, shared.ErrExpeditionNotFound
	}

	var profile *user.Profile
	seq := newSequence("unlock_expedition", h.deps.Logger, h.deps.Metrics)
	err = seq.run(ctx,
		step{"unlock", func(ctx context.Context) error {
			p, err := h.deps.Users.Unlock(ctx, cmd.Username, exp.ID)
			profile = p
			return err
		}},
		step{"increment_unlocks", func(ctx context.Context) error {
			return h.deps.Expeditions.IncrementUnlocks(ctx, exp.ID)
		}},
	)
	if err != nil {
		return nil, err
	}
	exp.UnlockCount++

	h.deps.Metrics.unlocked()
	h.deps.Logger.Info("expedition unlocked",
		logger.ExpeditionID(exp.ID),
		logger.Username(cmd.Username),
	)

	return &UnlockExpeditionResult{
		Expedition: exp,
		Profile:    profile,
		Message:    UnlockMessage,
	}, nil
}
