package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODERATE EXPEDITION COMMAND
// Moves an expedition to approved or rejected. Only approved expeditions appear
// in city/tag listings, nearby results and default searches.
// ══════════════════════════════════════════════════════════════════════════════

// Decision is a moderation outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ModerateExpeditionCommand contains the moderation decision.
type ModerateExpeditionCommand struct {
	ExpeditionID string
	Moderator    string
	Decision     Decision
}

// Validate validates the command.
func (c ModerateExpeditionCommand) Validate() error {
	if strings.TrimSpace(c.ExpeditionID) == "" || strings.TrimSpace(c.Moderator) == "" {
		return shared.NewDomainError("expedition", "Moderate", shared.ErrValidation,
			"expedition id and moderator are required")
	}
	switch c.Decision {
	case DecisionApprove, DecisionReject:
		return nil
	default:
		return shared.NewDomainError("expedition", "Moderate", shared.ErrValidation,
			fmt.Sprintf("unknown decision %q", c.Decision))
	}
}

// ModerateExpeditionResult contains the moderated expedition.
type ModerateExpeditionResult struct {
	Expedition *expedition.Expedition
}

// ModerateExpeditionHandler handles ModerateExpeditionCommand.
type ModerateExpeditionHandler struct {
	deps Deps
}

// NewModerateExpeditionHandler creates a new ModerateExpeditionHandler.
func NewModerateExpeditionHandler(deps Deps) *ModerateExpeditionHandler {
	return &ModerateExpeditionHandler{deps: deps.withDefaults("moderate_expedition")}
}

// Handle applies the decision. Returns shared.ErrExpeditionNotFound when the
// expedition does not exist.
func (h *ModerateExpeditionHandler) Handle(ctx context.Context, cmd ModerateExpeditionCommand) (*ModerateExpeditionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var (
		found bool
		err   error
	)
	if cmd.Decision == DecisionApprove {
		found, err = h.deps.Expeditions.Approve(ctx, cmd.ExpeditionID, cmd.Moderator)
	} else {
		found, err = h.deps.Expeditions.Reject(ctx, cmd.ExpeditionID, cmd.Moderator)
	}
	if err != nil {
		return nil, fmt.Errorf("moderate_expedition: %w", err)
	}
	if !found {
		return nil, shared.ErrExpeditionNotFound
	}

	exp, err := h.deps.Expeditions.Get(ctx, cmd.ExpeditionID)
	if err != nil {
		return nil, fmt.Errorf("moderate_expedition: reload: %w", err)
	}
	if exp == nil {
		return nil, shared.ErrExpeditionNotFound
	}

	h.deps.Metrics.moderated(string(cmd.Decision))
	h.deps.Logger.Info("expedition moderated",
		logger.ExpeditionID(exp.ID),
		logger.String("decision", string(cmd.Decision)),
		logger.String("moderator", cmd.Moderator),
	)

	return &ModerateExpeditionResult{Expedition: exp}, nil
}
