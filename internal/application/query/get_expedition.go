package query

import (
	"context"
	"fmt"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/internal/domain/user"
)

// GetExpeditionQuery fetches one expedition. Username is optional; without it
// the progress flags are false.
type GetExpeditionQuery struct {
	ID       string
	Username string
}

// GetExpeditionResult is the expedition plus the caller's progress on it.
type GetExpeditionResult struct {
	Expedition  *expedition.Expedition `json:"expedition"`
	IsUnlocked  bool                   `json:"isUnlocked"`
	IsCompleted bool                   `json:"isCompleted"`
}

// GetExpeditionHandler handles GetExpeditionQuery.
type GetExpeditionHandler struct {
	expeditions expedition.Repository
	users       user.Repository
}

// NewGetExpeditionHandler creates a new GetExpeditionHandler.
func NewGetExpeditionHandler(deps Deps) *GetExpeditionHandler {
	return &GetExpeditionHandler{expeditions: deps.Expeditions, users: deps.Users}
}

// Handle returns shared.ErrExpeditionNotFound when the id is unknown. Status is
// not filtered, so authors can open their own pending submissions.
func (h *GetExpeditionHandler) Handle(ctx context.Context, q GetExpeditionQuery) (*GetExpeditionResult, error) {
	exp, err := h.expeditions.Get(ctx, q.ID)
	if err != nil {
		return nil, fmt.Errorf("get_expedition: %w", err)
	}
	if exp == nil {
		return nil, shared.ErrExpeditionNotFound
	}

	res := &GetExpeditionResult{Expedition: exp}
	if q.Username == "" {
		return res, nil
	}

	if res.IsUnlocked, err = h.users.HasUnlocked(ctx, q.Username, exp.ID); err != nil {
		return nil, fmt.Errorf("get_expedition: %w", err)
	}
	if res.IsCompleted, err = h.users.HasCompleted(ctx, q.Username, exp.ID); err != nil {
		return nil, fmt.Errorf("get_expedition: %w", err)
	}
	return res, nil
}
