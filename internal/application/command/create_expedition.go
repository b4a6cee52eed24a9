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
// CREATE EXPEDITION COMMAND
// A user submits a new point of interest. It enters the moderation queue as
// pending unless auto-approval is switched on for the deployment.
// ══════════════════════════════════════════════════════════════════════════════

// CreateExpeditionCommand contains the submitted expedition.
type CreateExpeditionCommand struct {
	Username    string
	Title       string
	Description string

	// Coordinates is required; nil means the client did not send it.
	Coordinates *expedition.Coordinates

	Address string
	City    string

	// PhotoURL is stored as-is (usually a data URL).
	PhotoURL string

	Tag        expedition.Tag
	Difficulty expedition.Difficulty
}

// CreateExpeditionResult contains the stored expedition.
type CreateExpeditionResult struct {
	Expedition *expedition.Expedition
}

// CreateExpeditionHandler handles CreateExpeditionCommand.
type CreateExpeditionHandler struct {
	deps           Deps
	defaultCountry string
}

// NewCreateExpeditionHandler creates a new CreateExpeditionHandler.
// New expeditions are stamped with defaultCountry.
func NewCreateExpeditionHandler(deps Deps, defaultCountry string) *CreateExpeditionHandler {
	if defaultCountry == "" {
		defaultCountry = "India"
	}
	return &CreateExpeditionHandler{
		deps:           deps.withDefaults("create_expedition"),
		defaultCountry: defaultCountry,
	}
}

// Handle validates the submission, allocates an id, stores the expedition and
// credits the author.
func (h *CreateExpeditionHandler) Handle(ctx context.Context, cmd CreateExpeditionCommand) (*CreateExpeditionResult, error) {
	if err := user.ValidateUsername(cmd.Username); err != nil {
		return nil, err
	}
	if cmd.Coordinates == nil {
		return nil, shared.ErrMissingFields
	}

	params := expedition.NewExpeditionParams{
		Title:       cmd.Title,
		Description: cmd.Description,
		Coordinates: *cmd.Coordinates,
		Address:     cmd.Address,
		City:        cmd.City,
		Country:     h.defaultCountry,
		PhotoURL:    cmd.PhotoURL,
		Tag:         cmd.Tag,
		Difficulty:  cmd.Difficulty,
		CreatedBy:   cmd.Username,
		AutoApprove: h.deps.Features.IsEnabled(config.FeatureModerationAutoApprove,
			&config.FeatureContext{Username: cmd.Username}),
		Now: h.deps.Clock(),
	}

	// Reject bad input before burning an id.
	if err := params.Validate(); err != nil {
		return nil, err
	}

	id, err := h.deps.Expeditions.GenerateID(ctx)
	if err != nil {
		return nil, fmt.Errorf("create_expedition: generate id: %w", err)
	}
	params.ID = id

	exp, err := expedition.New(params)
	if err != nil {
		return nil, err
	}

	seq := newSequence("create_expedition", h.deps.Logger, h.deps.Metrics)
	err = seq.run(ctx,
		step{"create", func(ctx context.Context) error {
			return h.deps.Expeditions.Create(ctx, exp)
		}},
		step{"track_creation", func(ctx context.Context) error {
			_, err := h.deps.Users.TrackCreation(ctx, cmd.Username, exp.ID)
			return err
		}},
	)
	if err != nil {
		return nil, err
	}

	h.deps.Metrics.created(string(exp.Status))
	h.deps.Logger.Info("expedition created",
		logger.ExpeditionID(exp.ID),
		logger.Username(cmd.Username),
		logger.City(exp.Location.City),
		logger.String("status", string(exp.Status)),
		logger.Points(exp.Points),
	)

	return &CreateExpeditionResult{Expedition: exp}, nil
}
