package command

import (
	"context"

	"github.com/subvoyager/subvoyager/internal/domain/user"
)

// AwardPointsCommand grants points outside the completion flow.
type AwardPointsCommand struct {
	Username string
	Points   int
	Reason   string
}

// AwardPointsResult contains the updated profile.
type AwardPointsResult struct {
	Profile *user.Profile
}

// AwardPointsHandler handles AwardPointsCommand.
type AwardPointsHandler struct {
	deps Deps
}

// NewAwardPointsHandler creates a new AwardPointsHandler.
func NewAwardPointsHandler(deps Deps) *AwardPointsHandler {
	return &AwardPointsHandler{deps: deps.withDefaults("award_points")}
}

// Handle credits the points. Negative amounts are rejected with
// shared.ErrNegativePoints; the repository logs the grant.
func (h *AwardPointsHandler) Handle(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	if err := user.ValidateUsername(cmd.Username); err != nil {
		return nil, err
	}

	profile, err := h.deps.Users.AwardPoints(ctx, cmd.Username, cmd.Points, cmd.Reason)
	if err != nil {
		return nil, err
	}

	h.deps.Metrics.granted(cmd.Points)
	return &AwardPointsResult{Profile: profile}, nil
}
