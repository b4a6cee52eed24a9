package query

import (
	"context"
	"fmt"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST EXPEDITIONS QUERY
// Browses expeditions filtered by city, tag and status. One extra record is
// fetched to tell whether another page exists.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultListLimit is used when the caller passes no limit.
const DefaultListLimit = 50

// MaxListLimit caps a single page.
const MaxListLimit = 200

// ListExpeditionsQuery contains the filters.
type ListExpeditionsQuery struct {
	City string
	Tag  expedition.Tag

	// Status defaults to approved.
	Status expedition.Status

	Limit  int
	Offset int
}

// Validate normalizes defaults and rejects bad input.
func (q *ListExpeditionsQuery) Validate() error {
	if q.Limit < 0 {
		return invalid("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		return invalid("offset cannot be negative")
	}
	if q.Status == "" {
		q.Status = expedition.StatusApproved
	}
	if !q.Status.IsValid() {
		return invalid(fmt.Sprintf("unknown status %q", q.Status))
	}
	if q.Tag != "" && !q.Tag.IsValid() {
		return invalid(fmt.Sprintf("unknown tag %q", q.Tag))
	}
	return nil
}

// ListExpeditionsResult is one page of expeditions.
type ListExpeditionsResult struct {
	Expeditions []*expedition.Expedition `json:"expeditions"`
	Total       int                      `json:"total"`
	HasMore     bool                     `json:"hasMore"`
}

// ListExpeditionsHandler handles ListExpeditionsQuery.
type ListExpeditionsHandler struct {
	expeditions expedition.Repository
}

// NewListExpeditionsHandler creates a new ListExpeditionsHandler.
func NewListExpeditionsHandler(deps Deps) *ListExpeditionsHandler {
	return &ListExpeditionsHandler{expeditions: deps.Expeditions}
}

// Handle executes the query. Total is the size of the returned page.
func (h *ListExpeditionsHandler) Handle(ctx context.Context, q ListExpeditionsQuery) (*ListExpeditionsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	found, err := h.expeditions.Search(ctx, expedition.SearchParams{
		City:   q.City,
		Tag:    q.Tag,
		Status: q.Status,
		Limit:  q.Limit + 1,
		Offset: q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list_expeditions: %w", err)
	}

	hasMore := len(found) > q.Limit
	if hasMore {
		found = found[:q.Limit]
	}
	if found == nil {
		found = []*expedition.Expedition{}
	}

	return &ListExpeditionsResult{
		Expeditions: found,
		Total:       len(found),
		HasMore:     hasMore,
	}, nil
}
