package query

import (
	"context"
	"fmt"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
)

// NearbyExpeditionsQuery searches approved expeditions around a point.
type NearbyExpeditionsQuery struct {
	Lat float64
	Lng float64

	// RadiusKm is nil when the caller gave no radius; it then defaults to
	// expedition.DefaultRadiusKm. Zero matches the exact point only.
	RadiusKm *float64

	// Limit <= 0 returns every match.
	Limit int
}

// NearbyExpeditionsResult lists matches, closest first.
type NearbyExpeditionsResult struct {
	Expeditions []expedition.WithDistance `json:"expeditions"`
	RadiusKm    float64                   `json:"radiusKm"`
}

// NearbyExpeditionsHandler handles NearbyExpeditionsQuery.
type NearbyExpeditionsHandler struct {
	expeditions expedition.Repository
}

// NewNearbyExpeditionsHandler creates a new NearbyExpeditionsHandler.
func NewNearbyExpeditionsHandler(deps Deps) *NearbyExpeditionsHandler {
	return &NearbyExpeditionsHandler{expeditions: deps.Expeditions}
}

// Handle executes the query.
func (h *NearbyExpeditionsHandler) Handle(ctx context.Context, q NearbyExpeditionsQuery) (*NearbyExpeditionsResult, error) {
	origin := expedition.Coordinates{Lat: q.Lat, Lng: q.Lng}
	if !origin.IsValid() {
		return nil, invalid("coordinates out of range")
	}
	radius := expedition.DefaultRadiusKm
	if q.RadiusKm != nil {
		radius = *q.RadiusKm
	}
	if radius < 0 {
		return nil, invalid("radius cannot be negative")
	}

	found, err := h.expeditions.Nearby(ctx, origin, radius, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("nearby_expeditions: %w", err)
	}
	if found == nil {
		found = []expedition.WithDistance{}
	}

	return &NearbyExpeditionsResult{Expeditions: found, RadiusKm: radius}, nil
}
