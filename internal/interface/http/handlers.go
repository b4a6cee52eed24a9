package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/subvoyager/subvoyager/config"
	"github.com/subvoyager/subvoyager/internal/application/command"
	"github.com/subvoyager/subvoyager/internal/application/query"
	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
	"github.com/subvoyager/subvoyager/pkg/circuitbreaker"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "SubVoyager API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"init":        "/api/v1/init",
			"expeditions": "/api/v1/expeditions",
			"nearby":      "/api/v1/expeditions/nearby",
			"profile":     "/api/v1/user/profile",
			"leaderboard": "/api/v1/leaderboard",
			"stats":       "/api/v1/stats",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPEDITION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// createExpeditionRequest is the body of POST /api/v1/expeditions.
type createExpeditionRequest struct {
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Coordinates *expedition.Coordinates `json:"coordinates"`
	Address     string                  `json:"address"`
	City        string                  `json:"city"`
	Photo       string                  `json:"photo"`
	Tag         expedition.Tag          `json:"tag"`
	Difficulty  expedition.Difficulty   `json:"difficulty"`
}

// handleCreateExpedition handles POST /api/v1/expeditions
func (s *Server) handleCreateExpedition(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req createExpeditionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.CreateExpedition.Handle(r.Context(), command.CreateExpeditionCommand{
		Username:    username,
		Title:       req.Title,
		Description: req.Description,
		Coordinates: req.Coordinates,
		Address:     req.Address,
		City:        req.City,
		PhotoURL:    req.Photo,
		Tag:         req.Tag,
		Difficulty:  req.Difficulty,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to create expedition")
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]interface{}{
		"expedition": res.Expedition,
	})
}

// handleListExpeditions handles GET /api/v1/expeditions
func (s *Server) handleListExpeditions(w http.ResponseWriter, r *http.Request) {
	q := query.ListExpeditionsQuery{
		City:   r.URL.Query().Get("city"),
		Tag:    expedition.Tag(r.URL.Query().Get("tag")),
		Status: expedition.Status(r.URL.Query().Get("status")),
		Limit:  getQueryParamInt(r, "limit", query.DefaultListLimit),
		Offset: getQueryParamInt(r, "offset", 0),
	}

	if (q.City != "" || q.Tag != "") && !s.featureEnabled(r, config.FeatureExpeditionsSearch) {
		writeJSONError(w, r, http.StatusForbidden, "feature_disabled", "Filtering expeditions is disabled")
		return
	}

	res, err := s.deps.ListExpeditions.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err, "Failed to list expeditions")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{
		TotalCount: res.Total,
		HasMore:    res.HasMore,
	})
}

// handleNearbyExpeditions handles GET /api/v1/expeditions/nearby
func (s *Server) handleNearbyExpeditions(w http.ResponseWriter, r *http.Request) {
	if !s.featureEnabled(r, config.FeatureExpeditionsNearby) {
		writeJSONError(w, r, http.StatusForbidden, "feature_disabled", "Nearby search is disabled")
		return
	}

	lat, okLat := getQueryParamFloat(r, "lat")
	lng, okLng := getQueryParamFloat(r, "lng")
	if !okLat || !okLng {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "lat and lng are required")
		return
	}
	q := query.NearbyExpeditionsQuery{
		Lat:   lat,
		Lng:   lng,
		Limit: getQueryParamInt(r, "limit", 0),
	}
	if radius, ok := getQueryParamFloat(r, "radius"); ok {
		q.RadiusKm = &radius
	}

	res, err := s.deps.NearbyExpeditions.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err, "Failed to search nearby expeditions")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: len(res.Expeditions)})
}

// handleGetExpedition handles GET /api/v1/expeditions/{id}. The identity
// header is optional here.
func (s *Server) handleGetExpedition(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.GetExpedition.Handle(r.Context(), query.GetExpeditionQuery{
		ID:       r.PathValue("id"),
		Username: s.username(r),
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch expedition")
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handleUnlockExpedition handles POST /api/v1/expeditions/{id}/unlock
func (s *Server) handleUnlockExpedition(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	res, err := s.deps.UnlockExpedition.Handle(r.Context(), command.UnlockExpeditionCommand{
		Username:     username,
		ExpeditionID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to unlock expedition")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"expedition":  res.Expedition,
		"userProfile": res.Profile,
		"message":     res.Message,
	})
}

// completeExpeditionRequest is the body of POST /api/v1/expeditions/{id}/complete.
type completeExpeditionRequest struct {
	Photo string `json:"photo"`
	Notes string `json:"notes"`
}

// handleCompleteExpedition handles POST /api/v1/expeditions/{id}/complete
func (s *Server) handleCompleteExpedition(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req completeExpeditionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.CompleteExpedition.Handle(r.Context(), command.CompleteExpeditionCommand{
		Username:     username,
		ExpeditionID: r.PathValue("id"),
		PhotoURL:     req.Photo,
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to complete expedition")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"completion":    res.Completion,
		"userProfile":   res.Profile,
		"pointsAwarded": res.PointsAwarded,
		"message":       res.Message,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// USER & LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleInit handles GET /api/v1/init: the first call a client makes, which
// creates the profile on demand.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	res, err := s.deps.GetUserProfile.Handle(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err, "Failed to initialize")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"username":    username,
		"userProfile": res.Profile,
	})
}

// handleUserProfile handles GET /api/v1/user/profile
func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	res, err := s.deps.GetUserProfile.Handle(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch user profile")
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handleUserExpeditions handles GET /api/v1/user/expeditions
func (s *Server) handleUserExpeditions(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	res, err := s.deps.GetUserExpeditions.Handle(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch user expeditions")
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handleLeaderboard handles GET /api/v1/leaderboard?city=&limit=
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := query.GetLeaderboardQuery{
		City:     r.URL.Query().Get("city"),
		Limit:    getQueryParamInt(r, "limit", 0),
		Username: s.username(r),
	}

	if q.City != "" && !s.featureEnabled(r, config.FeatureLeaderboardCity) {
		writeJSONError(w, r, http.StatusForbidden, "feature_disabled", "City leaderboards are disabled")
		return
	}

	res, err := s.deps.GetLeaderboard.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch leaderboard")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: len(res.Leaderboard)})
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Stats.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err, "Failed to fetch stats")
		return
	}

	writeJSON(w, r, http.StatusOK, stats)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// moderate returns the handler for one moderation decision.
func (s *Server) moderate(decision command.Decision) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		moderator := s.username(r)
		if moderator == "" {
			moderator = "admin"
		}

		res, err := s.deps.ModerateExpedition.Handle(r.Context(), command.ModerateExpeditionCommand{
			ExpeditionID: r.PathValue("id"),
			Moderator:    moderator,
			Decision:     decision,
		})
		if err != nil {
			s.writeError(w, r, err, "Failed to moderate expedition")
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"expedition": res.Expedition,
		})
	})
}

// awardPointsRequest is the body of POST /api/v1/admin/users/{username}/points.
type awardPointsRequest struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// handleAwardPoints handles POST /api/v1/admin/users/{username}/points
func (s *Server) handleAwardPoints(w http.ResponseWriter, r *http.Request) {
	var req awardPointsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.AwardPoints.Handle(r.Context(), command.AwardPointsCommand{
		Username: r.PathValue("username"),
		Points:   req.Points,
		Reason:   req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to award points")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"userProfile": res.Profile,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// username returns the caller's identity, or "" when the header is absent.
func (s *Server) username(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.config.UserHeader))
}

// requireUser writes a 401 and returns false when the caller is anonymous.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := s.username(r)
	if username == "" {
		s.writeError(w, r, shared.ErrNotAuthenticated, "")
		return "", false
	}
	return username, true
}

func (s *Server) featureEnabled(r *http.Request, name string) bool {
	return s.deps.Features.IsEnabled(name, &config.FeatureContext{Username: s.username(r)})
}

// decodeBody decodes a JSON body, writing a 400 or 413 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return false
	}
	return true
}

// writeError maps a domain error onto a status code. An open store breaker
// becomes 503; other store and unexpected errors become 500 with the
// fallback message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", shared.Message(err))
	case shared.IsUnauthorized(err):
		writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", shared.Message(err))
	case shared.IsInvalidState(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_state", shared.Message(err))
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", shared.Message(err))
	case errors.Is(err, circuitbreaker.ErrOpen):
		w.Header().Set("Retry-After", "5")
		writeJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable", "Storage is temporarily unavailable")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
		)
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", fallback)
	}
}
