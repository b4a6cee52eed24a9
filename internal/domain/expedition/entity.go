// Package expedition contains the Expedition domain model: points of interest
// that users discover, unlock and complete. The package has no infrastructure
// dependencies; persistence lives in infrastructure/persistence.
package expedition

import (
	"fmt"
	"strings"
	"time"

	"github.com/subvoyager/subvoyager/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Tag is the category label of an expedition.
type Tag string

const (
	TagFood      Tag = "food"
	TagPhotoSpot Tag = "photo-spot"
	TagCulture   Tag = "culture"
	TagWalk      Tag = "walk"
	TagNature    Tag = "nature"
	TagHiddenGem Tag = "hidden-gem"
)

// Tags lists every known tag.
var Tags = []Tag{TagFood, TagPhotoSpot, TagCulture, TagWalk, TagNature, TagHiddenGem}

// IsValid reports whether t is a known tag.
func (t Tag) IsValid() bool {
	for _, known := range Tags {
		if t == known {
			return true
		}
	}
	return false
}

// Difficulty determines the fixed point value of an expedition.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// Points returns the points awarded for completing an expedition of this
// difficulty: easy=10, medium=20, hard=30. Unknown difficulties score 30,
// matching the fallthrough of the original scoring rule.
func (d Difficulty) Points() int {
	switch d {
	case DifficultyEasy:
		return 10
	case DifficultyMedium:
		return 20
	default:
		return 30
	}
}

// Status is the moderation state of an expedition.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Statuses lists every status, in lifecycle order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsValid reports whether the coordinates are within range.
func (c Coordinates) IsValid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Location describes where an expedition is.
type Location struct {
	Coordinates Coordinates `json:"coordinates"`
	Address     string      `json:"address"`
	City        string      `json:"city"`
	Region      string      `json:"region,omitempty"`
	Country     string      `json:"country"`
}

// Photo is an image reference. The URL may be a data URI.
type Photo struct {
	URL        string `json:"url"`
	Caption    string `json:"caption,omitempty"`
	UploadedAt string `json:"uploadedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: EXPEDITION
// ══════════════════════════════════════════════════════════════════════════════

// Expedition is a point of interest users can discover, unlock and complete.
// It is persisted as a flat JSON document; field names are part of the wire format.
type Expedition struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Location        Location   `json:"location"`
	Photo           Photo      `json:"photo"`
	Tag             Tag        `json:"tag"`
	Difficulty      Difficulty `json:"difficulty"`
	Status          Status     `json:"status"`
	CreatedBy       string     `json:"createdBy"`
	CreatedAt       string     `json:"createdAt"`
	ApprovedAt      string     `json:"approvedAt,omitempty"`
	ApprovedBy      string     `json:"approvedBy,omitempty"`
	Points          int        `json:"points"`
	CompletionCount int        `json:"completionCount"`
	UnlockCount     int        `json:"unlockCount"`
}

// NewExpeditionParams carries the caller-supplied fields of a new expedition.
type NewExpeditionParams struct {
	ID          string
	Title       string
	Description string
	Coordinates Coordinates
	Address     string
	City        string
	Country     string
	PhotoURL    string
	Tag         Tag
	Difficulty  Difficulty
	CreatedBy   string
	AutoApprove bool
	Now         time.Time
}

// Validate checks required fields and enum values.
func (p NewExpeditionParams) Validate() error {
	if strings.TrimSpace(p.Title) == "" ||
		strings.TrimSpace(p.Description) == "" ||
		strings.TrimSpace(p.Address) == "" ||
		strings.TrimSpace(p.City) == "" ||
		p.PhotoURL == "" ||
		p.Tag == "" ||
		p.Difficulty == "" ||
		p.CreatedBy == "" {
		return shared.ErrMissingFields
	}
	if !p.Tag.IsValid() {
		return shared.WrapError("expedition", "Validate", shared.ErrValidation,
			fmt.Sprintf("invalid tag %q", p.Tag), shared.ErrInvalidTag)
	}
	if !p.Difficulty.IsValid() {
		return shared.WrapError("expedition", "Validate", shared.ErrValidation,
			fmt.Sprintf("invalid difficulty %q", p.Difficulty), shared.ErrInvalidDifficulty)
	}
	if !p.Coordinates.IsValid() {
		return shared.ErrInvalidCoordinates
	}
	return nil
}

// New builds an expedition with derived fields: points from difficulty, zeroed
// counters and status pending (or approved when AutoApprove is set).
func New(p NewExpeditionParams) (*Expedition, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	now := FormatTime(p.Now)

	e := &Expedition{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Location: Location{
			Coordinates: p.Coordinates,
			Address:     p.Address,
			City:        p.City,
			Country:     p.Country,
		},
		Photo: Photo{
			URL:        p.PhotoURL,
			UploadedAt: now,
		},
		Tag:        p.Tag,
		Difficulty: p.Difficulty,
		Status:     StatusPending,
		CreatedBy:  p.CreatedBy,
		CreatedAt:  now,
		Points:     p.Difficulty.Points(),
	}
	if p.AutoApprove {
		e.Status = StatusApproved
		e.ApprovedAt = now
		e.ApprovedBy = p.CreatedBy
	}
	return e, nil
}

// Approve moves the expedition to approved and stamps the moderator.
func (e *Expedition) Approve(by string, at time.Time) {
	e.Status = StatusApproved
	e.ApprovedAt = FormatTime(at)
	e.ApprovedBy = by
}

// Reject moves the expedition to rejected.
func (e *Expedition) Reject() {
	e.Status = StatusRejected
	e.ApprovedAt = ""
	e.ApprovedBy = ""
}

// IsApproved reports whether the expedition is visible to explorers.
func (e *Expedition) IsApproved() bool {
	return e.Status == StatusApproved
}

// FormatTime renders timestamps the way they are stored: RFC3339 in UTC with
// millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
