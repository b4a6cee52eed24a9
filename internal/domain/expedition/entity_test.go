package expedition

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subvoyager/subvoyager/internal/domain/shared"
)

func validParams() NewExpeditionParams {
	return NewExpeditionParams{
		ID:          "exp_000001",
		Title:       "Vada pav at Ashok",
		Description: "The original stall near Kirti College",
		Coordinates: Coordinates{Lat: 19.0176, Lng: 72.8301},
		Address:     "Kashinath Dhuru Marg, Dadar West",
		City:        "Mumbai",
		Country:     "India",
		PhotoURL:    "data:image/png;base64,AAAA",
		Tag:         TagFood,
		Difficulty:  DifficultyMedium,
		CreatedBy:   "ravi",
		Now:         time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestDifficulty_Points(t *testing.T) {
	assert.Equal(t, 10, DifficultyEasy.Points())
	assert.Equal(t, 20, DifficultyMedium.Points())
	assert.Equal(t, 30, DifficultyHard.Points())
	assert.Equal(t, 30, Difficulty("extreme").Points())
}

func TestNew_DerivedFields(t *testing.T) {
	e, err := New(validParams())
	require.NoError(t, err)

	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 20, e.Points)
	assert.Zero(t, e.UnlockCount)
	assert.Zero(t, e.CompletionCount)
	assert.Equal(t, "2025-03-01T10:30:00.000Z", e.CreatedAt)
	assert.Equal(t, e.CreatedAt, e.Photo.UploadedAt)
	assert.Empty(t, e.ApprovedAt)
}

func TestNew_AutoApprove(t *testing.T) {
	p := validParams()
	p.AutoApprove = true

	e, err := New(p)
	require.NoError(t, err)

	assert.True(t, e.IsApproved())
	assert.Equal(t, "ravi", e.ApprovedBy)
	assert.Equal(t, e.CreatedAt, e.ApprovedAt)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewExpeditionParams)
		target error
	}{
		{"missing title", func(p *NewExpeditionParams) { p.Title = " " }, shared.ErrMissingFields},
		{"missing city", func(p *NewExpeditionParams) { p.City = "" }, shared.ErrMissingFields},
		{"missing photo", func(p *NewExpeditionParams) { p.PhotoURL = "" }, shared.ErrMissingFields},
		{"bad tag", func(p *NewExpeditionParams) { p.Tag = "nightlife" }, shared.ErrInvalidTag},
		{"bad difficulty", func(p *NewExpeditionParams) { p.Difficulty = "extreme" }, shared.ErrInvalidDifficulty},
		{"bad coordinates", func(p *NewExpeditionParams) { p.Coordinates.Lat = 91 }, shared.ErrInvalidCoordinates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			_, err := New(p)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestApproveReject(t *testing.T) {
	e, err := New(validParams())
	require.NoError(t, err)

	e.Approve("mod", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusApproved, e.Status)
	assert.Equal(t, "mod", e.ApprovedBy)
	assert.Equal(t, "2025-03-02T00:00:00.000Z", e.ApprovedAt)

	e.Reject()
	assert.Equal(t, StatusRejected, e.Status)
	assert.Empty(t, e.ApprovedBy)
}

func TestExpedition_JSONFieldNames(t *testing.T) {
	e, err := New(validParams())
	require.NoError(t, err)

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	for _, key := range []string{"id", "title", "location", "photo", "tag", "difficulty",
		"status", "createdBy", "createdAt", "points", "completionCount", "unlockCount"} {
		assert.Contains(t, doc, key)
	}
	assert.NotContains(t, doc, "approvedAt")

	loc := doc["location"].(map[string]any)
	coords := loc["coordinates"].(map[string]any)
	assert.Equal(t, 19.0176, coords["lat"])
}

func TestPage_Apply(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}

	assert.Equal(t, []string{"b", "c"}, Page{Limit: 2, Offset: 1}.Apply(ids))
	assert.Equal(t, []string{"c", "d"}, Page{Limit: 5, Offset: 2}.Apply(ids))
	assert.Equal(t, ids, Page{}.Apply(ids))
	assert.Empty(t, Page{Limit: 2, Offset: 10}.Apply(ids))
}

func TestSortIDs_Numeric(t *testing.T) {
	ids := []string{FormatID(10), FormatID(2), "legacy", FormatID(1000000), FormatID(1)}
	SortIDs(ids)

	assert.Equal(t, []string{"exp_000001", "exp_000002", "exp_000010", "exp_1000000", "legacy"}, ids)
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []string{"b", "d"}, Intersect([]string{"a", "b", "d"}, []string{"d", "b", "c"}))
	assert.Empty(t, Intersect([]string{"a"}, nil))
}
