package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairFillsDefaults(t *testing.T) {
	policy := DefaultRepairPolicy()
	s := &Session{ID: "legacy", Topic: "database tuning", Status: StatusActive}

	changed := policy.Repair(s)
	require.True(t, changed)

	pg := s.Pagination
	require.NotNil(t, pg)
	assert.Equal(t, 2, pg.TurnsPerPage)
	assert.Equal(t, 5, pg.MaxTurns)
	require.NotNil(t, pg.Paginate)
	assert.True(t, *pg.Paginate)
	assert.Equal(t, "grok-code-fast", pg.Model)
	assert.Equal(t, 180000, pg.MaxTotalContextLines)
	assert.Equal(t, 1000, pg.MaxContextLines)
	assert.Equal(t, "code", pg.ContextType)
	assert.Equal(t, 5, s.MaxIterations)
}

func TestRepairLargeContextMarker(t *testing.T) {
	policy := DefaultRepairPolicy()
	s := &Session{ID: "legacy", Topic: "VSO System Operational Analysis"}

	require.True(t, policy.Repair(s))
	assert.Equal(t, "grok-4-fast-reasoning", s.Pagination.Model)
	assert.Equal(t, 1800000, s.Pagination.MaxTotalContextLines)
}

func TestRepairIdempotent(t *testing.T) {
	policy := DefaultRepairPolicy()
	s := &Session{ID: "legacy", Topic: "anything"}

	require.True(t, policy.Repair(s))
	first := *s.Pagination

	assert.False(t, policy.Repair(s))
	assert.Equal(t, first, *s.Pagination)
}

func TestRepairPreservesExistingFields(t *testing.T) {
	policy := DefaultRepairPolicy()
	enabled := false
	s := &Session{
		ID:            "modern",
		Topic:         "VSO review",
		MaxIterations: 7,
		Pagination: &PaginationConfig{
			TurnsPerPage:         3,
			MaxTurns:             7,
			Paginate:             &enabled,
			Model:                "grok-beta",
			MaxContextLines:      250,
			MaxTotalContextLines: 9000,
			ContextType:          "docs",
		},
	}

	assert.False(t, policy.Repair(s))
	assert.Equal(t, 3, s.Pagination.TurnsPerPage)
	assert.Equal(t, "grok-beta", s.Pagination.Model)
	assert.False(t, *s.Pagination.Paginate)
	assert.Equal(t, 9000, s.Pagination.MaxTotalContextLines)
}

func TestRepairStoredModelWinsOverMarker(t *testing.T) {
	// A record that already pinned a model keeps it even when the topic
	// matches a large-context marker; only the missing line budget is
	// inferred, from the stored model.
	policy := DefaultRepairPolicy()
	s := &Session{
		ID:         "partial",
		Topic:      "VSO pipeline",
		Pagination: &PaginationConfig{Model: "grok-code-fast"},
	}

	require.True(t, policy.Repair(s))
	assert.Equal(t, "grok-code-fast", s.Pagination.Model)
	assert.Equal(t, 180000, s.Pagination.MaxTotalContextLines)
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 0.3, QualityScore("hi"))

	rich := "## Approach\n\nHere is how to implement the algorithm:\n```go\nfunc solve() {}\n```\n- step one\n- step two\n" +
		"This is a long enough response to count for length as well, with plenty of detail."
	assert.Greater(t, QualityScore(rich), 0.8)
	assert.LessOrEqual(t, QualityScore(rich), 1.0)
}
