package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWindow(t *testing.T) {
	tests := []struct {
		name         string
		page         int
		turnsPerPage int
		maxTurns     int
		wantStart    int
		wantEnd      int
		wantTotal    int
	}{
		{"first page", 1, 2, 5, 0, 2, 3},
		{"middle page", 2, 2, 5, 2, 4, 3},
		{"short last page", 3, 2, 5, 4, 5, 3},
		{"exact division", 3, 3, 9, 6, 9, 3},
		{"single turn pages", 4, 1, 5, 3, 4, 5},
		{"page below one clamps", 0, 2, 5, 0, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ComputeWindow(tt.page, tt.turnsPerPage, tt.maxTurns, true)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, tt.wantEnd, w.End)
			assert.Equal(t, tt.wantTotal, w.TotalPages)
		})
	}
}

func TestComputeWindowOutOfRange(t *testing.T) {
	_, err := ComputeWindow(4, 2, 5, true)
	require.Error(t, err)

	var pageErr *PageOutOfRangeError
	require.True(t, errors.As(err, &pageErr))
	assert.Equal(t, 4, pageErr.Page)
	assert.Equal(t, 3, pageErr.TotalPages)
	assert.Contains(t, pageErr.Error(), "page 4 exceeds total pages (3)")
}

func TestComputeWindowUnpaginated(t *testing.T) {
	w, err := ComputeWindow(7, 2, 5, false)
	require.NoError(t, err)
	assert.Equal(t, Window{Page: 1, Start: 0, End: 5, TotalPages: 1}, w)
	assert.True(t, w.Last())
}

func TestWindowLast(t *testing.T) {
	w, err := ComputeWindow(3, 2, 5, true)
	require.NoError(t, err)
	assert.True(t, w.Last())

	w, err = ComputeWindow(2, 2, 5, true)
	require.NoError(t, err)
	assert.False(t, w.Last())
}

func TestFollowUpVariants(t *testing.T) {
	seen := map[string]bool{}
	for _, expert := range []bool{false, true} {
		for _, hasFiles := range []bool{false, true} {
			q := FollowUp(expert, hasFiles)
			assert.NotEmpty(t, q)
			seen[q] = true
		}
	}
	// All four flag combinations ask a different question.
	assert.Len(t, seen, 4)

	assert.Equal(t, "Can you provide more details or examples?", FollowUp(false, false))
	assert.Contains(t, FollowUp(true, false), "edge cases")
	assert.Contains(t, FollowUp(false, true), "code we're discussing")
	assert.Contains(t, FollowUp(true, true), "refactoring")
}

func TestContextualPrompt(t *testing.T) {
	assert.Equal(t, "plain", ContextualPrompt("plain", "", "code"))

	code := ContextualPrompt("review this", "func main() {}", "code")
	assert.True(t, strings.HasPrefix(code, "Given the following code:"))
	assert.Contains(t, code, "review this")

	docs := ContextualPrompt("summarize", "# Title", "docs")
	assert.True(t, strings.HasPrefix(docs, "Based on this documentation:"))

	general := ContextualPrompt("question", "background", "general")
	assert.True(t, strings.HasPrefix(general, "Context:"))
}
