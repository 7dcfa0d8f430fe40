package session

import "fmt"

// Window is a contiguous run of turns selected by a page number. Start is
// inclusive and End exclusive, both zero-based.
type Window struct {
	Page       int
	Start      int
	End        int
	TotalPages int
}

// Turns returns the number of turns in the window.
func (w Window) Turns() int {
	return w.End - w.Start
}

// Last reports whether the window ends at the final turn.
func (w Window) Last() bool {
	return w.Page >= w.TotalPages
}

// ComputeWindow maps a page number onto a turn range. With pagination off
// the whole discussion is one page. A page past the end yields
// PageOutOfRangeError; the session is left untouched by callers on that
// path.
func ComputeWindow(page, turnsPerPage, maxTurns int, paginate bool) (Window, error) {
	if !paginate {
		return Window{Page: 1, Start: 0, End: maxTurns, TotalPages: 1}, nil
	}

	if page < 1 {
		page = 1
	}
	totalPages := (maxTurns + turnsPerPage - 1) / turnsPerPage
	start := (page - 1) * turnsPerPage
	if start >= maxTurns {
		return Window{}, &PageOutOfRangeError{Page: page, TotalPages: totalPages}
	}
	end := start + turnsPerPage
	if end > maxTurns {
		end = maxTurns
	}
	return Window{Page: page, Start: start, End: end, TotalPages: totalPages}, nil
}

// FollowUp returns the canned question appended after a turn to drive the
// next one. The variants are keyed only on stored session flags so replayed
// transcripts stay byte-identical.
func FollowUp(expertMode, hasFileContext bool) string {
	if hasFileContext {
		if expertMode {
			return "How does this relate to the code structure and what optimizations or refactoring would you suggest?"
		}
		return "Can you explain how this applies to the specific code we're discussing?"
	}
	if expertMode {
		return "Can you elaborate on the technical implications and potential edge cases?"
	}
	return "Can you provide more details or examples?"
}

// ContextualPrompt prefixes a prompt with file context, phrased by context
// type.
func ContextualPrompt(base, fileContext, contextType string) string {
	if fileContext == "" {
		return base
	}
	switch contextType {
	case "code":
		return fmt.Sprintf("Given the following code:\n%s\n\n%s", fileContext, base)
	case "docs":
		return fmt.Sprintf("Based on this documentation:\n%s\n\n%s", fileContext, base)
	default:
		return fmt.Sprintf("Context:\n%s\n\n%s", fileContext, base)
	}
}
