package session

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when an id matches no resident or stored
// session.
var ErrSessionNotFound = errors.New("session not found")

// PageOutOfRangeError reports a page request past the end of a discussion,
// carrying the total so the caller can correct itself.
type PageOutOfRangeError struct {
	Page       int
	TotalPages int
}

func (e *PageOutOfRangeError) Error() string {
	return fmt.Sprintf("page %d exceeds total pages (%d)", e.Page, e.TotalPages)
}

// InvalidTransitionError reports a lifecycle operation applied in the wrong
// state. The session is left unchanged.
type InvalidTransitionError struct {
	Op   string
	From Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s session in %s state", e.Op, e.From)
}
