package app

import (
	"errors"
	"strings"
)

var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrForbidden         = errors.New("onboarding does not belong to the current user")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes rejected input. Missing lists every required
// field that was absent or empty.
type ValidationError struct {
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return e.Message
}
