package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a model call exceeds its per-request deadline.
	ErrTimeout = errors.New("llm request timed out")

	// ErrEmptyResponse is returned when the model answers with no content.
	ErrEmptyResponse = errors.New("llm returned empty response")
)

// StatusError reports a non-2xx response from a model backend.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// wrapTimeout converts a context deadline failure into the typed timeout
// error so callers can branch on it without inspecting context internals.
func wrapTimeout(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
