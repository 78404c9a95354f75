package feed

import (
	"errors"
	"fmt"
)

// ErrFeedUnavailable is returned when no relevance generation has ever been
// computed, so there is nothing valid to serve.
var ErrFeedUnavailable = errors.New("feed temporarily unavailable")

// ValidationError reports bad request input. No partial result accompanies it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
