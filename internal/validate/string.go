// Package validate provides input validation for identifiers, categories
// and service URLs accepted by the discovery API and its configuration.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// MaxIDLength bounds viewer, creator and flag identifiers.
const MaxIDLength = 128

var (
	idPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@\-]*$`)
	categoryPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex pattern for allowed characters
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
	Lowercase      bool           // Whether to lowercase before pattern matching
}

// String validates a string against the given constraints.
// Returns the validated (and optionally normalized) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if constraints.Lowercase {
		s = strings.ToLower(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Rune count, not bytes
	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// ID validates an opaque viewer, creator or flag identifier:
// - 1-128 characters
// - Letters, numbers and . _ : @ - only, starting with a letter or number
func ID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      MaxIDLength,
		AllowedPattern: idPattern,
	})
}

// Category validates a content category. Categories are optional on views,
// so the empty string passes; anything else is lowercased.
func Category(category string) (string, error) {
	return String(category, StringConstraints{
		MaxLength:      64,
		AllowedPattern: categoryPattern,
		AllowEmpty:     true,
		TrimSpace:      true,
		Lowercase:      true,
	})
}
