// Package idempotency provides stable idempotency keys and a seen-key
// repository used to drop retried writes.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Key scopes.
const (
	ScopeImpression = "impression"
	ScopeView       = "view"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to store a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// Record is a stored idempotency key.
type Record struct {
	Key       string    `json:"key"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateKey checks if an idempotency key is valid.
// Returns ErrInvalidKey if the key is empty or blank.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Derive computes a stable key from a tuple of parts.
// Parts are NUL-separated before hashing so ("ab", "c") and ("a", "bc")
// produce different keys. The result is a 64 character hex string.
func Derive(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ImpressionKey returns the idempotency key for one impression of a creator
// to a viewer within a session.
func ImpressionKey(creatorID, viewerID, sessionID string) string {
	return Derive(ScopeImpression, creatorID, viewerID, sessionID)
}

// ViewKey returns the idempotency key for a client-supplied view token.
func ViewKey(viewerID, clientKey string) string {
	return Derive(ScopeView, viewerID, clientKey)
}

// Repository defines methods for idempotency key persistence.
type Repository interface {
	// Get retrieves a record by its key value.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(key string) (*Record, error)

	// Store saves a new record.
	// Returns ErrKeyExists if the key already exists.
	Store(record *Record) error

	// DeleteOlderThan removes keys older than the specified duration.
	DeleteOlderThan(duration time.Duration) (int64, error)
}
