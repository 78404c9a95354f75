// Package audit records an append-only, hash-chained log of review and
// administrative actions on manipulation flags and ranking parameters.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entity types.
const (
	EntityFlag   = "manipulation_flag"
	EntityTuning = "tuning_params"
)

// Actions.
const (
	ActionFlagAutoConfirm = "flag_auto_confirm"
	ActionFlagStartReview = "flag_start_review"
	ActionFlagConfirm     = "flag_confirm"
	ActionFlagDismiss     = "flag_dismiss"
	ActionTuningCorrect   = "tuning_correct"
	ActionTuningRelax     = "tuning_relax"
)

// AuditLog is a single recorded action.
type AuditLog struct {
	ID         string
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string
	Detail     string
	CreatedAt  time.Time

	RequestID string

	// PreviousHash is the Hash of the preceding entry; empty for the first.
	PreviousHash string
	// Hash covers this entry's fields and PreviousHash.
	Hash string
}

// LogEntry is the input for creating an audit log entry.
type LogEntry struct {
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string
	Detail     string
	RequestID  string
}

// computeHash returns the chain hash of an entry.
func computeHash(l *AuditLog) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		l.ID, l.ActorID, l.EntityType, l.EntityID, l.Action, l.Outcome,
		l.Detail, l.RequestID, l.CreatedAt.UTC().Format(time.RFC3339Nano), l.PreviousHash)
	return hex.EncodeToString(h.Sum(nil))
}
