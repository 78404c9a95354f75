package audit

import (
	"context"
	"errors"

	"github.com/onnwee/discovery/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidEntityType is returned when an invalid entity type is provided.
	ErrInvalidEntityType = errors.New("entity type cannot be empty")
	// ErrInvalidEntityID is returned when an invalid entity ID is provided.
	ErrInvalidEntityID = errors.New("entity ID cannot be empty")
	// ErrInvalidAction is returned when an invalid action is provided.
	ErrInvalidAction = errors.New("action cannot be empty")
)

// ValidEntityTypes defines the allowed entity types.
var ValidEntityTypes = map[string]bool{
	EntityFlag:   true,
	EntityTuning: true,
}

// ValidActions defines the allowed actions.
var ValidActions = map[string]bool{
	ActionFlagAutoConfirm: true,
	ActionFlagStartReview: true,
	ActionFlagConfirm:     true,
	ActionFlagDismiss:     true,
	ActionTuningCorrect:   true,
	ActionTuningRelax:     true,
}

func validateLogEntry(entityType, entityID, action string) error {
	if entityType == "" || !ValidEntityTypes[entityType] {
		return ErrInvalidEntityType
	}
	if entityID == "" {
		return ErrInvalidEntityID
	}
	if action == "" || !ValidActions[action] {
		return ErrInvalidAction
	}
	return nil
}

// LogAction records an action, taking the actor from actorID or, when
// empty, from the request context. The request id is read from ctx.
//
// Audit logging is fail-closed: the error is returned to the caller.
func LogAction(ctx context.Context, repo Repository, actorID, entityType, entityID, action, detail string) error {
	if repo == nil {
		return ErrNilRepository
	}
	if actorID == "" {
		actorID = middleware.GetActorID(ctx)
	}
	_, err := repo.Log(LogEntry{
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    OutcomeSuccess,
		Detail:     detail,
		RequestID:  middleware.GetRequestID(ctx),
	})
	return err
}
