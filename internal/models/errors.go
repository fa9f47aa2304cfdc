package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Domain errors are terminal, synchronous failures returned to the
// caller; the engine never retries on its own. Each carries enough
// detail for the caller to self-correct. Storage failures are NOT
// translated into these types; they propagate wrapped and map to a
// generic server error at the HTTP boundary.

// ValidationError: malformed input (bad coordinates, radius out of
// range, inverted time range, unknown status value).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PermissionError: the actor lacks authority for the action.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

// GeofenceError: location missing or outside the task's radius.
// Missing GPS is a failure, never an implicit bypass.
type GeofenceError struct {
	Msg            string
	RequiredRadius float64
	DistanceMeters float64
}

func (e *GeofenceError) Error() string { return e.Msg }

// ConflictError: the optimistic status check failed, or a written
// interval collides with existing entries. For status conflicts
// CurrentStatus is authoritative so the caller can refresh and retry.
type ConflictError struct {
	Msg           string
	CurrentStatus TaskStatus
}

func (e *ConflictError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("task status changed concurrently, current status is %q", e.CurrentStatus)
}

// AlreadyTrackingError: the user already has an active time entry
// somewhere (task or break).
type AlreadyTrackingError struct {
	ActiveEntryID uuid.UUID
}

func (e *AlreadyTrackingError) Error() string {
	return fmt.Sprintf("user already has active entry %s", e.ActiveEntryID)
}

// NotFoundError: referenced task or entry does not exist.
type NotFoundError struct {
	Kind string // "task", "entry"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError: the (from, to) pair is not an edge of the
// lifecycle graph and the actor is not an admin.
type InvalidTransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %q to %q", e.From, e.To)
}
