package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusPaused     TaskStatus = "paused"
	StatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

type AssignmentType string

const (
	AssignIndividual AssignmentType = "individual"
	AssignTeam       AssignmentType = "team"
)

// Location is a geofence center plus radius. Radius must be within
// [10, 10000] meters, validated at task creation.
type Location struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
	Address      string
}

// GeoPoint is a client-reported position. Untrusted, possibly absent;
// absence fails a required geofence check instead of bypassing it.
type GeoPoint struct {
	Lat float64
	Lng float64
}

type Task struct {
	ID             uuid.UUID
	Title          string
	Description    string
	Status         TaskStatus
	AssignmentType AssignmentType

	// Individual tasks carry Assignees; team tasks carry TeamLeader
	// plus TeamMembers. The two sets are mutually exclusive.
	Assignees   []uuid.UUID
	TeamLeader  *uuid.UUID
	TeamMembers []uuid.UUID

	Location        *Location
	EstimateMinutes *int
	DueDate         *time.Time
	CarryoverCount  int
	// LastCarryoverOn is the calendar day ("2006-01-02", UTC) of the
	// most recent carryover sweep that counted this task.
	LastCarryoverOn string

	CreatedBy   uuid.UUID
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Actor is the authenticated caller as seen by the engine. Admin
// comes from the identity token; everything else is derived from the
// task's assignment data.
type Actor struct {
	ID    uuid.UUID
	Admin bool
}
