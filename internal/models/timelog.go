package models

import (
	"time"

	"github.com/google/uuid"
)

type BreakType string

const (
	BreakLunch   BreakType = "lunch"
	BreakRest    BreakType = "rest"
	BreakTravel  BreakType = "travel"
	BreakGeneric BreakType = "break"
)

// TimeLogEntry is one contiguous tracked interval. EndTime == nil
// marks the entry as active; a user has at most one active entry
// across all tasks and breaks.
type TimeLogEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TaskID      *uuid.UUID // nil for pure breaks
	StartTime   time.Time
	EndTime     *time.Time
	IsBreak     bool
	BreakType   BreakType
	Billable    bool
	Tags        []string
	Description string
	CreatedAt   time.Time
}

func (e *TimeLogEntry) Active() bool {
	return e.EndTime == nil
}

// DurationSeconds of a closed entry; 0 while active. Aggregation sums
// raw seconds and converts to minutes once at the reporting boundary.
func (e *TimeLogEntry) DurationSeconds() int64 {
	if e.EndTime == nil {
		return 0
	}
	return int64(e.EndTime.Sub(e.StartTime).Seconds())
}
