package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusChangeRecord is the append-only audit trail of task status
// transitions. Records are never mutated or deleted; CreatedAt
// reflects commit order, not request arrival.
type StatusChangeRecord struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	UserID     uuid.UUID
	FromStatus TaskStatus
	ToStatus   TaskStatus
	Note       string
	Lat        *float64
	Lng        *float64
	CreatedAt  time.Time
}
