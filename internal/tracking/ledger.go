// Package tracking is the time-tracking ledger: an append-mostly
// store of timer segments enforcing one active segment per user, with
// duration queries for the analytics layer. Truth about "is a timer
// running" lives here, never in a client.
package tracking

import (
	"context"
	"log"
	"time"

	"github.com/fieldops/fieldtrack/internal/db"
	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

type Ledger struct {
	Entries db.TimeLogRepositoryInterface
	// Now is swappable in tests.
	Now func() time.Time
}

func NewLedger(entries db.TimeLogRepositoryInterface) *Ledger {
	return &Ledger{Entries: entries, Now: func() time.Time { return time.Now().UTC() }}
}

// Start opens a work segment for (user, task). Fails with
// AlreadyTrackingError when the user has any open segment, task or
// break, anywhere in the system.
func (l *Ledger) Start(ctx context.Context, userID, taskID uuid.UUID, description string) (*models.TimeLogEntry, error) {
	now := l.Now()
	entry := &models.TimeLogEntry{
		ID:          uuid.New(),
		UserID:      userID,
		TaskID:      &taskID,
		StartTime:   now,
		Billable:    true,
		Description: description,
		CreatedAt:   now,
	}
	if err := l.Entries.InsertOpen(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// StartBreak opens a break segment with no task reference, subject to
// the same single-active-segment rule.
func (l *Ledger) StartBreak(ctx context.Context, userID uuid.UUID, breakType models.BreakType) (*models.TimeLogEntry, error) {
	if breakType == "" {
		breakType = models.BreakGeneric
	}
	now := l.Now()
	entry := &models.TimeLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		StartTime: now,
		IsBreak:   true,
		BreakType: breakType,
		Billable:  false,
		CreatedAt: now,
	}
	if err := l.Entries.InsertOpen(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Stop closes the caller's active entry. The entry must exist, belong
// to the caller, and still be open.
func (l *Ledger) Stop(ctx context.Context, entryID, userID uuid.UUID, description *string) (*models.TimeLogEntry, error) {
	entry, err := l.Entries.GetByID(ctx, entryID.String())
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, &models.PermissionError{Msg: "entry belongs to another user"}
	}
	if !entry.Active() {
		return nil, &models.ConflictError{Msg: "entry is already closed"}
	}
	if err := l.Entries.CloseEntry(ctx, entry.ID, l.Now(), description); err != nil {
		return nil, err
	}
	return l.Entries.GetByID(ctx, entryID.String())
}

// LogManual records a finished interval after the fact. The interval
// must be forward (end after start) and must not overlap any of the
// user's existing entries.
func (l *Ledger) LogManual(ctx context.Context, userID, taskID uuid.UUID, start, end time.Time, description string, tags []string, billable bool) (*models.TimeLogEntry, error) {
	if !end.After(start) {
		return nil, &models.ValidationError{Msg: "end_time must be after start_time"}
	}
	entry := &models.TimeLogEntry{
		ID:          uuid.New(),
		UserID:      userID,
		TaskID:      &taskID,
		StartTime:   start,
		EndTime:     &end,
		Billable:    billable,
		Tags:        tags,
		Description: description,
		CreatedAt:   l.Now(),
	}
	if err := l.Entries.InsertClosed(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateDetails edits description/tags/billable on the caller's
// entry. Closed entries stay immutable otherwise.
func (l *Ledger) UpdateDetails(ctx context.Context, entryID, userID uuid.UUID, description *string, tags []string, billable *bool) (*models.TimeLogEntry, error) {
	entry, err := l.Entries.GetByID(ctx, entryID.String())
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, &models.PermissionError{Msg: "entry belongs to another user"}
	}
	if err := l.Entries.UpdateDetails(ctx, entryID, description, tags, billable); err != nil {
		return nil, err
	}
	return l.Entries.GetByID(ctx, entryID.String())
}

func (l *Ledger) ActiveEntryFor(ctx context.Context, userID uuid.UUID) (*models.TimeLogEntry, error) {
	return l.Entries.ActiveForUser(ctx, userID)
}

// EntriesForTask returns the task's segments ordered by start time.
func (l *Ledger) EntriesForTask(ctx context.Context, taskID uuid.UUID) ([]*models.TimeLogEntry, error) {
	return l.Entries.ListByTask(ctx, taskID)
}

// EnsureStartedForTask is the in_progress side effect: keep an
// existing open segment on the same task, open a fresh one when the
// user has none, and refuse when the user is tracking elsewhere.
func (l *Ledger) EnsureStartedForTask(ctx context.Context, userID, taskID uuid.UUID) (*models.TimeLogEntry, error) {
	active, err := l.Entries.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if active.TaskID != nil && *active.TaskID == taskID {
			return active, nil
		}
		return nil, &models.AlreadyTrackingError{ActiveEntryID: active.ID}
	}
	return l.Start(ctx, userID, taskID, "")
}

// CloseForUserTask is the paused side effect: closes the user's open
// segment if it is on the given task. No-op otherwise.
func (l *Ledger) CloseForUserTask(ctx context.Context, userID, taskID uuid.UUID) error {
	active, err := l.Entries.ActiveForUser(ctx, userID)
	if err != nil {
		return err
	}
	if active == nil || active.TaskID == nil || *active.TaskID != taskID {
		return nil
	}
	return l.Entries.CloseEntry(ctx, active.ID, l.Now(), nil)
}

// CloseAllForTask is the completed side effect: closes every open
// segment on the task regardless of owner, so an admin completing a
// task also stops the crew's timers.
func (l *Ledger) CloseAllForTask(ctx context.Context, taskID uuid.UUID) error {
	open, err := l.Entries.ListOpenByTask(ctx, taskID)
	if err != nil {
		return err
	}
	now := l.Now()
	for _, entry := range open {
		if err := l.Entries.CloseEntry(ctx, entry.ID, now, nil); err != nil {
			return err
		}
	}
	return nil
}

// CloseStale closes abandoned open segments (client crash, lost
// network). Each is closed at start + timeout so the time worked up
// to the cutoff still counts. Returns how many were closed.
func (l *Ledger) CloseStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := l.Now().Add(-timeout)
	stale, err := l.Entries.ListOpenStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, entry := range stale {
		if err := l.Entries.CloseEntry(ctx, entry.ID, entry.StartTime.Add(timeout), nil); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// RunReaper sweeps stale segments on a fixed interval until the
// context is canceled.
func (l *Ledger) RunReaper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.CloseStale(ctx, timeout)
			if err != nil {
				log.Printf("Stale timer sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Closed %d stale time entries", n)
			}
		}
	}
}
