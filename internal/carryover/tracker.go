// Package carryover watches for tasks that rolled past their due date
// while still incomplete. A periodic sweep bumps each qualifying
// task's rollover counter at most once per calendar day, and a
// read-only summary buckets everything with a due date for the
// upcoming/overdue view.
package carryover

import (
	"context"
	"log"
	"time"

	"github.com/fieldops/fieldtrack/internal/db"
	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

// Policy decides what a sweep does to an overdue task's due date.
type Policy string

const (
	// PolicyRetain keeps the original due date; only the counter moves.
	PolicyRetain Policy = "retain"
	// PolicyRollForward also advances the due date by whole days until
	// it lands in the future.
	PolicyRollForward Policy = "roll_forward"
)

func ParsePolicy(s string) Policy {
	if s == string(PolicyRollForward) {
		return PolicyRollForward
	}
	return PolicyRetain
}

type CarryoverUpdate struct {
	TaskID     uuid.UUID
	NewCount   int
	NewDueDate *time.Time
}

type Summary struct {
	Overdue     []*models.Task
	DueToday    []*models.Task
	DueTomorrow []*models.Task
	Upcoming    []*models.Task // after tomorrow, within 7 days
}

type Tracker struct {
	Tasks  db.TaskRepositoryInterface
	Policy Policy
}

func NewTracker(tasks db.TaskRepositoryInterface, policy Policy) *Tracker {
	return &Tracker{Tasks: tasks, Policy: policy}
}

// Sweep counts every overdue, incomplete task not already counted on
// now's calendar day (UTC). Running it twice in one day is a no-op
// the second time.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) ([]CarryoverUpdate, error) {
	day := now.UTC().Format("2006-01-02")
	overdue, err := t.Tasks.ListOverdue(ctx, now.UTC(), day)
	if err != nil {
		return nil, err
	}

	var updates []CarryoverUpdate
	for _, task := range overdue {
		update := CarryoverUpdate{TaskID: task.ID, NewCount: task.CarryoverCount + 1}
		if t.Policy == PolicyRollForward && task.DueDate != nil {
			due := *task.DueDate
			for !due.After(now.UTC()) {
				due = due.Add(24 * time.Hour)
			}
			update.NewDueDate = &due
		}
		if err := t.Tasks.ApplyCarryover(ctx, task.ID, day, update.NewDueDate); err != nil {
			return updates, err
		}
		updates = append(updates, update)
	}
	return updates, nil
}

// Summarize buckets incomplete tasks with due dates against now's
// calendar day (UTC). Read-only and side-effect-free.
func (t *Tracker) Summarize(ctx context.Context, now time.Time) (*Summary, error) {
	due, err := t.Tasks.ListDue(ctx)
	if err != nil {
		return nil, err
	}

	today := now.UTC().Truncate(24 * time.Hour)
	summary := &Summary{}
	for _, task := range due {
		if task.DueDate == nil {
			continue
		}
		days := int(task.DueDate.UTC().Sub(today).Hours() / 24)
		if task.DueDate.UTC().Before(today) {
			summary.Overdue = append(summary.Overdue, task)
			continue
		}
		switch {
		case days == 0:
			summary.DueToday = append(summary.DueToday, task)
		case days == 1:
			summary.DueTomorrow = append(summary.DueTomorrow, task)
		case days <= 7:
			summary.Upcoming = append(summary.Upcoming, task)
		}
	}
	return summary, nil
}

// RunScheduler sweeps on a fixed interval until the context is
// canceled. Runs one sweep immediately so a restarted service does
// not wait a full interval.
func (t *Tracker) RunScheduler(ctx context.Context, interval time.Duration) {
	sweep := func() {
		updates, err := t.Sweep(ctx, time.Now().UTC())
		if err != nil {
			log.Printf("Carryover sweep failed: %v", err)
			return
		}
		if len(updates) > 0 {
			log.Printf("Carryover sweep updated %d tasks", len(updates))
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
