// Package analytics derives efficiency and variance figures from the
// time-tracking ledger. Aggregation runs in raw seconds and converts
// to minutes once at the reporting boundary, so rounding never
// compounds across segments.
package analytics

import (
	"context"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

// Efficiency is estimate/actual as a percentage. Nil when no time has
// been logged yet; the ratio is undefined and must not divide by zero.
func Efficiency(estimateMinutes, actualMinutes float64) *float64 {
	if actualMinutes <= 0 {
		return nil
	}
	v := estimateMinutes / actualMinutes * 100
	return &v
}

// Variance is actual minus estimate, in minutes. Positive means the
// task ran over.
func Variance(estimateMinutes, actualMinutes float64) float64 {
	return actualMinutes - estimateMinutes
}

type entrySource interface {
	EntriesForTask(ctx context.Context, taskID uuid.UUID) ([]*models.TimeLogEntry, error)
}

type Calculator struct {
	Ledger entrySource
}

func NewCalculator(ledger entrySource) *Calculator {
	return &Calculator{Ledger: ledger}
}

// TaskReport is the analytics view of one task, optionally filtered
// to a single user's contributions.
type TaskReport struct {
	TaskID             uuid.UUID
	TotalActualMinutes float64
	EstimatedMinutes   *int
	Efficiency         *float64
	VarianceMinutes    *float64
	SessionCount       int
}

// Report aggregates the task's closed, non-break segments. For team
// tasks every member's contribution pools into the actual time; pass
// userID to scope the actual time and session count to one user
// (efficiency stays defined against the whole task's estimate).
func (c *Calculator) Report(ctx context.Context, task *models.Task, userID *uuid.UUID) (*TaskReport, error) {
	entries, err := c.Ledger.EntriesForTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	var totalSeconds int64
	sessions := 0
	for _, entry := range entries {
		if entry.IsBreak || entry.Active() {
			continue
		}
		if userID != nil && entry.UserID != *userID {
			continue
		}
		totalSeconds += entry.DurationSeconds()
		sessions++
	}

	report := &TaskReport{
		TaskID:             task.ID,
		TotalActualMinutes: float64(totalSeconds) / 60,
		EstimatedMinutes:   task.EstimateMinutes,
		SessionCount:       sessions,
	}
	if task.EstimateMinutes != nil {
		report.Efficiency = Efficiency(float64(*task.EstimateMinutes), report.TotalActualMinutes)
		if report.Efficiency != nil {
			v := Variance(float64(*task.EstimateMinutes), report.TotalActualMinutes)
			report.VarianceMinutes = &v
		}
	}
	return report, nil
}
