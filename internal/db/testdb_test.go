package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	dbConn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := dbConn.Close(); err != nil {
			t.Logf("close db: %v", err)
		}
	})
	if err := Migrate(context.Background(), dbConn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dbConn
}

func newIndividualTask(assignees ...uuid.UUID) *models.Task {
	now := time.Now().UTC()
	return &models.Task{
		ID:             uuid.New(),
		Title:          "Inspect substation",
		Description:    "quarterly inspection",
		Status:         models.StatusNotStarted,
		AssignmentType: models.AssignIndividual,
		Assignees:      assignees,
		CreatedBy:      uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func openEntry(userID uuid.UUID, taskID *uuid.UUID, start time.Time) *models.TimeLogEntry {
	return &models.TimeLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		TaskID:    taskID,
		StartTime: start,
		Billable:  true,
		CreatedAt: start,
	}
}
