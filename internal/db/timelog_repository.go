package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

// defines methods for time entry db operations
type TimeLogRepositoryInterface interface {
	InsertOpen(ctx context.Context, entry *models.TimeLogEntry) error
	InsertClosed(ctx context.Context, entry *models.TimeLogEntry) error
	GetByID(ctx context.Context, id string) (*models.TimeLogEntry, error)
	CloseEntry(ctx context.Context, id uuid.UUID, end time.Time, description *string) error
	UpdateDetails(ctx context.Context, id uuid.UUID, description *string, tags []string, billable *bool) error
	ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.TimeLogEntry, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TimeLogEntry, error)
	ListOpenByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TimeLogEntry, error)
	ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]*models.TimeLogEntry, error)
}

type TimeLogRepository struct {
	db *sql.DB
}

func NewTimeLogRepository(db *sql.DB) *TimeLogRepository {
	return &TimeLogRepository{db: db}
}

const timeEntryColumns = `id, user_id, task_id, start_time, end_time,
  is_break, break_type, billable, tags, description, created_at`

// InsertOpen creates an active entry (end_time NULL) for the user.
// The check-and-insert runs in one transaction; the partial unique
// index on open entries is the backstop against a concurrent insert
// racing between the check and the write. Returns
// AlreadyTrackingError when the user has an open entry anywhere.
func (r *TimeLogRepository) InsertOpen(ctx context.Context, entry *models.TimeLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var activeID uuid.UUID
	query := `SELECT id FROM time_entries WHERE user_id = $1 AND end_time IS NULL`
	err = tx.QueryRowContext(ctx, query, entry.UserID).Scan(&activeID)
	if err == nil {
		return &models.AlreadyTrackingError{ActiveEntryID: activeID}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return r.alreadyTracking(ctx, entry.UserID)
		}
		return err
	}
	return tx.Commit()
}

// InsertClosed writes a finished interval (manual log). Fails with a
// conflict when the interval overlaps any of the user's entries,
// open or closed, across all tasks and breaks.
func (r *TimeLogRepository) InsertClosed(ctx context.Context, entry *models.TimeLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var overlapID uuid.UUID
	query := `SELECT id FROM time_entries
	 WHERE user_id = $1 AND start_time < $2 AND (end_time IS NULL OR end_time > $3)
	 LIMIT 1`
	err = tx.QueryRowContext(ctx, query, entry.UserID, *entry.EndTime, entry.StartTime).Scan(&overlapID)
	if err == nil {
		return &models.ConflictError{Msg: "interval overlaps existing time entry " + overlapID.String()}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry *models.TimeLogEntry) error {
	query := `INSERT INTO time_entries (` + timeEntryColumns + `)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var taskID sql.NullString
	if entry.TaskID != nil {
		taskID = sql.NullString{String: entry.TaskID.String(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.UserID, taskID, entry.StartTime, nullTime(entry.EndTime),
		entry.IsBreak, string(entry.BreakType), entry.Billable,
		strings.Join(entry.Tags, ","), entry.Description, entry.CreatedAt)
	return err
}

func (r *TimeLogRepository) alreadyTracking(ctx context.Context, userID uuid.UUID) error {
	active, err := r.ActiveForUser(ctx, userID)
	if err != nil || active == nil {
		return &models.AlreadyTrackingError{}
	}
	return &models.AlreadyTrackingError{ActiveEntryID: active.ID}
}

func (r *TimeLogRepository) GetByID(ctx context.Context, id string) (*models.TimeLogEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE id = $1`
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Kind: "entry", ID: id}
		}
		return nil, err
	}
	return entry, nil
}

// CloseEntry sets end_time on an open entry. Closing an already
// closed entry is a no-op at this layer; the ledger decides whether
// that is an error.
func (r *TimeLogRepository) CloseEntry(ctx context.Context, id uuid.UUID, end time.Time, description *string) error {
	if description != nil {
		query := `UPDATE time_entries SET end_time = $1, description = $2 WHERE id = $3 AND end_time IS NULL`
		_, err := r.db.ExecContext(ctx, query, end, *description, id)
		return err
	}
	query := `UPDATE time_entries SET end_time = $1 WHERE id = $2 AND end_time IS NULL`
	_, err := r.db.ExecContext(ctx, query, end, id)
	return err
}

// UpdateDetails edits description/tags/billable on a closed entry.
// Times are immutable once closed.
func (r *TimeLogRepository) UpdateDetails(ctx context.Context, id uuid.UUID, description *string, tags []string, billable *bool) error {
	entry, err := r.GetByID(ctx, id.String())
	if err != nil {
		return err
	}
	desc := entry.Description
	if description != nil {
		desc = *description
	}
	joined := strings.Join(entry.Tags, ",")
	if tags != nil {
		joined = strings.Join(tags, ",")
	}
	bill := entry.Billable
	if billable != nil {
		bill = *billable
	}
	query := `UPDATE time_entries SET description = $1, tags = $2, billable = $3 WHERE id = $4`
	_, err = r.db.ExecContext(ctx, query, desc, joined, bill, id)
	return err
}

// ActiveForUser returns the user's open entry, or nil when none.
func (r *TimeLogRepository) ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.TimeLogEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE user_id = $1 AND end_time IS NULL`
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (r *TimeLogRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TimeLogEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE task_id = $1 ORDER BY start_time ASC`
	return r.queryEntries(ctx, query, taskID)
}

func (r *TimeLogRepository) ListOpenByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TimeLogEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries
	 WHERE task_id = $1 AND end_time IS NULL ORDER BY start_time ASC`
	return r.queryEntries(ctx, query, taskID)
}

// ListOpenStartedBefore feeds the stale-timer reaper.
func (r *TimeLogRepository) ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]*models.TimeLogEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries
	 WHERE end_time IS NULL AND start_time < $1 ORDER BY start_time ASC`
	return r.queryEntries(ctx, query, cutoff)
}

func (r *TimeLogRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*models.TimeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.TimeLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*models.TimeLogEntry, error) {
	entry := &models.TimeLogEntry{}
	var taskID sql.NullString
	var end sql.NullTime
	var breakType, tags string

	err := row.Scan(
		&entry.ID, &entry.UserID, &taskID, &entry.StartTime, &end,
		&entry.IsBreak, &breakType, &entry.Billable, &tags, &entry.Description, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		id, err := uuid.Parse(taskID.String)
		if err != nil {
			return nil, err
		}
		entry.TaskID = &id
	}
	entry.EndTime = timePtr(end)
	entry.BreakType = models.BreakType(breakType)
	if tags != "" {
		entry.Tags = strings.Split(tags, ",")
	}
	return entry, nil
}

// isUniqueViolation matches the duplicate-key wording of both lib/pq
// ("duplicate key value violates unique constraint") and go-sqlite3
// ("UNIQUE constraint failed").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
