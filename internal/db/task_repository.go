package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

// defines methods for task db operations
type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	UpdateStatusCAS(ctx context.Context, task *models.Task, observed models.TaskStatus) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, sweepDay string) ([]*models.Task, error)
	ApplyCarryover(ctx context.Context, id uuid.UUID, sweepDay string, newDue *time.Time) error
	ListDue(ctx context.Context) ([]*models.Task, error)
}

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO tasks (id, title, description, status, assignment_type,
	  loc_lat, loc_lng, loc_radius_m, loc_address,
	  estimate_minutes, due_date, carryover_count, last_carryover_on,
	  created_by, started_at, completed_at, created_at, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	var lat, lng, radius sql.NullFloat64
	var address sql.NullString
	if task.Location != nil {
		lat = sql.NullFloat64{Float64: task.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: task.Location.Lng, Valid: true}
		radius = sql.NullFloat64{Float64: task.Location.RadiusMeters, Valid: true}
		address = sql.NullString{String: task.Location.Address, Valid: true}
	}
	var estimate sql.NullInt64
	if task.EstimateMinutes != nil {
		estimate = sql.NullInt64{Int64: int64(*task.EstimateMinutes), Valid: true}
	}

	_, err = tx.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, task.Status, task.AssignmentType,
		lat, lng, radius, address,
		estimate, nullTime(task.DueDate), task.CarryoverCount, task.LastCarryoverOn,
		task.CreatedBy, nullTime(task.StartedAt), nullTime(task.CompletedAt),
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return err
	}

	assigneeQuery := `INSERT INTO task_assignees (task_id, user_id, role) VALUES ($1, $2, $3)`
	for _, id := range task.Assignees {
		if _, err := tx.ExecContext(ctx, assigneeQuery, task.ID, id, "assignee"); err != nil {
			return err
		}
	}
	if task.TeamLeader != nil {
		if _, err := tx.ExecContext(ctx, assigneeQuery, task.ID, *task.TeamLeader, "leader"); err != nil {
			return err
		}
	}
	for _, id := range task.TeamMembers {
		if _, err := tx.ExecContext(ctx, assigneeQuery, task.ID, id, "member"); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT id, title, description, status, assignment_type,
	  loc_lat, loc_lng, loc_radius_m, loc_address,
	  estimate_minutes, due_date, carryover_count, last_carryover_on,
	  created_by, started_at, completed_at, created_at, updated_at
	 FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Kind: "task", ID: id}
		}
		return nil, err
	}
	if err := r.loadAssignment(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (r *TaskRepository) loadAssignment(ctx context.Context, task *models.Task) error {
	query := `SELECT user_id, role FROM task_assignees WHERE task_id = $1`
	rows, err := r.db.QueryContext(ctx, query, task.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var userID uuid.UUID
		var role string
		if err := rows.Scan(&userID, &role); err != nil {
			return err
		}
		switch role {
		case "assignee":
			task.Assignees = append(task.Assignees, userID)
		case "leader":
			leader := userID
			task.TeamLeader = &leader
		case "member":
			task.TeamMembers = append(task.TeamMembers, userID)
		}
	}
	return rows.Err()
}

// UpdateStatusCAS writes the task's status and lifecycle timestamps
// only if the stored status still equals the status the caller
// observed. Returns false without error when the check fails.
func (r *TaskRepository) UpdateStatusCAS(ctx context.Context, task *models.Task, observed models.TaskStatus) (bool, error) {
	query := `UPDATE tasks SET status = $1, started_at = $2, completed_at = $3, updated_at = $4
	 WHERE id = $5 AND status = $6`

	res, err := r.db.ExecContext(ctx, query,
		task.Status, nullTime(task.StartedAt), nullTime(task.CompletedAt), task.UpdatedAt,
		task.ID, observed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOverdue returns incomplete tasks whose due date has passed and
// that have not been counted by a carryover sweep on sweepDay yet.
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time, sweepDay string) ([]*models.Task, error) {
	query := `SELECT id, title, description, status, assignment_type,
	  loc_lat, loc_lng, loc_radius_m, loc_address,
	  estimate_minutes, due_date, carryover_count, last_carryover_on,
	  created_by, started_at, completed_at, created_at, updated_at
	 FROM tasks
	 WHERE due_date IS NOT NULL AND due_date < $1 AND status <> $2 AND last_carryover_on <> $3
	 ORDER BY due_date ASC`
	return r.queryTasks(ctx, query, now, models.StatusCompleted, sweepDay)
}

// ApplyCarryover increments the rollover counter and stamps the sweep
// day; newDue, when set, rolls the due date forward as well.
func (r *TaskRepository) ApplyCarryover(ctx context.Context, id uuid.UUID, sweepDay string, newDue *time.Time) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task with id %s does not exist", id)
	}

	if newDue != nil {
		query = `UPDATE tasks SET carryover_count = carryover_count + 1, last_carryover_on = $1, due_date = $2 WHERE id = $3`
		_, err := r.db.ExecContext(ctx, query, sweepDay, *newDue, id)
		return err
	}
	query = `UPDATE tasks SET carryover_count = carryover_count + 1, last_carryover_on = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, sweepDay, id)
	return err
}

// ListDue returns all incomplete tasks that carry a due date, for the
// upcoming/overdue summary.
func (r *TaskRepository) ListDue(ctx context.Context) ([]*models.Task, error) {
	query := `SELECT id, title, description, status, assignment_type,
	  loc_lat, loc_lng, loc_radius_m, loc_address,
	  estimate_minutes, due_date, carryover_count, last_carryover_on,
	  created_by, started_at, completed_at, created_at, updated_at
	 FROM tasks
	 WHERE due_date IS NOT NULL AND status <> $1
	 ORDER BY due_date ASC`
	return r.queryTasks(ctx, query, models.StatusCompleted)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if err := r.loadAssignment(ctx, task); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var lat, lng, radius sql.NullFloat64
	var address sql.NullString
	var estimate sql.NullInt64
	var due, started, completed sql.NullTime

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Status, &task.AssignmentType,
		&lat, &lng, &radius, &address,
		&estimate, &due, &task.CarryoverCount, &task.LastCarryoverOn,
		&task.CreatedBy, &started, &completed, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid && radius.Valid {
		task.Location = &models.Location{
			Lat:          lat.Float64,
			Lng:          lng.Float64,
			RadiusMeters: radius.Float64,
			Address:      address.String,
		}
	}
	if estimate.Valid {
		v := int(estimate.Int64)
		task.EstimateMinutes = &v
	}
	task.DueDate = timePtr(due)
	task.StartedAt = timePtr(started)
	task.CompletedAt = timePtr(completed)
	return task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
