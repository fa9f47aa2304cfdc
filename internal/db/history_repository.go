package db

import (
	"context"
	"database/sql"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

// defines methods for status history db operations
type HistoryRepositoryInterface interface {
	Append(ctx context.Context, rec *models.StatusChangeRecord) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.StatusChangeRecord, error)
}

// HistoryRepository is append-only; records are never updated or
// deleted.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, rec *models.StatusChangeRecord) error {
	query := `INSERT INTO status_history (id, task_id, user_id, from_status, to_status, note, lat, lng, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var lat, lng sql.NullFloat64
	if rec.Lat != nil {
		lat = sql.NullFloat64{Float64: *rec.Lat, Valid: true}
	}
	if rec.Lng != nil {
		lng = sql.NullFloat64{Float64: *rec.Lng, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TaskID, rec.UserID, rec.FromStatus, rec.ToStatus, rec.Note, lat, lng, rec.CreatedAt)
	return err
}

func (r *HistoryRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.StatusChangeRecord, error) {
	query := `SELECT id, task_id, user_id, from_status, to_status, note, lat, lng, created_at
	 FROM status_history WHERE task_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.StatusChangeRecord
	for rows.Next() {
		rec := &models.StatusChangeRecord{}
		var lat, lng sql.NullFloat64
		if err := rows.Scan(
			&rec.ID, &rec.TaskID, &rec.UserID, &rec.FromStatus, &rec.ToStatus,
			&rec.Note, &lat, &lng, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if lat.Valid {
			v := lat.Float64
			rec.Lat = &v
		}
		if lng.Valid {
			v := lng.Float64
			rec.Lng = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
