package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is written to the subset both lib/pq and go-sqlite3 accept,
// so tests run against in-memory sqlite with the exact production
// DDL. The partial unique index on open time entries is the storage
// half of the one-active-timer-per-user invariant.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  assignment_type TEXT NOT NULL,
  loc_lat DOUBLE PRECISION,
  loc_lng DOUBLE PRECISION,
  loc_radius_m DOUBLE PRECISION,
  loc_address TEXT,
  estimate_minutes INTEGER,
  due_date TIMESTAMP,
  carryover_count INTEGER NOT NULL DEFAULT 0,
  last_carryover_on TEXT NOT NULL DEFAULT '',
  created_by TEXT NOT NULL,
  started_at TIMESTAMP,
  completed_at TIMESTAMP,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS task_assignees (
  task_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  PRIMARY KEY (task_id, user_id)
);

CREATE TABLE IF NOT EXISTS time_entries (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  task_id TEXT,
  start_time TIMESTAMP NOT NULL,
  end_time TIMESTAMP,
  is_break BOOLEAN NOT NULL DEFAULT FALSE,
  break_type TEXT NOT NULL DEFAULT '',
  billable BOOLEAN NOT NULL DEFAULT TRUE,
  tags TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS status_history (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION,
  lng DOUBLE PRECISION,
  created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_assignees_user ON task_assignees(user_id);
CREATE INDEX IF NOT EXISTS idx_time_entries_user ON time_entries(user_id);
CREATE INDEX IF NOT EXISTS idx_time_entries_task ON time_entries(task_id);
CREATE INDEX IF NOT EXISTS idx_status_history_task ON status_history(task_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_time_entries_one_open
  ON time_entries(user_id) WHERE end_time IS NULL;
`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, dbConn *sql.DB) error {
	if _, err := dbConn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
