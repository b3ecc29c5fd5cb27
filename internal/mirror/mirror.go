package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"slidecast/internal/queue"

	_ "modernc.org/sqlite"
)

// Store is the durable relational mirror of task records. Live task keys in
// the shared store expire; the mirror keeps history for tooling. Writers
// treat it as best-effort and must not block the critical path on it.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id    TEXT PRIMARY KEY,
	task_type  TEXT NOT NULL,
	status     TEXT NOT NULL,
	file_id    TEXT NOT NULL,
	kwargs     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
`

// Open opens (creating if needed) the mirror database at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// TaskRecord is one mirrored row.
type TaskRecord struct {
	TaskID    string
	TaskType  string
	Status    string
	FileID    string
	Kwargs    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertTask upserts a freshly submitted task. Kwargs are stored in their
// sanitized form, without filesystem paths.
func (s *Store) InsertTask(ctx context.Context, task *queue.Task) error {
	const q = `
		INSERT INTO tasks (task_id, task_type, status, file_id, kwargs, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			kwargs = excluded.kwargs,
			error = excluded.error,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		task.ID,
		string(task.Type),
		string(task.Status),
		task.Kwargs.FileID,
		task.SanitizedKwargs(),
		task.ErrMessage(),
		task.CreatedAt.UTC().Format(time.RFC3339),
		task.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTaskStatus mirrors a status change. Unknown ids are a no-op so the
// mirror never fails a live-path write.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status queue.Status, errMsg string) error {
	const q = `UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE task_id = ?`

	_, err := s.db.ExecContext(ctx, q,
		string(status), errMsg, time.Now().UTC().Format(time.RFC3339), taskID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	return nil
}

// Get returns one mirrored row, or nil when the id was never mirrored.
func (s *Store) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	const q = `
		SELECT task_id, task_type, status, file_id, kwargs, error, created_at, updated_at
		FROM tasks WHERE task_id = ?`

	row := s.db.QueryRowContext(ctx, q, taskID)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return rec, nil
}

// Recent lists mirrored tasks newest-first. status "" matches everything;
// limit <= 0 means no cap.
func (s *Store) Recent(ctx context.Context, status string, limit int) ([]TaskRecord, error) {
	q := `
		SELECT task_id, task_type, status, file_id, kwargs, error, created_at, updated_at
		FROM tasks`
	args := []interface{}{}
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	q += " ORDER BY updated_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	records := make([]TaskRecord, 0, 32)
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return records, nil
}

func scanRecord(scan func(...interface{}) error) (*TaskRecord, error) {
	var rec TaskRecord
	var created, updated string
	if err := scan(&rec.TaskID, &rec.TaskType, &rec.Status, &rec.FileID,
		&rec.Kwargs, &rec.Error, &created, &updated); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &rec, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
