package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteRepository keeps tasks in the tasks table. Expiry is an expires_at
// column compared on every access, so expired rows are unreachable before
// PurgeExpired physically removes them.
type SQLiteRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB, ttl time.Duration) *SQLiteRepository {
	return &SQLiteRepository{db: db, ttl: ttl, now: time.Now}
}

func (r *SQLiteRepository) Create(ctx context.Context, t *Task) error {
	status := t.Status
	if status == "" {
		status = StatusProcessing
	}
	expiresAt := EpochSeconds(r.now().Add(r.ttl))

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, filename, progress, created_at, results, error, expires_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			filename = excluded.filename,
			progress = excluded.progress,
			created_at = excluded.created_at,
			results = NULL,
			error = excluded.error,
			expires_at = excluded.expires_at
	`, t.ID, string(status), t.Filename, t.Progress, t.CreatedAt, nullString(t.Error), expiresAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, id string, u Update) error {
	if u.empty() {
		return r.mustExist(ctx, id)
	}

	var sets []string
	var args []interface{}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *u.Progress)
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ? AND expires_at > ?"
	args = append(args, id, EpochSeconds(r.now()))
	return r.execExisting(ctx, id, query, args...)
}

func (r *SQLiteRepository) AppendResults(ctx context.Context, id string, results []Result) error {
	encoded, err := encodeResults(results)
	if err != nil {
		return err
	}
	return r.execExisting(ctx, id,
		"UPDATE tasks SET results = ? WHERE id = ? AND expires_at > ?",
		encoded, id, EpochSeconds(r.now()))
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT status, filename, progress, created_at, results, error
		FROM tasks WHERE id = ? AND expires_at > ?
	`, id, EpochSeconds(r.now()))

	t := &Task{ID: id}
	var status string
	var filename, results, errMsg sql.NullString

	err := row.Scan(&status, &filename, &t.Progress, &t.CreatedAt, &results, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	t.Status = Status(status)
	t.Filename = filename.String
	t.Error = errMsg.String
	if results.Valid {
		if t.Results, err = decodeResults(results.String); err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
	}
	return t, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM tasks WHERE id = ? AND expires_at > ?", id, EpochSeconds(r.now())).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check task %s: %w", id, err)
	}
	return true, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// PurgeExpired physically removes expired rows and reports how many went.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE expires_at <= ?", EpochSeconds(r.now()))
	if err != nil {
		return 0, fmt.Errorf("purge expired tasks: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) execExisting(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) mustExist(ctx context.Context, id string) error {
	ok, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
