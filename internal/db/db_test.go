package db

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return database
}

func TestNew_CreatesSchemaInNestedDir(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "nested", "deeper", "tasks.db"))
	defer database.Close()

	for _, table := range []string{"tasks", "_migrations"} {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var index string
	err := database.Conn().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='tasks_expires_at_idx'",
	).Scan(&index)
	if err != nil {
		t.Errorf("expiry index not found: %v", err)
	}
}

func TestNew_Pragmas(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "tasks.db"))
	defer database.Close()

	var journalMode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	var timeout int
	if err := database.Conn().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout error = %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestNew_MigrationsAppliedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	openTestDB(t, path).Close()

	database := openTestDB(t, path)
	defer database.Close()

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}

	var count int
	if err := database.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != len(files) {
		t.Errorf("recorded migrations = %d, want %d", count, len(files))
	}
}

func TestNew_FailsInterruptedTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")

	first := openTestDB(t, path)
	_, err := first.Conn().Exec(`
		INSERT INTO tasks (id, status, filename, progress, created_at, expires_at)
		VALUES ('running-task', 'processing', 'clip.mp4', 50, 1000.5, 99999999999),
		       ('done-task', 'complete', 'clip.mp4', 100, 1000.5, 99999999999)
	`)
	if err != nil {
		t.Fatalf("insert tasks: %v", err)
	}
	first.Close()

	second := openTestDB(t, path)
	defer second.Close()

	tests := []struct {
		id         string
		wantStatus string
		wantError  string
	}{
		{"running-task", "error", "interrupted by restart"},
		{"done-task", "complete", ""},
	}
	for _, tt := range tests {
		var status string
		var errMsg *string
		err := second.Conn().QueryRow("SELECT status, error FROM tasks WHERE id = ?", tt.id).Scan(&status, &errMsg)
		if err != nil {
			t.Fatalf("query %s: %v", tt.id, err)
		}
		if status != tt.wantStatus {
			t.Errorf("%s status = %s, want %s", tt.id, status, tt.wantStatus)
		}
		got := ""
		if errMsg != nil {
			got = *errMsg
		}
		if got != tt.wantError {
			t.Errorf("%s error = %q, want %q", tt.id, got, tt.wantError)
		}
	}
}

func TestNew_UnwritableLocation(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(filepath.Join(blocker, "tasks.db"), nil); err == nil {
		t.Fatal("New() under a regular file succeeded, want error")
	}
}
