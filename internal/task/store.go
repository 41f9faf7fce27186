package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrNotFound marks lookups for task ids the store has never seen.
var ErrNotFound = errors.New("task not found")

// Store is the durable task record, keyed by task id. Writes go through a
// file lock so concurrent trigger and serve processes do not interleave.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create task lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			log TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init task schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock task store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock task store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) Add(t Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("add task: missing task id")
	}
	if strings.TrimSpace(string(t.Type)) == "" {
		return fmt.Errorf("add task: missing task type")
	}
	return s.withLock(func() error {
		createdUnix := unixOrNow(t.CreatedAt)
		updatedUnix := unixOrNow(t.UpdatedAt)
		_, err := s.db.Exec(`
			INSERT INTO tasks (task_id, task_type, status, log, payload, user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, string(t.Type), string(t.Status), t.Log, t.Payload, t.UserID, createdUnix, updatedUnix)
		if err != nil {
			return fmt.Errorf("add task: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(id string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT task_id, task_type, status, log, payload, user_id, created_at, updated_at
		FROM tasks WHERE task_id = ?
	`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Task{}, fmt.Errorf("read task: %w", err)
	}
	return t, nil
}

func (s *Store) List(status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(string(status)) == "" {
		rows, err = s.db.Query(`
			SELECT task_id, task_type, status, log, payload, user_id, created_at, updated_at
			FROM tasks ORDER BY updated_at DESC LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT task_id, task_type, status, log, payload, user_id, created_at, updated_at
			FROM tasks WHERE status = ? ORDER BY updated_at DESC LIMIT ?
		`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

// ListPending returns every task still waiting for dispatch.
func (s *Store) ListPending() ([]Task, error) {
	return s.List(StatusPending, 1000)
}

// Claim atomically moves a pending task to running. It returns false when the
// task was already claimed (or is past pending), which closes the
// double-dispatch window between trigger runs.
func (s *Store) Claim(id string) (bool, error) {
	var claimed bool
	err := s.withLock(func() error {
		res, err := s.db.Exec(`
			UPDATE tasks SET status = ?, updated_at = ?
			WHERE task_id = ? AND status = ?
		`, string(StatusRunning), time.Now().UTC().Unix(), id, string(StatusPending))
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		claimed = n == 1
		return nil
	})
	return claimed, err
}

// Release returns a claimed task to pending without touching its log. Used
// for benign aborts where no externally observable work happened.
func (s *Store) Release(id string) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(`
			UPDATE tasks SET status = ?, updated_at = ?
			WHERE task_id = ? AND status = ?
		`, string(StatusPending), time.Now().UTC().Unix(), id, string(StatusRunning))
		if err != nil {
			return fmt.Errorf("release task: %w", err)
		}
		return nil
	})
}

// UpdateStatus persists the current status together with the accumulated log
// in one write. Callers always pass the full log so prior lines are never
// dropped mid-execution.
func (s *Store) UpdateStatus(id string, status Status, log string) error {
	return s.withLock(func() error {
		res, err := s.db.Exec(`
			UPDATE tasks SET status = ?, log = ?, updated_at = ?
			WHERE task_id = ?
		`, string(status), log, time.Now().UTC().Unix(), id)
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("update task status: task not found: %s", id)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t           Task
		taskType    string
		status      string
		createdUnix int64
		updatedUnix int64
	)
	if err := row.Scan(&t.ID, &taskType, &status, &t.Log, &t.Payload, &t.UserID, &createdUnix, &updatedUnix); err != nil {
		return Task{}, err
	}
	t.Type = Kind(taskType)
	t.Status = Status(status)
	t.CreatedAt = time.Unix(createdUnix, 0).UTC().Format(time.RFC3339)
	t.UpdatedAt = time.Unix(updatedUnix, 0).UTC().Format(time.RFC3339)
	return t, nil
}

func unixOrNow(v string) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}
