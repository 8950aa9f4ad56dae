// Package state persists local task history: one row per terminal
// task, written by the worker and read back by the status API and
// doctor. SQLite keeps it a single file under the walker state dir.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bryanowens-dev/walker/internal/core"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id       TEXT PRIMARY KEY,
	dog           TEXT NOT NULL,
	status        TEXT NOT NULL,
	pr_url        TEXT NOT NULL DEFAULT '',
	cost_total    REAL NOT NULL DEFAULT 0,
	cost_json     TEXT NOT NULL DEFAULT '{}',
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	duration_secs REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_finished_at ON tasks(finished_at DESC);
`

// TaskRecord is one archived task.
type TaskRecord struct {
	TaskID       string
	Dog          string
	Status       string
	PRURL        string
	CostTotal    float64
	CostJSON     string
	StartedAt    time.Time
	FinishedAt   time.Time
	DurationSecs float64
}

// Archive is the task history store.
type Archive struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenArchive opens (creating if needed) the archive at path.
func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Record upserts one terminal task. Re-running a requeued task
// overwrites its earlier row.
func (a *Archive) Record(ctx context.Context, rec TaskRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, dog, status, pr_url, cost_total, cost_json, started_at, finished_at, duration_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			dog = excluded.dog,
			status = excluded.status,
			pr_url = excluded.pr_url,
			cost_total = excluded.cost_total,
			cost_json = excluded.cost_json,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_secs = excluded.duration_secs`,
		rec.TaskID, rec.Dog, rec.Status, rec.PRURL, rec.CostTotal, rec.CostJSON,
		rec.StartedAt.UTC().Format(time.RFC3339), rec.FinishedAt.UTC().Format(time.RFC3339),
		rec.DurationSecs)
	if err != nil {
		return fmt.Errorf("recording task %s: %w", rec.TaskID, err)
	}
	return nil
}

// RecordResult archives a pipeline result under the dog that ran it.
func (a *Archive) RecordResult(ctx context.Context, dog string, res core.TaskResult) error {
	costJSON := "{}"
	if len(res.CostBreakdown) > 0 {
		if data, err := json.Marshal(res.CostBreakdown); err == nil {
			costJSON = string(data)
		}
	}
	return a.Record(ctx, TaskRecord{
		TaskID:       res.TaskID,
		Dog:          dog,
		Status:       string(res.Status),
		PRURL:        res.PRURL,
		CostTotal:    res.CostTotal,
		CostJSON:     costJSON,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		DurationSecs: res.Duration().Seconds(),
	})
}

// Recent returns the n most recently finished tasks, newest first.
func (a *Archive) Recent(ctx context.Context, n int) ([]TaskRecord, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT task_id, dog, status, pr_url, cost_total, cost_json, started_at, finished_at, duration_secs
		FROM tasks ORDER BY finished_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying task history: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one archived task, or a not-found error.
func (a *Archive) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT task_id, dog, status, pr_url, cost_total, cost_json, started_at, finished_at, duration_secs
		FROM tasks WHERE task_id = ?`, taskID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", taskID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (TaskRecord, error) {
	var (
		rec                 TaskRecord
		startedAt, finished string
	)
	err := row.Scan(&rec.TaskID, &rec.Dog, &rec.Status, &rec.PRURL, &rec.CostTotal,
		&rec.CostJSON, &startedAt, &finished, &rec.DurationSecs)
	if err != nil {
		return TaskRecord{}, err
	}
	if t, perr := time.Parse(time.RFC3339, startedAt); perr == nil {
		rec.StartedAt = t
	}
	if t, perr := time.Parse(time.RFC3339, finished); perr == nil {
		rec.FinishedAt = t
	}
	return rec, nil
}
