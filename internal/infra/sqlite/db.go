// Package sqlite provides a SQLite-backed task store for single-node
// deployments without Redis. Uses WAL mode for concurrent reads and
// crash-safe writes. Retention mirrors the Redis layout: every row carries
// an expiry that each write refreshes, and expired rows are invisible to
// reads until PurgeExpired removes them.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
)

const defaultListSize = 50

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ domain.TaskStore = (*DB)(nil)

// Open creates or opens the SQLite database at dir/tasks.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string, ttl time.Duration) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "tasks.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	d := &DB{db: db, ttl: ttl, now: time.Now}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// SetClock replaces the time source used for expiry and update stamps.
func (d *DB) SetClock(now func() time.Time) { d.now = now }

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id         TEXT PRIMARY KEY,
			created_at REAL NOT NULL,
			expires_at INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_expires ON tasks(expires_at)`,

		`CREATE TABLE IF NOT EXISTS task_messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL,
			sample_id  TEXT NOT NULL,
			body       TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sample ON task_messages(task_id, sample_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func (d *DB) expiry(now time.Time) int64 {
	return now.Add(d.ttl).UnixNano()
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("sqlite", op).Observe(time.Since(start).Seconds())
}

// ─── Task Repository ────────────────────────────────────────────────────────

func (d *DB) Create(ctx context.Context, task *domain.Task) error {
	defer observe("create", time.Now())
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO tasks (id, created_at, expires_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			created_at=excluded.created_at,
			expires_at=excluded.expires_at,
			data=excluded.data`,
		task.ID, task.CreatedAt, d.expiry(d.now()), string(data),
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (d *DB) Get(ctx context.Context, id string) (*domain.Task, error) {
	defer observe("get", time.Now())
	row := d.db.QueryRowContext(ctx,
		`SELECT data FROM tasks WHERE id = ? AND expires_at > ?`, id, d.now().UnixNano())
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return task, err
}

// Update merges u into the stored record in one transaction.
func (d *DB) Update(ctx context.Context, id string, u domain.TaskUpdate) error {
	defer observe("update", time.Now())
	now := d.now()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT data FROM tasks WHERE id = ? AND expires_at > ?`, id, now.UnixNano())
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return err
	}

	u.Apply(task, now)
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET data = ?, expires_at = ? WHERE id = ?`,
		string(data), d.expiry(now), id,
	); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return tx.Commit()
}

// List returns live tasks ordered by creation time, newest first.
func (d *DB) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	defer observe("list", time.Now())
	if limit <= 0 {
		limit = defaultListSize
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT data FROM tasks WHERE expires_at > ? ORDER BY created_at DESC LIMIT ?`,
		d.now().UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task and its message logs.
func (d *DB) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND expires_at > ?`, id, d.now().UnixNano())
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_messages WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return nil
}

// ─── Message Logs ───────────────────────────────────────────────────────────

func (d *DB) AppendMessage(ctx context.Context, taskID, sampleID, message string) error {
	defer observe("append_message", time.Now())
	now := d.now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_messages (task_id, sample_id, body, expires_at) VALUES (?, ?, ?, ?)`,
		taskID, sampleID, message, d.expiry(now),
	); err != nil {
		return fmt.Errorf("append message %s/%s: %w", taskID, sampleID, err)
	}
	// The whole log shares one expiry, like a Redis list key.
	if _, err := tx.ExecContext(ctx,
		`UPDATE task_messages SET expires_at = ? WHERE task_id = ? AND sample_id = ?`,
		d.expiry(now), taskID, sampleID,
	); err != nil {
		return fmt.Errorf("refresh message expiry: %w", err)
	}
	return tx.Commit()
}

func (d *DB) Messages(ctx context.Context, taskID, sampleID string) ([]string, error) {
	defer observe("messages", time.Now())
	rows, err := d.db.QueryContext(ctx,
		`SELECT body FROM task_messages
		 WHERE task_id = ? AND sample_id = ? AND expires_at > ?
		 ORDER BY seq`,
		taskID, sampleID, d.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("read messages %s/%s: %w", taskID, sampleID, err)
	}
	defer rows.Close()

	msgs := []string{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		msgs = append(msgs, body)
	}
	return msgs, rows.Err()
}

func (d *DB) AllMessages(ctx context.Context, taskID string) (map[string][]string, error) {
	defer observe("all_messages", time.Now())
	rows, err := d.db.QueryContext(ctx,
		`SELECT sample_id, body FROM task_messages
		 WHERE task_id = ? AND expires_at > ?
		 ORDER BY seq`,
		taskID, d.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("read messages %s: %w", taskID, err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var sampleID, body string
		if err := rows.Scan(&sampleID, &body); err != nil {
			return nil, err
		}
		out[sampleID] = append(out[sampleID], body)
	}
	return out, rows.Err()
}

// PurgeExpired deletes rows whose retention window has passed and returns
// the number of task records removed.
func (d *DB) PurgeExpired(ctx context.Context) (int64, error) {
	now := d.now().UnixNano()
	result, err := d.db.ExecContext(ctx, `DELETE FROM tasks WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM task_messages WHERE expires_at <= ?`, now); err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	return result.RowsAffected()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*domain.Task, error) {
	var data string
	if err := s.Scan(&data); err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
