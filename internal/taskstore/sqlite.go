package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// sqliteStore is the default/dev task-store backend. It mirrors the
// schema and sparse-update idiom of the original Python implementation's
// storage.py, serialised behind a single mutex the same way storage.py
// serialises behind its module-level lock.
type sqliteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

func newSQLiteStore(cfg Config, logger *zap.Logger) (*sqliteStore, error) {
	if dir := filepath.Dir(cfg.URL); dir != "." && dir != "" {
		// Best-effort; sql.Open does not create directories.
		_ = os.MkdirAll(dir, 0o755)
	}
	db, err := sql.Open("sqlite3", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("taskstore: failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskstore: failed to ping sqlite database: %w", err)
	}

	s := &sqliteStore{db: db, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("task store connected", zap.String("backend", "sqlite"), zap.String("url", cfg.URL))
	return s, nil
}

func (s *sqliteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_id        TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			status         TEXT NOT NULL,
			mode           TEXT NOT NULL,
			config         TEXT,
			queue_position INTEGER NOT NULL DEFAULT 0,
			result_path    TEXT,
			error          TEXT,
			meta           TEXT,
			created_at     TEXT NOT NULL,
			started_at     TEXT,
			finished_at    TEXT,
			updated_at     TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("taskstore: failed to create tasks table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`); err != nil {
		return fmt.Errorf("taskstore: failed to create user index: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`); err != nil {
		return fmt.Errorf("taskstore: failed to create status index: %w", err)
	}
	return nil
}

func (s *sqliteStore) Create(ctx context.Context, taskID, userID string, mode Mode, config, meta map[string]any) error {
	now := time.Now().UTC()
	configJSON, err := marshalJSON(config)
	if err != nil {
		return fmt.Errorf("taskstore: failed to marshal config: %w", err)
	}
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("taskstore: failed to marshal meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, user_id, status, mode, config, queue_position, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		taskID, userID, string(StatusQueued), string(mode), configJSON, metaJSON, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("taskstore: create failed: %w", err)
	}
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, taskID string, u Update) error {
	var sets []string
	var args []any

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.QueuePosition != nil {
		sets = append(sets, "queue_position = ?")
		args = append(args, *u.QueuePosition)
	}
	if u.ResultPath != nil {
		sets = append(sets, "result_path = ?")
		args = append(args, *u.ResultPath)
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}
	if u.Meta != nil {
		metaJSON, err := marshalJSON(u.Meta)
		if err != nil {
			return fmt.Errorf("taskstore: failed to marshal meta: %w", err)
		}
		sets = append(sets, "meta = ?")
		args = append(args, metaJSON)
	}
	if u.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, formatTime(*u.StartedAt))
	}
	if u.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, formatTime(*u.FinishedAt))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now().UTC()))
	args = append(args, taskID)

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = ?", strings.Join(sets, ", "))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("taskstore: update failed: %w", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, userID, taskID string) (*Record, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE user_id = ? AND task_id = ?`, userID, taskID)
	rec, err := scanRecord(row)
	s.mu.Unlock()
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: get failed: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) List(ctx context.Context, userID string, limit int) ([]*Record, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("taskstore: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore: list scan failed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT task_id, user_id, status, mode, config, queue_position, result_path, error, meta, created_at, started_at, finished_at, updated_at`

// rowScanner abstracts *sql.Row and *sql.Rows so scanRecord serves both
// Get (single row) and List (row set).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                               Record
		status, mode                      string
		configJSON, metaJSON              sql.NullString
		resultPath, errMsg                sql.NullString
		createdAt, updatedAt              string
		startedAt, finishedAt             sql.NullString
	)
	if err := row.Scan(&rec.TaskID, &rec.UserID, &status, &mode, &configJSON, &rec.QueuePosition,
		&resultPath, &errMsg, &metaJSON, &createdAt, &startedAt, &finishedAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Mode = Mode(mode)
	rec.ResultPath = resultPath.String
	rec.Error = errMsg.String
	rec.Config = unmarshalJSONLenient(configJSON)
	rec.Meta = unmarshalJSONLenient(metaJSON)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if startedAt.Valid && startedAt.String != "" {
		t := parseTime(startedAt.String)
		rec.StartedAt = &t
	}
	if finishedAt.Valid && finishedAt.String != "" {
		t := parseTime(finishedAt.String)
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalJSONLenient decodes a compact JSON string into a map. A
// decode failure yields a nil map rather than an error — a corrupt
// stored blob should not make an otherwise-successful read fail.
func unmarshalJSONLenient(v sql.NullString) map[string]any {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}

// formatTime writes a fixed-width UTC timestamp so that ordering the
// stored text (ORDER BY created_at) is chronological.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
