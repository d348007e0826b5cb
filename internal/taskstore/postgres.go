package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// postgresStore is the production task-store backend, built on a
// pgxpool connection pool.
type postgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func newPostgresStore(ctx context.Context, cfg Config, logger *zap.Logger) (*postgresStore, error) {
	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("taskstore: failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("taskstore: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("taskstore: failed to ping database: %w", err)
	}

	s := &postgresStore{pool: pool, logger: logger}
	if err := s.init(connCtx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("task store connected",
		zap.String("backend", "postgres"),
		zap.Int("max_conns", cfg.MaxConns),
		zap.Int("min_conns", cfg.MinConns))
	return s, nil
}

func (s *postgresStore) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
			created_at     TIMESTAMPTZ NOT NULL,
			started_at     TIMESTAMPTZ,
			finished_at    TIMESTAMPTZ,
			updated_at     TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("taskstore: failed to create tasks table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`); err != nil {
		return fmt.Errorf("taskstore: failed to create user index: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`); err != nil {
		return fmt.Errorf("taskstore: failed to create status index: %w", err)
	}
	return nil
}

func (s *postgresStore) Create(ctx context.Context, taskID, userID string, mode Mode, config, meta map[string]any) error {
	now := time.Now().UTC()
	configJSON, err := marshalJSON(config)
	if err != nil {
		return fmt.Errorf("taskstore: failed to marshal config: %w", err)
	}
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("taskstore: failed to marshal meta: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, user_id, status, mode, config, queue_position, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)`,
		taskID, userID, string(StatusQueued), string(mode), nullableString(configJSON), nullableString(metaJSON), now)
	if err != nil {
		return fmt.Errorf("taskstore: create failed: %w", err)
	}
	return nil
}

func (s *postgresStore) Update(ctx context.Context, taskID string, u Update) error {
	var sets []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if u.Status != nil {
		sets = append(sets, "status = "+arg(string(*u.Status)))
	}
	if u.QueuePosition != nil {
		sets = append(sets, "queue_position = "+arg(*u.QueuePosition))
	}
	if u.ResultPath != nil {
		sets = append(sets, "result_path = "+arg(*u.ResultPath))
	}
	if u.Error != nil {
		sets = append(sets, "error = "+arg(*u.Error))
	}
	if u.Meta != nil {
		metaJSON, err := marshalJSON(u.Meta)
		if err != nil {
			return fmt.Errorf("taskstore: failed to marshal meta: %w", err)
		}
		sets = append(sets, "meta = "+arg(nullableString(metaJSON)))
	}
	if u.StartedAt != nil {
		sets = append(sets, "started_at = "+arg(*u.StartedAt))
	}
	if u.FinishedAt != nil {
		sets = append(sets, "finished_at = "+arg(*u.FinishedAt))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = "+arg(time.Now().UTC()))
	taskIDPlaceholder := arg(taskID)

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = %s", strings.Join(sets, ", "), taskIDPlaceholder)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("taskstore: update failed: %w", err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, userID, taskID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, pgSelectColumns+` FROM tasks WHERE user_id = $1 AND task_id = $2`, userID, taskID)
	rec, err := scanPgRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore: get failed: %w", err)
	}
	return rec, nil
}

func (s *postgresStore) List(ctx context.Context, userID string, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, pgSelectColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("taskstore: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore: list scan failed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSelectColumns = `SELECT task_id, user_id, status, mode, config, queue_position, result_path, error, meta, created_at, started_at, finished_at, updated_at`

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanPgRecord(row pgRowScanner) (*Record, error) {
	var (
		rec                   Record
		status, mode          string
		configJSON, metaJSON  sql.NullString
		resultPath, errMsg    sql.NullString
		startedAt, finishedAt pq.NullTime
	)
	if err := row.Scan(&rec.TaskID, &rec.UserID, &status, &mode, &configJSON, &rec.QueuePosition,
		&resultPath, &errMsg, &metaJSON, &rec.CreatedAt, &startedAt, &finishedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Mode = Mode(mode)
	rec.ResultPath = resultPath.String
	rec.Error = errMsg.String
	rec.Config = unmarshalJSONLenient(configJSON)
	rec.Meta = unmarshalJSONLenient(metaJSON)
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
