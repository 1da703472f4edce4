// Package repository Run 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"agents-runtime/internal/shared/model"
)

// CreateRun 创建 Run
func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	query := s.rebind(`
		INSERT INTO runs (id, thread_id, status, started_at, completed_at, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.ThreadID, run.Status, run.StartedAt, run.CompletedAt,
		run.Error, run.CreatedAt, run.UpdatedAt)
	return err
}

// GetRun 获取 Run
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := s.rebind(`SELECT id, thread_id, status, started_at, completed_at, error, created_at, updated_at
			  FROM runs WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// scanRun 辅助函数
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Run, error) {
	run := &model.Run{}
	err := scanner.Scan(
		&run.ID, &run.ThreadID, &run.Status, &run.StartedAt,
		&run.CompletedAt, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// scanRuns 批量扫描
func scanRuns(rows *sql.Rows) ([]*model.Run, error) {
	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunsByThread 列出 Thread 的所有 Run
func (s *Store) ListRunsByThread(ctx context.Context, threadID string) ([]*model.Run, error) {
	query := s.rebind(`SELECT id, thread_id, status, started_at, completed_at, error, created_at, updated_at
			  FROM runs WHERE thread_id = $1 ORDER BY created_at DESC`)
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListRunningRuns 列出所有 running 状态的 Run
func (s *Store) ListRunningRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT id, thread_id, status, started_at, completed_at, error, created_at, updated_at
			  FROM runs WHERE status = 'running' ORDER BY started_at ASC LIMIT $1`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListStaleRunningRuns 列出开始时间早于 threshold 的 running Run
func (s *Store) ListStaleRunningRuns(ctx context.Context, threshold time.Duration) ([]*model.Run, error) {
	cutoff := time.Now().Add(-threshold)
	query := s.rebind(`SELECT id, thread_id, status, started_at, completed_at, error, created_at, updated_at
			  FROM runs
			  WHERE status = 'running' AND started_at < $1
			  ORDER BY started_at ASC
			  LIMIT 100`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// UpdateRunStatus 将 Run 置为终止状态并记录终止时间
// 只允许 running -> 终止状态的迁移，已终止的 Run 不会被覆盖
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg *string) error {
	now := time.Now()
	query := s.rebind(`UPDATE runs
			  SET status = $1, completed_at = $2, error = $3, updated_at = $4
			  WHERE id = $5 AND status = 'running'`)
	_, err := s.db.ExecContext(ctx, query, status, now, errMsg, now, id)
	return err
}
