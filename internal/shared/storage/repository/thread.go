// Package repository Thread 相关的存储操作
package repository

import (
	"context"
	"database/sql"

	"agents-runtime/internal/shared/model"
)

// CreateThread 创建 Thread
func (s *Store) CreateThread(ctx context.Context, thread *model.Thread) error {
	query := s.rebind(`
		INSERT INTO threads (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`)
	_, err := s.db.ExecContext(ctx, query,
		thread.ID, thread.Title, thread.CreatedAt, thread.UpdatedAt)
	return err
}

// GetThread 获取 Thread
func (s *Store) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	query := s.rebind(`SELECT id, title, created_at, updated_at FROM threads WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	thread, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return thread, err
}

// scanThread 辅助函数
func scanThread(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Thread, error) {
	thread := &model.Thread{}
	var title *string
	err := scanner.Scan(&thread.ID, &title, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if title != nil {
		thread.Title = *title
	}
	return thread, nil
}

// ListThreads 分页列出 Thread，按更新时间倒序
func (s *Store) ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT id, title, created_at, updated_at
			  FROM threads ORDER BY updated_at DESC LIMIT $1 OFFSET $2`)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*model.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

// UpdateThreadTitle 更新 Thread 标题
func (s *Store) UpdateThreadTitle(ctx context.Context, id string, title string) error {
	query := s.rebind(`UPDATE threads SET title = $1, updated_at = ` + s.dialect.CurrentTimestamp() + ` WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, title, id)
	return err
}

// TouchThread 刷新 Thread 更新时间（写入消息后调用）
func (s *Store) TouchThread(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE threads SET updated_at = ` + s.dialect.CurrentTimestamp() + ` WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// DeleteThread 删除 Thread（级联删除消息）
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM threads WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
