// Package repository Message 相关的存储操作
package repository

import (
	"context"
	"database/sql"

	"agents-runtime/internal/shared/model"
)

// CreateMessage 创建消息
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	query := s.rebind(`
		INSERT INTO messages (id, thread_id, type, content, is_llm_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ThreadID, msg.Type, []byte(msg.Content), msg.IsLLMMessage, msg.CreatedAt)
	return err
}

// GetMessage 获取消息
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	query := s.rebind(`SELECT id, thread_id, type, content, is_llm_message, created_at
			  FROM messages WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// scanMessage 辅助函数
func scanMessage(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Message, error) {
	msg := &model.Message{}
	var content []byte
	err := scanner.Scan(
		&msg.ID, &msg.ThreadID, &msg.Type, &content, &msg.IsLLMMessage, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Content = content
	return msg, nil
}

// ListMessages 按创建时间升序列出 Thread 的消息
func (s *Store) ListMessages(ctx context.Context, threadID string, llmOnly bool) ([]*model.Message, error) {
	query := `SELECT id, thread_id, type, content, is_llm_message, created_at
			  FROM messages WHERE thread_id = $1`
	if llmOnly {
		query += ` AND is_llm_message = ` + s.dialect.BooleanLiteral(true)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CountMessages 统计 Thread 的消息数
func (s *Store) CountMessages(ctx context.Context, threadID string) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM messages WHERE thread_id = $1`)
	var count int
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&count)
	return count, err
}
