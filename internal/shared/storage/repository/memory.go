// Package repository Memory 相关的存储操作
package repository

import (
	"context"
	"encoding/json"

	"agents-runtime/internal/shared/model"
)

// CreateMemory 创建长期记忆条目
func (s *Store) CreateMemory(ctx context.Context, memory *model.Memory) error {
	tags, err := json.Marshal(memory.Tags)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(memory.Metadata)
	if err != nil {
		return err
	}
	query := s.rebind(`
		INSERT INTO memories (id, thread_id, content, importance, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err = s.db.ExecContext(ctx, query,
		memory.ID, memory.ThreadID, memory.Content, memory.Importance,
		string(tags), string(metadata), memory.CreatedAt)
	return err
}

// ListMemoriesByThread 按重要度和时间倒序列出 Thread 的记忆
func (s *Store) ListMemoriesByThread(ctx context.Context, threadID string, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.rebind(`SELECT id, thread_id, content, importance, tags, metadata, created_at
			  FROM memories WHERE thread_id = $1
			  ORDER BY importance DESC, created_at DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*model.Memory
	for rows.Next() {
		m := &model.Memory{}
		var tags, metadata []byte
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Content, &m.Importance, &tags, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			_ = json.Unmarshal(tags, &m.Tags)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &m.Metadata)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
