// memory.go 长期记忆数据模型
//
// 上下文压缩时会把对话摘要写入长期记忆，带高重要度标记，
// 供后续 Run 组装提示词时检索。
package model

import "time"

// ============================================================================
// Memory - 长期记忆条目
// ============================================================================

// Memory 一条长期记忆
//
// 字段说明：
//   - ThreadID：来源对话
//   - Content：记忆内容（如对话摘要文本）
//   - Importance：重要度 [0,1]，检索排序用
//   - Tags：分类标签（如 "summary", "context_compression"）
type Memory struct {
	ID         string            `json:"id" bson:"_id" db:"id"`
	ThreadID   string            `json:"thread_id" bson:"thread_id" db:"thread_id"`
	Content    string            `json:"content" bson:"content" db:"content"`
	Importance float64           `json:"importance" bson:"importance" db:"importance"`
	Tags       []string          `json:"tags,omitempty" bson:"tags,omitempty" db:"-"`
	Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty" db:"-"`
	CreatedAt  time.Time         `json:"created_at" bson:"created_at" db:"created_at"`
}

// 压缩摘要记忆的标准标签
const (
	MemoryTagSummary            = "summary"
	MemoryTagContextCompression = "context_compression"
)
