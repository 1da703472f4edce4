// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（SQL）、mongostore/（MongoDB）
//   - 初始化时通过依赖注入传入实现
//
// 注意：运行态数据（输出列表、停止信号、活跃标记）不走本包，
// 见 broker/ 和 registry/。
package storage

import (
	"context"
	"time"

	"agents-runtime/internal/shared/model"
)

// ============================================================================
// 持久化存储接口
// ============================================================================

// ThreadStore 对话存储接口
type ThreadStore interface {
	CreateThread(ctx context.Context, thread *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, error)
	UpdateThreadTitle(ctx context.Context, id string, title string) error
	TouchThread(ctx context.Context, id string) error
	DeleteThread(ctx context.Context, id string) error
}

// MessageStore 消息存储接口
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessages 按创建时间升序返回 Thread 的消息
	// llmOnly=true 时只返回参与提示词组装的消息
	ListMessages(ctx context.Context, threadID string, llmOnly bool) ([]*model.Message, error)
	CountMessages(ctx context.Context, threadID string) (int, error)
}

// RunStore Run 存储接口
//
// Run 永不删除，终止后保留用于审计。
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRunsByThread(ctx context.Context, threadID string) ([]*model.Run, error)
	// ListRunningRuns 列出所有 running 状态的 Run（启动恢复扫描用）
	ListRunningRuns(ctx context.Context, limit int) ([]*model.Run, error)
	// ListStaleRunningRuns 列出开始时间早于 threshold 的 running Run（周期对账用）
	ListStaleRunningRuns(ctx context.Context, threshold time.Duration) ([]*model.Run, error)
	// UpdateRunStatus 将 Run 置为终止状态并记录终止时间
	// errMsg 仅在 status=failed 时填充
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, errMsg *string) error
}

// MemoryStore 长期记忆存储接口
type MemoryStore interface {
	CreateMemory(ctx context.Context, memory *model.Memory) error
	ListMemoriesByThread(ctx context.Context, threadID string, limit int) ([]*model.Memory, error)
}

// PersistentStore 聚合持久化接口
// 由 repository.Store（PostgreSQL/SQLite）和 mongostore.Store（MongoDB）实现
type PersistentStore interface {
	ThreadStore
	MessageStore
	RunStore
	MemoryStore
	Close() error
}
