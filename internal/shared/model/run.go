// Package model 定义核心数据模型
//
// run.go 包含执行相关的数据模型定义：
//   - Run：针对某个 Thread 的一次 Agent 执行
//   - RunStatus：执行状态枚举
//   - ExecutionParams：执行参数
package model

import (
	"time"
)

// ============================================================================
// RunStatus - 执行状态
// ============================================================================

// RunStatus 表示一次 Agent 执行（Run）的状态
//
// 状态机：running -> {completed, failed, stopped}
//
// 三个终止状态均为最终状态，Run 记录一旦终止不再变更，
// 永久保留用于审计和历史查询。
//   - running：执行中（创建即进入此状态，没有排队阶段）
//   - completed：正常完成
//   - failed：执行出错（Error 字段记录错误文本）
//   - stopped：被显式停止
type RunStatus string

const (
	// RunStatusRunning 执行中：Worker 正在驱动执行循环
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted 已完成：模型给出最终回答，正常结束
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed 已失败：执行过程出错，Error 字段记录原因
	RunStatusFailed RunStatus = "failed"

	// RunStatusStopped 已停止：收到停止信号后退出
	RunStatusStopped RunStatus = "stopped"
)

// ============================================================================
// Run - 执行实例
// ============================================================================

// Run 表示针对某个 Thread 的一次 Agent 执行尝试
//
// Run 由 Coordinator 独占管理：创建一次，状态只通过 Coordinator
// 串行化的 finalize 路径变更，永不删除。
//
// 典型生命周期：
//
//	创建 → running → completed/failed/stopped
//
// 字段说明：
//   - ID：唯一标识符，格式如 "run-abc123"
//   - ThreadID：所属对话 ID
//   - Status：执行状态
//   - StartedAt：开始时间（创建即开始）
//   - CompletedAt：终止时间（进入终止状态时填充）
//   - Error：错误信息（失败时填充）
type Run struct {
	ID          string     `json:"id" bson:"_id" db:"id"`
	ThreadID    string     `json:"thread_id" bson:"thread_id" db:"thread_id"`
	Status      RunStatus  `json:"status" bson:"status" db:"status"`
	StartedAt   time.Time  `json:"started_at" bson:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" db:"completed_at"`
	Error       *string    `json:"error,omitempty" bson:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// ============================================================================
// ExecutionParams - 执行参数
// ============================================================================

// ExecutionParams 定义一次 Run 的执行参数
//
// 由客户端在创建 Run 时提供，执行期间不可变：
//   - ModelName：模型名称（空则使用服务端默认）
//   - EnableThinking：是否开启推理/思考模式
//   - Stream：模型调用是否使用流式响应
//   - TempMessage：一次性注入消息（只参与本次第一轮提示词组装，不落库）
type ExecutionParams struct {
	// ModelName 模型名称
	ModelName string `json:"model_name,omitempty"`

	// EnableThinking 是否开启推理/思考模式
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// Stream 模型调用是否使用流式响应
	Stream bool `json:"stream,omitempty"`

	// TempMessage 一次性注入消息内容
	TempMessage string `json:"temp_message,omitempty"`
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断 Run 是否处于终止状态
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// IsTerminal 判断状态是否为终止状态
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return true
	default:
		return false
	}
}

// ParseRunStatus 解析状态字符串，未知值返回 false
func ParseRunStatus(s string) (RunStatus, bool) {
	switch RunStatus(s) {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return RunStatus(s), true
	default:
		return "", false
	}
}
