// event.go 执行输出事件模型
//
// OutputEvent 是执行过程对外可见的最小单元：模型产出的内容片段、
// 工具调用及结果、状态通知、终止标记，统一以 JSON 形式追加到
// Run 的输出列表，供观察者按序消费。
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// OutputEventType 输出事件类型
type OutputEventType string

const (
	// EventTypeContent 模型产出的内容片段
	EventTypeContent OutputEventType = "content"

	// EventTypeToolCall 模型发起的工具调用
	EventTypeToolCall OutputEventType = "tool_call"

	// EventTypeToolResult 工具执行结果
	EventTypeToolResult OutputEventType = "tool_result"

	// EventTypeStatus 状态通知（错误、终止状态等）
	EventTypeStatus OutputEventType = "status"

	// EventTypeFinish 单轮模型调用结束标记，携带 FinishReason
	EventTypeFinish OutputEventType = "finish"
)

// ============================================================================
// 状态值与结束原因
// ============================================================================

// 状态事件的 Status 取值
const (
	// StatusToolError 工具执行出错（非致命，执行继续）
	StatusToolError = "tool_error"

	// StatusThreadRunFailed 执行失败的终止通知，携带错误描述
	StatusThreadRunFailed = "thread_run_failed"

	// StatusCompleted / StatusStopped / StatusFailed 终止状态通知，
	// 观察者据此停止跟读。失败终态以 thread_run_failed 的形式广播，
	// StatusFailed 仍在终止词表中，观察者对两种形式都停
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// FinishReason 单轮模型调用的结束原因
const (
	// FinishReasonStop 模型给出最终回答，自然结束
	FinishReasonStop = "stop"

	// FinishReasonToolCalls 模型请求调用工具，需要继续下一轮
	FinishReasonToolCalls = "tool_calls"

	// FinishReasonXMLToolLimit 单轮内工具调用数达到上限，截断后继续
	FinishReasonXMLToolLimit = "xml_tool_limit_reached"

	// FinishReasonRunLimit 自动续跑轮数达到上限（软上限，合成通知）
	FinishReasonRunLimit = "agent_run_limit"
)

// ============================================================================
// OutputEvent - 输出事件
// ============================================================================

// OutputEvent 执行过程中产生的一条输出事件
//
// 事件按产生顺序追加到 Run 的输出列表，列表本身是权威存储，
// 观察者通过「回放 + 跟读」获得 exactly-once-observed 语义。
//
// 字段按 Type 选择性填充：
//   - content：Content
//   - tool_call：ToolName / ToolCallID / Arguments
//   - tool_result：ToolName / ToolCallID / Content（结果文本）
//   - status：Status / Message
//   - finish：FinishReason
type OutputEvent struct {
	Type OutputEventType `json:"type"`

	// RunID 所属 Run（写入输出列表时由执行侧填充）
	RunID string `json:"run_id,omitempty"`

	// Content 内容片段或工具结果文本
	Content string `json:"content,omitempty"`

	// ToolName / ToolCallID / Arguments 工具调用相关字段
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`

	// Status / Message 状态通知
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// FinishReason 单轮结束原因
	FinishReason string `json:"finish_reason,omitempty"`

	// Timestamp 事件产生时间
	Timestamp time.Time `json:"timestamp"`
}

// IsTerminal 判断事件是否为终止通知（观察者据此停止跟读）
func (e *OutputEvent) IsTerminal() bool {
	if e.Type != EventTypeStatus {
		return false
	}
	switch e.Status {
	case StatusCompleted, StatusStopped, StatusFailed, StatusThreadRunFailed:
		return true
	default:
		return false
	}
}

// Encode 序列化为 JSON 字节串（写入输出列表的线格式）
func (e *OutputEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeOutputEvent 从 JSON 字节串解析事件
func DecodeOutputEvent(raw []byte) (*OutputEvent, error) {
	var e OutputEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// NewStatusEvent 构造状态通知事件
func NewStatusEvent(runID, status, message string) *OutputEvent {
	return &OutputEvent{
		Type:      EventTypeStatus,
		RunID:     runID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewFinishEvent 构造单轮结束事件
func NewFinishEvent(runID, reason string) *OutputEvent {
	return &OutputEvent{
		Type:         EventTypeFinish,
		RunID:        runID,
		FinishReason: reason,
		Timestamp:    time.Now(),
	}
}
