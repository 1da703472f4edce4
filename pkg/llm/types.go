// Package llm 模型调用类型定义
package llm

import "encoding/json"

// ============================================================================
// 消息与工具调用
// ============================================================================

// ChatMessage 一条对话消息（模型调用线格式）
type ChatMessage struct {
	Role       string     `json:"role"` // system / user / assistant / tool
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall 模型发起的一次工具调用请求
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema 暴露给模型的工具描述
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ============================================================================
// 请求与响应
// ============================================================================

// Request 一次模型调用请求
type Request struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Tools          []ToolSchema  `json:"tools,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	EnableThinking bool          `json:"enable_thinking,omitempty"`
}

// Response 一次模型调用的完整响应
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// Usage Token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Chunk 流式响应的一个增量片段
type Chunk struct {
	ContentDelta string `json:"content_delta,omitempty"`
	// FinishReason 仅在最后一个片段携带
	FinishReason string `json:"finish_reason,omitempty"`
	// ToolCalls 工具调用在流末尾整体给出
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
