// message.go 对话域数据模型：
//   - Thread：一个持续的对话（消息历史的容器）
//   - Message：对话中的一条消息
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Thread - 对话
// ============================================================================

// Thread 表示一个持续的对话
//
// Thread 是消息历史的容器，Run 总是挂在某个 Thread 之下。
// 同一 Thread 上可以先后发起多次 Run，每次 Run 读取完整历史。
type Thread struct {
	ID        string    `json:"id" bson:"_id" db:"id"`
	Title     string    `json:"title,omitempty" bson:"title,omitempty" db:"title"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// ============================================================================
// MessageType - 消息类型
// ============================================================================

// MessageType 消息类型
type MessageType string

const (
	// MessageTypeUser 用户消息
	MessageTypeUser MessageType = "user"

	// MessageTypeAssistant 助手（模型）回复
	MessageTypeAssistant MessageType = "assistant"

	// MessageTypeTool 工具执行结果
	MessageTypeTool MessageType = "tool"

	// MessageTypeSummary 上下文压缩产生的摘要消息
	//
	// 摘要消息携带 IsLLMMessage=true，在组装提示词时替代
	// 被压缩掉的旧消息参与上下文。
	MessageTypeSummary MessageType = "summary"

	// MessageTypeStatus 状态类消息（不参与提示词组装）
	MessageTypeStatus MessageType = "status"
)

// ============================================================================
// Message - 消息
// ============================================================================

// Message 表示对话中的一条消息
//
// Content 为原始 JSON，结构因 Type 而异：
//   - user/assistant/summary：{"role":"...","content":"..."}
//   - tool：{"role":"tool","tool_call_id":"...","content":"..."}
//
// IsLLMMessage 标记该消息是否参与提示词组装。状态类消息
// （如执行事件留痕）IsLLMMessage=false，查询历史时按需过滤。
type Message struct {
	ID           string          `json:"id" bson:"_id" db:"id"`
	ThreadID     string          `json:"thread_id" bson:"thread_id" db:"thread_id"`
	Type         MessageType     `json:"type" bson:"type" db:"type"`
	Content      json.RawMessage `json:"content" bson:"content" db:"content"`
	IsLLMMessage bool            `json:"is_llm_message" bson:"is_llm_message" db:"is_llm_message"`
	CreatedAt    time.Time       `json:"created_at" bson:"created_at" db:"created_at"`
}

// ContentText 提取 Content 中的 content 字段文本，解析失败返回原始串
func (m *Message) ContentText() string {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(m.Content, &payload); err == nil && payload.Content != "" {
		return payload.Content
	}
	return string(m.Content)
}

// NewLLMMessageContent 构造标准的 {role, content} JSON 负载
func NewLLMMessageContent(role, content string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"role":    role,
		"content": content,
	})
	return raw
}
