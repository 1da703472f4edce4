// Package llm Token 计数
package llm

// TokenCounter 模型感知的 Token 计数接口
//
// 上下文窗口管理只需要量级正确的估计值，精确计数由
// 具体模型的 tokenizer 实现提供（可选）。
type TokenCounter interface {
	CountMessages(messages []ChatMessage) int
}

// HeuristicCounter 启发式计数器
//
// 按「4 字节 ≈ 1 token」估算，另加每条消息的固定开销。
// 对中英混合文本偏保守（中文每字符 3 字节，实际 token 数更少），
// 保守估计只会让压缩提前触发，不影响正确性。
type HeuristicCounter struct {
	// BytesPerToken 为零时取 4
	BytesPerToken int
	// PerMessageOverhead 每条消息的结构开销，为零时取 4
	PerMessageOverhead int
}

var _ TokenCounter = (*HeuristicCounter)(nil)

// NewHeuristicCounter 创建启发式计数器
func NewHeuristicCounter() *HeuristicCounter {
	return &HeuristicCounter{}
}

// CountMessages 估算消息列表的 token 总数
func (c *HeuristicCounter) CountMessages(messages []ChatMessage) int {
	bytesPerToken := c.BytesPerToken
	if bytesPerToken <= 0 {
		bytesPerToken = 4
	}
	overhead := c.PerMessageOverhead
	if overhead <= 0 {
		overhead = 4
	}

	total := 0
	for _, m := range messages {
		size := len(m.Content) + len(m.Role)
		for _, tc := range m.ToolCalls {
			size += len(tc.Name) + len(tc.Arguments)
		}
		total += size/bytesPerToken + overhead
	}
	return total
}
