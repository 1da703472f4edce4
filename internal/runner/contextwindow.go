// Package runner 执行域核心：协调器、执行循环、上下文窗口管理
//
// contextwindow.go 上下文窗口管理
//
// 负责两件事：
//  1. 组装提示词：一旦存在摘要，只有摘要之后的消息原文参与，
//     摘要消息本身替代更早的全部历史
//  2. 压缩决策：候选提示词的 token 数达到阈值时触发摘要化，
//     摘要同时落为 summary 消息和高重要度长期记忆
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agents-runtime/internal/shared/model"
	"agents-runtime/internal/shared/storage"
	"agents-runtime/pkg/llm"
	"agents-runtime/pkg/logging"
)

// 压缩默认参数
const (
	// DefaultTokenThreshold 触发摘要化的 token 阈值
	DefaultTokenThreshold = 120000

	// MinMessagesToSummarize 少于该数量的候选消息不值得压缩
	MinMessagesToSummarize = 3

	// DefaultSummaryTargetTokens 摘要目标长度
	DefaultSummaryTargetTokens = 10000

	// SummaryMemoryImportance 摘要记忆的重要度
	SummaryMemoryImportance = 0.9
)

// summaryInstruction 摘要化指令
const summaryInstruction = `Condense the conversation so far into a structured, chronological recap. ` +
	`Capture every decision, open task, tool result, and piece of state needed to resume seamlessly. ` +
	`Be thorough but stay within roughly %d tokens.`

// ContextWindowConfig 上下文窗口配置
type ContextWindowConfig struct {
	// TokenThreshold 触发阈值，<=0 时取默认值
	TokenThreshold int
	// SummaryTargetTokens 摘要目标长度，<=0 时取默认值
	SummaryTargetTokens int
	// SummaryModel 摘要化使用的模型，空则沿用 Run 的模型
	SummaryModel string
}

// TranscriptArchiver 在压缩生效前归档被替代的消息原文
type TranscriptArchiver interface {
	ArchiveTranscript(ctx context.Context, threadID, summaryID string, messages []*model.Message) error
}

// ContextWindow 上下文窗口管理器
type ContextWindow struct {
	store    storage.PersistentStore
	client   llm.Client
	counter  llm.TokenCounter
	archiver TranscriptArchiver
	cfg      ContextWindowConfig
	logger   *logging.Logger
}

// NewContextWindow 创建上下文窗口管理器
func NewContextWindow(store storage.PersistentStore, client llm.Client, counter llm.TokenCounter, cfg ContextWindowConfig, logger *logging.Logger) *ContextWindow {
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = DefaultTokenThreshold
	}
	if cfg.SummaryTargetTokens <= 0 {
		cfg.SummaryTargetTokens = DefaultSummaryTargetTokens
	}
	if counter == nil {
		counter = llm.NewHeuristicCounter()
	}
	return &ContextWindow{
		store:   store,
		client:  client,
		counter: counter,
		cfg:     cfg,
		logger:  logger,
	}
}

// SetArchiver 挂接转录归档器，nil 时不归档
func (m *ContextWindow) SetArchiver(a TranscriptArchiver) {
	m.archiver = a
}

// AssemblePrompt 组装提示词
//
// systemPrompt 在最前；存在摘要时，摘要消息 + 其后的消息原文；
// tempMessage 非空时作为一次性用户消息追加在末尾（不落库）。
func (m *ContextWindow) AssemblePrompt(ctx context.Context, threadID, systemPrompt, tempMessage string) ([]llm.ChatMessage, error) {
	msgs, err := m.store.ListMessages(ctx, threadID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var prompt []llm.ChatMessage
	if systemPrompt != "" {
		prompt = append(prompt, llm.ChatMessage{Role: "system", Content: systemPrompt})
	}

	for _, msg := range msgs[summaryBoundary(msgs):] {
		prompt = append(prompt, toChatMessage(msg))
	}

	if tempMessage != "" {
		prompt = append(prompt, llm.ChatMessage{Role: "user", Content: tempMessage})
	}
	return prompt, nil
}

// CheckAndSummarize 检查并按需压缩
//
// 阈值按候选提示词整体计量：systemPrompt 加上摘要边界之后的全部
// 消息。返回本轮是否插入了摘要。模型失败不致命：记日志、本轮
// 跳过，下一轮迭代会重新检查。
func (m *ContextWindow) CheckAndSummarize(ctx context.Context, threadID, systemPrompt, modelName string, force bool) (bool, error) {
	msgs, err := m.store.ListMessages(ctx, threadID, true)
	if err != nil {
		return false, fmt.Errorf("failed to list messages: %w", err)
	}

	boundary := summaryBoundary(msgs)
	candidates := make([]*model.Message, 0, len(msgs)-boundary)
	for _, msg := range msgs[boundary:] {
		// 不摘要摘要本身
		if msg.Type == model.MessageTypeSummary {
			continue
		}
		candidates = append(candidates, msg)
	}

	if !force {
		window := make([]llm.ChatMessage, 0, len(msgs)-boundary+1)
		if systemPrompt != "" {
			window = append(window, llm.ChatMessage{Role: "system", Content: systemPrompt})
		}
		for _, msg := range msgs[boundary:] {
			window = append(window, toChatMessage(msg))
		}
		if m.counter.CountMessages(window) < m.cfg.TokenThreshold {
			return false, nil
		}
	}

	if len(candidates) < MinMessagesToSummarize {
		m.logger.WithThreadID(threadID).Debug("Skipping summarization, too few messages",
			"candidates", len(candidates))
		return false, nil
	}

	summary, err := m.summarize(ctx, candidates, modelName)
	if err != nil {
		m.logger.WithThreadID(threadID).WithError(err).Warn("Summarization failed, will retry next iteration")
		return false, nil
	}

	now := time.Now()
	summaryMsg := &model.Message{
		ID:           generateID("msg"),
		ThreadID:     threadID,
		Type:         model.MessageTypeSummary,
		Content:      model.NewLLMMessageContent("assistant", summary),
		IsLLMMessage: true,
		CreatedAt:    now,
	}
	// 压缩生效前归档原文，归档失败不阻止压缩
	if m.archiver != nil {
		if err := m.archiver.ArchiveTranscript(ctx, threadID, summaryMsg.ID, candidates); err != nil {
			m.logger.WithThreadID(threadID).WithError(err).Warn("Failed to archive compressed transcript")
		}
	}

	if err := m.store.CreateMessage(ctx, summaryMsg); err != nil {
		return false, fmt.Errorf("failed to insert summary message: %w", err)
	}

	memory := &model.Memory{
		ID:         generateID("mem"),
		ThreadID:   threadID,
		Content:    summary,
		Importance: SummaryMemoryImportance,
		Tags:       []string{model.MemoryTagSummary, model.MemoryTagContextCompression},
		Metadata:   map[string]string{"summary_message_id": summaryMsg.ID},
		CreatedAt:  now,
	}
	if err := m.store.CreateMemory(ctx, memory); err != nil {
		// 摘要消息已插入，记忆写入失败只影响跨 Thread 检索
		m.logger.WithThreadID(threadID).WithError(err).Warn("Failed to persist summary memory")
	}

	m.logger.WithThreadID(threadID).Info("Inserted conversation summary",
		"summarized_messages", len(candidates), "summary_id", summaryMsg.ID)
	return true, nil
}

// summarize 调用模型生成摘要
func (m *ContextWindow) summarize(ctx context.Context, candidates []*model.Message, modelName string) (string, error) {
	if m.cfg.SummaryModel != "" {
		modelName = m.cfg.SummaryModel
	}

	req := &llm.Request{
		Model:     modelName,
		MaxTokens: m.cfg.SummaryTargetTokens,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(summaryInstruction, m.cfg.SummaryTargetTokens)},
		},
	}
	for _, msg := range candidates {
		req.Messages = append(req.Messages, toChatMessage(msg))
	}

	resp, err := m.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("model returned empty summary")
	}
	return resp.Content, nil
}

// summaryBoundary 返回最近一条摘要的下标；无摘要返回 0
//
// 下标处的摘要消息本身参与提示词（替代更早的历史）。
func summaryBoundary(msgs []*model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == model.MessageTypeSummary {
			return i
		}
	}
	return 0
}

// toChatMessage 将存储消息转换为模型调用消息
func toChatMessage(msg *model.Message) llm.ChatMessage {
	var payload struct {
		Role       string         `json:"role"`
		Content    string         `json:"content"`
		ToolCallID string         `json:"tool_call_id"`
		ToolCalls  []llm.ToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal(msg.Content, &payload); err != nil || payload.Role == "" {
		role := "user"
		if msg.Type == model.MessageTypeAssistant || msg.Type == model.MessageTypeSummary {
			role = "assistant"
		}
		return llm.ChatMessage{Role: role, Content: msg.ContentText()}
	}
	return llm.ChatMessage{
		Role:       payload.Role,
		Content:    payload.Content,
		ToolCallID: payload.ToolCallID,
		ToolCalls:  payload.ToolCalls,
	}
}
