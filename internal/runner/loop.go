// loop.go 执行循环
//
// 单次 Run 的迭代主体：组装提示词 → 调用模型 → 落库并广播事件 →
// 执行工具调用 → 依据 finish reason 决定是否自动续跑。
// 循环不负责终态落库，终态由协调器统一 finalize。
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
	"agents-runtime/internal/shared/storage"
	"agents-runtime/pkg/llm"
	"agents-runtime/pkg/logging"
	"agents-runtime/pkg/tools"
)

// 循环默认参数
const (
	// DefaultMaxIterations 自动续跑预算
	DefaultMaxIterations = 25

	// DefaultMaxToolCallsPerTurn 单轮工具调用上限，超出立即终止
	DefaultMaxToolCallsPerTurn = 32
)

// softCapMessage 预算耗尽时发出的提示内容
const softCapMessage = "This run reached its automatic continuation limit. " +
	"Start a new run to continue the conversation."

// ErrStopped 循环因停止信号退出
var ErrStopped = errors.New("run stopped by request")

// LoopConfig 执行循环配置
type LoopConfig struct {
	// MaxIterations 自动续跑预算，<=0 时取默认值
	MaxIterations int
	// MaxToolCallsPerTurn 单轮工具调用上限，<=0 时取默认值
	MaxToolCallsPerTurn int
	// SystemPrompt 系统提示词
	SystemPrompt string
}

// Loop 执行循环
type Loop struct {
	store  storage.PersistentStore
	broker broker.Broker
	client llm.Client
	tools  *tools.Registry
	cw     *ContextWindow
	cfg    LoopConfig
	logger *logging.Logger
}

// NewLoop 创建执行循环
func NewLoop(store storage.PersistentStore, brk broker.Broker, client llm.Client, reg *tools.Registry, cw *ContextWindow, cfg LoopConfig, logger *logging.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = DefaultMaxToolCallsPerTurn
	}
	return &Loop{
		store:  store,
		broker: brk,
		client: client,
		tools:  reg,
		cw:     cw,
		cfg:    cfg,
		logger: logger,
	}
}

// Run 驱动一次 Run 直到自然结束、预算耗尽或收到停止信号
//
// 正常结束与预算耗尽返回 nil；停止信号返回 ErrStopped；
// 其余错误为执行失败，已产生的输出保留在 broker 列表中。
func (l *Loop) Run(ctx context.Context, run *model.Run, params model.ExecutionParams, stop <-chan struct{}) error {
	log := l.logger.WithRunID(run.ID).WithThreadID(run.ThreadID)
	tempMessage := params.TempMessage

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		if stopRequested(ctx, stop) {
			log.Info("Stop signal received, ending run", "iteration", iteration)
			return ErrStopped
		}

		if _, err := l.cw.CheckAndSummarize(ctx, run.ThreadID, l.cfg.SystemPrompt, params.ModelName, false); err != nil {
			return fmt.Errorf("context window check failed: %w", err)
		}

		prompt, err := l.cw.AssemblePrompt(ctx, run.ThreadID, l.cfg.SystemPrompt, tempMessage)
		if err != nil {
			return err
		}
		// 临时消息只进首轮
		tempMessage = ""

		req := &llm.Request{
			Model:          params.ModelName,
			Messages:       prompt,
			Tools:          toolSchemas(l.tools),
			EnableThinking: params.EnableThinking,
		}

		resp, err := l.invoke(ctx, run.ID, req, params.Stream)
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}

		log.Debug("Model turn finished",
			"iteration", iteration, "finish_reason", resp.FinishReason, "tool_calls", len(resp.ToolCalls))

		if err := l.persistAssistantTurn(ctx, run.ThreadID, resp); err != nil {
			return err
		}

		if len(resp.ToolCalls) > l.cfg.MaxToolCallsPerTurn {
			// 超限立即终止，不发软上限提示
			log.Warn("Tool call limit exceeded in a single turn",
				"count", len(resp.ToolCalls), "limit", l.cfg.MaxToolCallsPerTurn)
			return l.emit(ctx, model.NewFinishEvent(run.ID, model.FinishReasonXMLToolLimit))
		}

		if len(resp.ToolCalls) > 0 {
			if err := l.emit(ctx, model.NewFinishEvent(run.ID, model.FinishReasonToolCalls)); err != nil {
				return err
			}
			if err := l.executeTools(ctx, run, resp.ToolCalls); err != nil {
				return err
			}
			continue
		}

		switch resp.FinishReason {
		case model.FinishReasonXMLToolLimit:
			return l.emit(ctx, model.NewFinishEvent(run.ID, model.FinishReasonXMLToolLimit))
		default:
			return l.emit(ctx, model.NewFinishEvent(run.ID, model.FinishReasonStop))
		}
	}

	// 预算耗尽：发一次软上限提示后按完成收尾
	log.Info("Auto-continue budget exhausted", "max_iterations", l.cfg.MaxIterations)
	capEvent := &model.OutputEvent{
		Type:      model.EventTypeContent,
		RunID:     run.ID,
		Content:   softCapMessage,
		Timestamp: time.Now(),
	}
	if err := l.emit(ctx, capEvent); err != nil {
		return err
	}
	return l.emit(ctx, model.NewFinishEvent(run.ID, model.FinishReasonRunLimit))
}

// invoke 调用模型，流式时逐块广播 content 事件
func (l *Loop) invoke(ctx context.Context, runID string, req *llm.Request, stream bool) (*llm.Response, error) {
	if !stream {
		resp, err := l.client.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Content != "" {
			event := &model.OutputEvent{
				Type:      model.EventTypeContent,
				RunID:     runID,
				Content:   resp.Content,
				Timestamp: time.Now(),
			}
			if err := l.emit(ctx, event); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}

	reader, err := l.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &llm.Response{}
	for chunk := range reader.Chunks {
		if chunk.ContentDelta != "" {
			resp.Content += chunk.ContentDelta
			event := &model.OutputEvent{
				Type:      model.EventTypeContent,
				RunID:     runID,
				Content:   chunk.ContentDelta,
				Timestamp: time.Now(),
			}
			if err := l.emit(ctx, event); err != nil {
				return nil, err
			}
		}
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// executeTools 顺序执行一轮的全部工具调用
//
// 单个工具失败只产生 tool_error 状态事件并把错误文本作为结果
// 反馈给模型，不中断 Run。
func (l *Loop) executeTools(ctx context.Context, run *model.Run, calls []llm.ToolCall) error {
	for _, call := range calls {
		callEvent := &model.OutputEvent{
			Type:       model.EventTypeToolCall,
			RunID:      run.ID,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Arguments:  call.Arguments,
			Timestamp:  time.Now(),
		}
		if err := l.emit(ctx, callEvent); err != nil {
			return err
		}

		result, invokeErr := l.tools.Invoke(ctx, call.Name, call.Arguments)
		if invokeErr != nil {
			l.logger.WithRunID(run.ID).WithError(invokeErr).Warn("Tool invocation failed", "tool", call.Name)
			result = fmt.Sprintf("Error: %v", invokeErr)
			statusEvent := model.NewStatusEvent(run.ID, model.StatusToolError, invokeErr.Error())
			if err := l.emit(ctx, statusEvent); err != nil {
				return err
			}
		}

		resultEvent := &model.OutputEvent{
			Type:       model.EventTypeToolResult,
			RunID:      run.ID,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Content:    result,
			Timestamp:  time.Now(),
		}
		if err := l.emit(ctx, resultEvent); err != nil {
			return err
		}

		toolMsg := &model.Message{
			ID:           generateID("msg"),
			ThreadID:     run.ThreadID,
			Type:         model.MessageTypeTool,
			Content:      newToolResultContent(call.ID, result),
			IsLLMMessage: true,
			CreatedAt:    time.Now(),
		}
		if err := l.store.CreateMessage(ctx, toolMsg); err != nil {
			return fmt.Errorf("failed to persist tool result: %w", err)
		}
	}
	return nil
}

// persistAssistantTurn 落库一轮助手输出
func (l *Loop) persistAssistantTurn(ctx context.Context, threadID string, resp *llm.Response) error {
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil
	}
	msg := &model.Message{
		ID:           generateID("msg"),
		ThreadID:     threadID,
		Type:         model.MessageTypeAssistant,
		Content:      newAssistantContent(resp),
		IsLLMMessage: true,
		CreatedAt:    time.Now(),
	}
	if err := l.store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}
	return nil
}

// emit 追加事件到响应列表并发新事件通知
func (l *Loop) emit(ctx context.Context, event *model.OutputEvent) error {
	if err := l.broker.AppendEvent(ctx, event.RunID, event); err != nil {
		return fmt.Errorf("failed to append output event: %w", err)
	}
	return nil
}

// stopRequested 非阻塞检查停止信号
func stopRequested(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// toolSchemas 将注册表导出为模型调用用的工具描述
func toolSchemas(reg *tools.Registry) []llm.ToolSchema {
	listed := reg.List()
	if len(listed) == 0 {
		return nil
	}
	schemas := make([]llm.ToolSchema, 0, len(listed))
	for _, t := range listed {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return schemas
}

// newAssistantContent 构造助手消息体
func newAssistantContent(resp *llm.Response) json.RawMessage {
	payload := struct {
		Role      string         `json:"role"`
		Content   string         `json:"content"`
		ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
	}{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
	raw, _ := json.Marshal(payload)
	return raw
}

// newToolResultContent 构造工具结果消息体
func newToolResultContent(toolCallID, result string) json.RawMessage {
	payload := struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id,omitempty"`
	}{Role: "tool", Content: result, ToolCallID: toolCallID}
	raw, _ := json.Marshal(payload)
	return raw
}
