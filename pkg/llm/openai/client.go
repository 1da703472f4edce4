// Package openai OpenAI 兼容协议的模型调用实现
//
// 适配任何暴露 /v1/chat/completions 的推理服务
// （OpenAI、vLLM、Ollama、各家兼容网关）。
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agents-runtime/pkg/llm"
)

// Client OpenAI 兼容客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 创建客户端
// baseURL 形如 "https://api.openai.com"（不含 /v1/chat/completions 路径）
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// ============================================================================
// 线格式
// ============================================================================

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func toWireRequest(req *llm.Request, stream bool) *wireRequest {
	wr := &wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.InputSchema
		wr.Tools = append(wr.Tools, wt)
	}
	return wr
}

func fromWireToolCalls(calls []wireToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, llm.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: json.RawMessage(c.Function.Arguments),
		})
	}
	return out
}

// ============================================================================
// 调用
// ============================================================================

func (c *Client) post(ctx context.Context, req *llm.Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(toWireRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode, string(payload))
	}
	return resp, nil
}

// Complete 非流式调用
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	choice := wr.Choices[0]
	return &llm.Response{
		Content:      choice.Message.Content,
		ToolCalls:    fromWireToolCalls(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
		},
	}, nil
}

// Stream 流式调用（SSE）
func (c *Client) Stream(ctx context.Context, req *llm.Request) (*llm.StreamReader, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.Chunk, 16)
	var streamErr error
	reader := llm.NewStreamReader(chunks, &streamErr)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		var pendingCalls []wireToolCall
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var wc wireChunk
			if err := json.Unmarshal([]byte(data), &wc); err != nil || len(wc.Choices) == 0 {
				continue
			}

			choice := wc.Choices[0]
			pendingCalls = mergeToolCallDeltas(pendingCalls, choice.Delta.ToolCalls)

			chunk := &llm.Chunk{
				ContentDelta: choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				chunk.ToolCalls = fromWireToolCalls(pendingCalls)
			}
			if chunk.ContentDelta == "" && chunk.FinishReason == "" {
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			streamErr = fmt.Errorf("stream read failed: %w", err)
		}
	}()

	return reader, nil
}

// mergeToolCallDeltas 聚合流式工具调用片段
// OpenAI 协议按 index 分片传工具调用参数，这里按顺序拼接
func mergeToolCallDeltas(acc, deltas []wireToolCall) []wireToolCall {
	for _, d := range deltas {
		if d.ID != "" || len(acc) == 0 {
			acc = append(acc, d)
			continue
		}
		last := &acc[len(acc)-1]
		last.Function.Arguments += d.Function.Arguments
	}
	return acc
}
