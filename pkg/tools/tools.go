// Package tools 定义工具能力接口和注册表
//
// 工具是模型可调用的封闭能力：{名称, 输入 Schema, 执行}。
// 副作用（沙箱命令执行、文件 I/O、网络抓取等）完全封装在
// Invoke 背后，执行循环只看到结果或错误。
//
// 设计原则：
//   - 新工具实现 Tool 接口并在启动时注册，不做运行时反射发现
//   - Registry 构建完成后只读，查找无锁
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool 工具能力接口
type Tool interface {
	// Name 返回唯一的工具名（模型按此名发起调用）
	Name() string

	// Description 返回暴露给模型的工具说明
	Description() string

	// InputSchema 返回参数的 JSON Schema
	InputSchema() json.RawMessage

	// Invoke 执行工具，返回结果文本或错误
	// ctx 用于超时控制和取消传播
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry 工具注册表
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register 注册工具，重名时后注册的生效
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get 按名称查找工具
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List 按注册顺序列出所有工具
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Invoke 查找并执行工具
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Invoke(ctx, args)
}

// ============================================================================
// FuncTool - 函数适配器
// ============================================================================

// FuncTool 用闭包快速定义工具
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (string, error)
}

var _ Tool = (*FuncTool)(nil)

func (f *FuncTool) Name() string                 { return f.ToolName }
func (f *FuncTool) Description() string          { return f.ToolDescription }
func (f *FuncTool) InputSchema() json.RawMessage { return f.Schema }

func (f *FuncTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f.Fn(ctx, args)
}
