// Package server 路由配置与核心基础设施
//
// 本包是 HTTP API 的入口，负责：
//   - 路由请求到各领域独立包（thread / run）
//   - 中间件链：指标 -> 认证 -> CORS
//   - WebSocket 事件网关与 Prometheus 指标
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由配置与中间件
//   - metrics.go: Prometheus 指标
//   - websocket.go: WebSocket 事件网关
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"agents-runtime/internal/apiserver/auth"
	"agents-runtime/internal/apiserver/run"
	"agents-runtime/internal/runner"
	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/storage"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，持有各领域包共享的依赖：
//   - store: 持久化存储层（Thread / Message / Run / Memory）
//   - broker: 实时输出代理（事件流）
//   - coord: 执行协调器（启动 / 停止 Run）
type Handler struct {
	store  storage.PersistentStore
	broker broker.Broker
	coord  *runner.Coordinator

	authConfig auth.Config
	streamCfg  run.StreamConfig

	eventGateway *EventGateway
	metrics      *Metrics
}

// Options Handler 可选配置
type Options struct {
	AuthConfig auth.Config

	// PollInterval / WatchdogTimeout 输出流跟读参数，零值使用默认
	PollInterval    time.Duration
	WatchdogTimeout time.Duration

	// Metrics 指标实例，nil 时注册到默认注册表
	Metrics *Metrics
}

// NewHandler 创建 Handler 实例
func NewHandler(store storage.PersistentStore, brk broker.Broker, coord *runner.Coordinator, opts Options) *Handler {
	h := &Handler{
		store:      store,
		broker:     brk,
		coord:      coord,
		authConfig: opts.AuthConfig,
		streamCfg: run.StreamConfig{
			PollInterval:    opts.PollInterval,
			WatchdogTimeout: opts.WatchdogTimeout,
		},
	}
	h.metrics = opts.Metrics
	if h.metrics == nil {
		h.metrics = NewMetrics("agents")
	}
	h.eventGateway = NewEventGateway(store, brk, opts.AuthConfig)
	h.eventGateway.SetMetrics(h.metrics)
	return h
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// generateID 生成带前缀的唯一标识符
//
// 使用加密安全的随机数生成 6 字节（12 个十六进制字符）的 ID，
// 格式为：prefix-xxxxxxxxxxxx
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
