// Package server 路由配置
package server

import (
	"net/http"

	"agents-runtime/internal/apiserver/auth"
	"agents-runtime/internal/apiserver/run"
	"agents-runtime/internal/apiserver/thread"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//
// 会话管理 (Thread):
//   - POST   /api/v1/threads                 - 创建会话
//   - GET    /api/v1/threads                 - 列出会话
//   - GET    /api/v1/threads/{id}            - 获取会话详情
//   - PATCH  /api/v1/threads/{id}            - 更新会话标题
//   - DELETE /api/v1/threads/{id}            - 删除会话
//   - POST   /api/v1/threads/{id}/messages   - 追加用户消息
//   - GET    /api/v1/threads/{id}/messages   - 列出会话消息
//   - GET    /api/v1/threads/{id}/memories   - 列出长期记忆
//
// 执行管理 (Run):
//   - POST   /api/v1/threads/{id}/runs       - 在会话上启动 Run
//   - GET    /api/v1/threads/{id}/runs       - 列出会话的 Run
//   - GET    /api/v1/runs/{id}               - 获取 Run 详情
//   - POST   /api/v1/runs/{id}/stop          - 请求停止 Run
//   - GET    /api/v1/runs/{id}/responses     - 读取输出事件列表
//   - GET    /api/v1/runs/{id}/stream        - NDJSON 流式输出
//
// WebSocket:
//   - GET    /ws/runs/{id}/stream            - 实时事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// Thread 接口
	threadHandler := thread.NewHandler(h.store)
	threadHandler.RegisterRoutes(mux)

	// Run 接口
	runHandler := run.NewHandler(h.store, h.coord, h.broker, h.streamCfg)
	runHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authConfig)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(authedHandler)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("/ws/runs/{id}/stream", h.eventGateway.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
