// Package run 执行领域 - HTTP 处理
package run

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"agents-runtime/internal/runner"
	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
	"agents-runtime/internal/shared/storage"
)

// RunStore 定义 run handler 需要的存储接口（用于测试 mock）
type RunStore interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRunsByThread(ctx context.Context, threadID string) ([]*model.Run, error)
}

// Coordinator 定义 run handler 需要的协调器接口
type Coordinator interface {
	Start(ctx context.Context, threadID string, params model.ExecutionParams) (*model.Run, error)
	RequestStop(ctx context.Context, runID string) error
}

// StreamConfig 输出流参数
type StreamConfig struct {
	PollInterval    time.Duration
	WatchdogTimeout time.Duration
}

// Handler 执行领域 HTTP 处理器
type Handler struct {
	store     RunStore
	coord     Coordinator
	broker    broker.Broker
	streamCfg StreamConfig
}

// NewHandler 创建执行处理器
func NewHandler(store storage.PersistentStore, coord Coordinator, brk broker.Broker, streamCfg StreamConfig) *Handler {
	return &Handler{store: store, coord: coord, broker: brk, streamCfg: streamCfg}
}

// NewHandlerWithInterfaces 使用接口创建处理器（用于测试）
func NewHandlerWithInterfaces(store RunStore, coord Coordinator, brk broker.Broker) *Handler {
	return &Handler{store: store, coord: coord, broker: brk}
}

// RegisterRoutes 注册执行相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/threads/{id}/runs", h.Create)
	mux.HandleFunc("GET /api/v1/threads/{id}/runs", h.ListByThread)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/runs/{id}/stop", h.Stop)
	mux.HandleFunc("GET /api/v1/runs/{id}/responses", h.GetResponses)
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", h.Stream)
}

// CreateRequest 启动 Run 的请求体
type CreateRequest struct {
	ModelName      string `json:"model_name"`
	EnableThinking bool   `json:"enable_thinking"`
	Stream         bool   `json:"stream"`
	// TempMessage 一次性消息：进入本次首轮提示词但不落库
	TempMessage string `json:"temp_message"`
}

// Create 在 Thread 上启动一次 Run
// POST /api/v1/threads/{id}/runs
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var req CreateRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	params := model.ExecutionParams{
		ModelName:      req.ModelName,
		EnableThinking: req.EnableThinking,
		Stream:         req.Stream,
		TempMessage:    req.TempMessage,
	}

	run, err := h.coord.Start(r.Context(), threadID, params)
	switch {
	case errors.Is(err, runner.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "thread not found")
		return
	case errors.Is(err, runner.ErrThreadBusy):
		writeError(w, http.StatusConflict, "thread already has a running run")
		return
	case err != nil:
		log.Printf("[run.create.failed] thread_id=%s error=%v", threadID, err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	log.Printf("[run.create.success] run_id=%s thread_id=%s", run.ID, threadID)
	writeJSON(w, http.StatusCreated, run)
}

// Get 获取单个 Run 详情
// GET /api/v1/runs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListByThread 列出 Thread 的所有 Run
// GET /api/v1/threads/{id}/runs
func (h *Handler) ListByThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	runs, err := h.store.ListRunsByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// Stop 请求停止 Run
// POST /api/v1/runs/{id}/stop
//
// 幂等：对已终止的 Run 同样返回成功。
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.coord.RequestStop(r.Context(), id)
	switch {
	case errors.Is(err, runner.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		log.Printf("[run.stop.failed] run_id=%s error=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to stop run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stop_requested"})
}

// GetResponses 读取 Run 的输出事件列表（非流式）
// GET /api/v1/runs/{id}/responses?from=
func (h *Handler) GetResponses(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if from < 0 {
		from = 0
	}
	events, err := h.broker.ReadEvents(r.Context(), id, from)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read responses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": events, "count": len(events)})
}

// Stream 以 NDJSON 流式输出 Run 的事件：先补播历史再实时跟踪
// GET /api/v1/runs/{id}/stream
//
// 流在 Run 终止、客户端断开或看门狗超时后结束。
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	tailer := broker.NewTailer(h.broker, id)
	tailer.TerminalAtAttach = run.IsTerminal()
	tailer.PollInterval = h.streamCfg.PollInterval
	tailer.WatchdogTimeout = h.streamCfg.WatchdogTimeout

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan *model.OutputEvent, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- tailer.Stream(ctx, events)
	}()

	enc := json.NewEncoder(w)
	for {
		select {
		case event := <-events:
			if err := enc.Encode(event); err != nil {
				// 客户端断开
				cancel()
				<-errCh
				return
			}
			flusher.Flush()
		case err := <-errCh:
			// Stream 返回后缓冲里可能还有已写入的事件，清空后结束
			for {
				select {
				case event := <-events:
					enc.Encode(event)
					flusher.Flush()
					continue
				default:
				}
				break
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[run.stream.ended] run_id=%s error=%v", id, err)
			}
			return
		}
	}
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
