// Package thread 会话领域 - HTTP 处理
package thread

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"agents-runtime/internal/shared/model"
	"agents-runtime/internal/shared/storage"
)

// ThreadStore 定义 thread handler 需要的存储接口（用于测试 mock）
type ThreadStore interface {
	CreateThread(ctx context.Context, thread *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, error)
	UpdateThreadTitle(ctx context.Context, id, title string) error
	DeleteThread(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, threadID string, llmOnly bool) ([]*model.Message, error)
	ListMemoriesByThread(ctx context.Context, threadID string, limit int) ([]*model.Memory, error)
}

// Handler 会话领域 HTTP 处理器
type Handler struct {
	store ThreadStore
}

// NewHandler 创建会话处理器
func NewHandler(store storage.PersistentStore) *Handler {
	return &Handler{store: store}
}

// NewHandlerWithInterfaces 使用接口创建处理器（用于测试）
func NewHandlerWithInterfaces(store ThreadStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/threads", h.Create)
	mux.HandleFunc("GET /api/v1/threads", h.List)
	mux.HandleFunc("GET /api/v1/threads/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/threads/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/threads/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/threads/{id}/messages", h.CreateMessage)
	mux.HandleFunc("GET /api/v1/threads/{id}/messages", h.ListMessages)
	mux.HandleFunc("GET /api/v1/threads/{id}/memories", h.ListMemories)
}

// CreateRequest 创建 Thread 的请求体
type CreateRequest struct {
	Title string `json:"title"`
}

// Create 创建会话
// POST /api/v1/threads
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	now := time.Now()
	thread := &model.Thread{
		ID:        generateID("thread"),
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateThread(r.Context(), thread); err != nil {
		log.Printf("[thread.create.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// List 列出会话
// GET /api/v1/threads?limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	threads, err := h.store.ListThreads(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads, "count": len(threads)})
}

// Get 获取会话详情
// GET /api/v1/threads/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	thread, err := h.store.GetThread(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// UpdateRequest 更新 Thread 的请求体
type UpdateRequest struct {
	Title string `json:"title"`
}

// Update 更新会话标题
// PATCH /api/v1/threads/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := h.store.UpdateThreadTitle(r.Context(), id, req.Title); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": req.Title})
}

// Delete 删除会话及其全部消息
// DELETE /api/v1/threads/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteThread(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// MessageRequest 追加用户消息的请求体
type MessageRequest struct {
	Content string `json:"content"`
}

// CreateMessage 向会话追加一条用户消息
// POST /api/v1/threads/{id}/messages
//
// 消息进入后续所有提示词。启动 Run 时的一次性消息
// 走 run 接口的 temp_message 字段，不落库。
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	thread, err := h.store.GetThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	msg := &model.Message{
		ID:           generateID("msg"),
		ThreadID:     threadID,
		Type:         model.MessageTypeUser,
		Content:      model.NewLLMMessageContent("user", req.Content),
		IsLLMMessage: true,
		CreatedAt:    time.Now(),
	}
	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		log.Printf("[thread.message.failed] thread_id=%s error=%v", threadID, err)
		writeError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListMessages 列出会话消息
// GET /api/v1/threads/{id}/messages?llm_only=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	llmOnly := r.URL.Query().Get("llm_only") == "true"
	msgs, err := h.store.ListMessages(r.Context(), threadID, llmOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

// ListMemories 列出会话的长期记忆
// GET /api/v1/threads/{id}/memories
func (h *Handler) ListMemories(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	memories, err := h.store.ListMemoriesByThread(r.Context(), threadID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list memories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": memories, "count": len(memories)})
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

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
