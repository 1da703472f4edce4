package thread

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-runtime/internal/shared/model"
)

// mockThreadStore 实现 ThreadStore 接口
type mockThreadStore struct {
	threads  map[string]*model.Thread
	messages map[string][]*model.Message
	memories map[string][]*model.Memory
	deleted  []string
}

func newMockThreadStore() *mockThreadStore {
	return &mockThreadStore{
		threads:  make(map[string]*model.Thread),
		messages: make(map[string][]*model.Message),
		memories: make(map[string][]*model.Memory),
	}
}

func (m *mockThreadStore) CreateThread(ctx context.Context, thread *model.Thread) error {
	m.threads[thread.ID] = thread
	return nil
}

func (m *mockThreadStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	return m.threads[id], nil
}

func (m *mockThreadStore) ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, error) {
	var out []*model.Thread
	for _, t := range m.threads {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockThreadStore) UpdateThreadTitle(ctx context.Context, id, title string) error {
	if t := m.threads[id]; t != nil {
		t.Title = title
	}
	return nil
}

func (m *mockThreadStore) DeleteThread(ctx context.Context, id string) error {
	delete(m.threads, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockThreadStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	return nil
}

func (m *mockThreadStore) ListMessages(ctx context.Context, threadID string, llmOnly bool) ([]*model.Message, error) {
	msgs := m.messages[threadID]
	if !llmOnly {
		return msgs, nil
	}
	var out []*model.Message
	for _, msg := range msgs {
		if msg.IsLLMMessage {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockThreadStore) ListMemoriesByThread(ctx context.Context, threadID string, limit int) ([]*model.Memory, error) {
	return m.memories[threadID], nil
}

func newTestMux() (*http.ServeMux, *mockThreadStore) {
	store := newMockThreadStore()
	mux := http.NewServeMux()
	NewHandlerWithInterfaces(store).RegisterRoutes(mux)
	return mux, store
}

func TestCreateThread(t *testing.T) {
	mux, store := newTestMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/threads", strings.NewReader(`{"title":"调研"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var out model.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, strings.HasPrefix(out.ID, "thread-"))
	assert.Equal(t, "调研", out.Title)
	assert.Contains(t, store.threads, out.ID)
}

func TestGetThread(t *testing.T) {
	mux, store := newTestMux()
	store.threads["th-1"] = &model.Thread{ID: "th-1", Title: "hello"}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/threads/th-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/threads/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateThreadTitle(t *testing.T) {
	mux, store := newTestMux()
	store.threads["th-1"] = &model.Thread{ID: "th-1", Title: "old"}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("PATCH", "/api/v1/threads/th-1", strings.NewReader(`{"title":"new"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", store.threads["th-1"].Title)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("PATCH", "/api/v1/threads/th-1", strings.NewReader(`{"title":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteThread(t *testing.T) {
	mux, store := newTestMux()
	store.threads["th-1"] = &model.Thread{ID: "th-1"}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/threads/th-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"th-1"}, store.deleted)
}

func TestCreateMessage(t *testing.T) {
	mux, store := newTestMux()
	store.threads["th-1"] = &model.Thread{ID: "th-1"}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/threads/th-1/messages", strings.NewReader(`{"content":"你好"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, store.messages["th-1"], 1)
	msg := store.messages["th-1"][0]
	assert.Equal(t, model.MessageTypeUser, msg.Type)
	assert.True(t, msg.IsLLMMessage)
	assert.Equal(t, "你好", msg.ContentText())
}

func TestCreateMessageThreadNotFound(t *testing.T) {
	mux, _ := newTestMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/threads/nope/messages", strings.NewReader(`{"content":"hi"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMessageRequiresContent(t *testing.T) {
	mux, store := newTestMux()
	store.threads["th-1"] = &model.Thread{ID: "th-1"}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/threads/th-1/messages", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessagesLLMOnly(t *testing.T) {
	mux, store := newTestMux()
	store.threads["th-1"] = &model.Thread{ID: "th-1"}
	store.messages["th-1"] = []*model.Message{
		{ID: "msg-1", ThreadID: "th-1", Type: model.MessageTypeUser, IsLLMMessage: true, CreatedAt: time.Now()},
		{ID: "msg-2", ThreadID: "th-1", Type: model.MessageTypeStatus, IsLLMMessage: false, CreatedAt: time.Now()},
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/threads/th-1/messages?llm_only=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Messages []*model.Message `json:"messages"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "msg-1", out.Messages[0].ID)
}

func TestListMemories(t *testing.T) {
	mux, store := newTestMux()
	store.memories["th-1"] = []*model.Memory{
		{ID: "mem-1", ThreadID: "th-1", Content: "summary", Importance: 0.9},
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/threads/th-1/memories", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Memories []*model.Memory `json:"memories"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "mem-1", out.Memories[0].ID)
}
