package run

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-runtime/internal/runner"
	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
)

// mockRunStore 实现 RunStore 接口
type mockRunStore struct {
	runs map[string]*model.Run
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{runs: make(map[string]*model.Run)}
}

func (m *mockRunStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return m.runs[id], nil
}

func (m *mockRunStore) ListRunsByThread(ctx context.Context, threadID string) ([]*model.Run, error) {
	var out []*model.Run
	for _, r := range m.runs {
		if r.ThreadID == threadID {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockCoordinator 实现 Coordinator 接口
type mockCoordinator struct {
	startErr   error
	stopErr    error
	started    []model.ExecutionParams
	stopped    []string
	startedRun *model.Run
}

func (m *mockCoordinator) Start(ctx context.Context, threadID string, params model.ExecutionParams) (*model.Run, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = append(m.started, params)
	if m.startedRun == nil {
		m.startedRun = &model.Run{ID: "run-abc123", ThreadID: threadID, Status: model.RunStatusRunning}
	}
	return m.startedRun, nil
}

func (m *mockCoordinator) RequestStop(ctx context.Context, runID string) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopped = append(m.stopped, runID)
	return nil
}

func newTestHandler() (*Handler, *mockRunStore, *mockCoordinator, *broker.MemoryBroker) {
	store := newMockRunStore()
	coord := &mockCoordinator{}
	brk := broker.NewMemoryBroker()
	h := NewHandlerWithInterfaces(store, coord, brk)
	return h, store, coord, brk
}

func serveMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestCreateRun(t *testing.T) {
	h, _, coord, _ := newTestHandler()
	mux := serveMux(h)

	body := `{"model_name":"gpt-4o-mini","enable_thinking":true,"temp_message":"hi"}`
	req := httptest.NewRequest("POST", "/api/v1/threads/th-1/runs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, coord.started, 1)
	assert.Equal(t, "gpt-4o-mini", coord.started[0].ModelName)
	assert.True(t, coord.started[0].EnableThinking)
	assert.Equal(t, "hi", coord.started[0].TempMessage)

	var out model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "run-abc123", out.ID)
	assert.Equal(t, "th-1", out.ThreadID)
}

func TestCreateRunThreadNotFound(t *testing.T) {
	h, _, coord, _ := newTestHandler()
	coord.startErr = runner.ErrThreadNotFound
	mux := serveMux(h)

	req := httptest.NewRequest("POST", "/api/v1/threads/missing/runs", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRunThreadBusy(t *testing.T) {
	h, _, coord, _ := newTestHandler()
	coord.startErr = runner.ErrThreadBusy
	mux := serveMux(h)

	req := httptest.NewRequest("POST", "/api/v1/threads/th-1/runs", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRun(t *testing.T) {
	h, store, _, _ := newTestHandler()
	store.runs["run-1"] = &model.Run{ID: "run-1", ThreadID: "th-1", Status: model.RunStatusCompleted}
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/runs/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, model.RunStatusCompleted, out.Status)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsByThread(t *testing.T) {
	h, store, _, _ := newTestHandler()
	store.runs["run-1"] = &model.Run{ID: "run-1", ThreadID: "th-1", Status: model.RunStatusCompleted}
	store.runs["run-2"] = &model.Run{ID: "run-2", ThreadID: "th-2", Status: model.RunStatusRunning}
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/threads/th-1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Runs  []*model.Run `json:"runs"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "run-1", out.Runs[0].ID)
}

func TestStopRun(t *testing.T) {
	h, _, coord, _ := newTestHandler()
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/runs/run-1/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"run-1"}, coord.stopped)
}

func TestStopRunNotFound(t *testing.T) {
	h, _, coord, _ := newTestHandler()
	coord.stopErr = runner.ErrRunNotFound
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/runs/nope/stop", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetResponses(t *testing.T) {
	h, _, _, brk := newTestHandler()
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		event := &model.OutputEvent{Type: model.EventTypeContent, RunID: "run-1", Content: text, Timestamp: time.Now()}
		require.NoError(t, brk.AppendEvent(ctx, "run-1", event))
	}
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/runs/run-1/responses?from=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Responses []*model.OutputEvent `json:"responses"`
		Count     int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Count)
	assert.Equal(t, "b", out.Responses[0].Content)
	assert.Equal(t, "c", out.Responses[1].Content)
}

func decodeNDJSON(t *testing.T, body *bytes.Buffer) []*model.OutputEvent {
	t.Helper()
	var events []*model.OutputEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e model.OutputEvent
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		events = append(events, &e)
	}
	return events
}

func TestStreamReplaysTerminatedRun(t *testing.T) {
	h, store, _, brk := newTestHandler()
	ctx := context.Background()
	store.runs["run-1"] = &model.Run{ID: "run-1", ThreadID: "th-1", Status: model.RunStatusCompleted}
	require.NoError(t, brk.AppendEvent(ctx, "run-1", &model.OutputEvent{Type: model.EventTypeContent, RunID: "run-1", Content: "hello", Timestamp: time.Now()}))
	require.NoError(t, brk.AppendEvent(ctx, "run-1", model.NewStatusEvent("run-1", model.StatusCompleted, "")))
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/runs/run-1/stream", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	events := decodeNDJSON(t, rec.Body)
	require.Len(t, events, 2)
	assert.Equal(t, "hello", events[0].Content)
	assert.True(t, events[1].IsTerminal())
}

func TestStreamNotFound(t *testing.T) {
	h, _, _, _ := newTestHandler()
	mux := serveMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/runs/nope/stream", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamTailsLiveRun(t *testing.T) {
	h, store, _, brk := newTestHandler()
	ctx := context.Background()
	store.runs["run-1"] = &model.Run{ID: "run-1", ThreadID: "th-1", Status: model.RunStatusRunning}
	require.NoError(t, brk.AppendEvent(ctx, "run-1", &model.OutputEvent{Type: model.EventTypeContent, RunID: "run-1", Content: "early", Timestamp: time.Now()}))
	mux := serveMux(h)

	go func() {
		time.Sleep(50 * time.Millisecond)
		brk.AppendEvent(ctx, "run-1", &model.OutputEvent{Type: model.EventTypeContent, RunID: "run-1", Content: "late", Timestamp: time.Now()})
		brk.AppendEvent(ctx, "run-1", model.NewStatusEvent("run-1", model.StatusCompleted, ""))
	}()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/runs/run-1/stream", nil))
		done <- rec
	}()

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		events := decodeNDJSON(t, rec.Body)
		require.Len(t, events, 3)
		assert.Equal(t, "early", events[0].Content)
		assert.Equal(t, "late", events[1].Content)
		assert.True(t, events[2].IsTerminal())
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish after terminal event")
	}
}
