// Package server WebSocket 事件网关单元测试
//
// 本文件测试 EventGateway 的核心功能：
//
// # 测试分组
//
// ## 构造与初始化
//   - TestNewEventGateway: 验证网关创建、字段初始化
//
// ## 客户端连接管理
//   - TestAddRemoveClient: 添加/移除单个客户端
//   - TestAddRemoveClient_MultipleClients: 同一 RunID 多客户端管理
//   - TestRemoveClient_CleanupEmptyRun: 最后一个客户端移除后清理 RunID 条目
//
// ## WebSocket 集成（使用 httptest + gorilla/websocket）
//   - TestHandleWebSocket_MissingRunID: 缺少 RunID 参数返回 400
//   - TestHandleWebSocket_RunNotFound: Run 不存在返回 404
//   - TestHandleWebSocket_ReplaysTerminatedRun: 已终止 Run 全量回放后收到状态消息
//   - TestHandleWebSocket_LiveTail: 实时跟读增量事件
//   - TestHandleWebSocket_PingPong: 心跳消息处理
//   - TestHandleWebSocket_AuthRequired: 开启认证后无令牌拒绝连接
//
// # 使用的 Mock
//   - mockGatewayStore: 实现 gatewayStore 接口（GetRun）
//   - broker.MemoryBroker: 内存输出代理
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agents-runtime/internal/apiserver/auth"
	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
)

// ============================================================================
// Mock 实现
// ============================================================================

// mockGatewayStore 模拟 gatewayStore 接口
type mockGatewayStore struct {
	mu  sync.Mutex
	run *model.Run
	err error
}

func (m *mockGatewayStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.run != nil && m.run.ID == id {
		cp := *m.run
		return &cp, nil
	}
	return nil, nil
}

func (m *mockGatewayStore) setStatus(status model.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.Status = status
}

// wsMessage 网关推送消息的通用结构
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newWSServer(g *EventGateway) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/runs/{id}/stream", g.HandleWebSocket)
	return httptest.NewServer(mux)
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

// readMessages 读取消息直到连接关闭或超时
func readMessages(t *testing.T, conn *websocket.Conn, max int) []wsMessage {
	t.Helper()
	var out []wsMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(out) < max {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

// ============================================================================
// 构造与连接管理
// ============================================================================

func TestNewEventGateway(t *testing.T) {
	g := NewEventGateway(&mockGatewayStore{}, broker.NewMemoryBroker(), auth.Config{})
	if g.clients == nil {
		t.Fatal("clients map not initialized")
	}
	if g.ClientCount("run-1") != 0 {
		t.Fatal("expected zero clients")
	}
}

func TestAddRemoveClient(t *testing.T) {
	g := NewEventGateway(&mockGatewayStore{}, broker.NewMemoryBroker(), auth.Config{})
	conn := &websocket.Conn{}

	g.addClient("run-1", conn)
	if g.ClientCount("run-1") != 1 {
		t.Fatalf("expected 1 client, got %d", g.ClientCount("run-1"))
	}

	g.removeClient("run-1", conn)
	if g.ClientCount("run-1") != 0 {
		t.Fatalf("expected 0 clients, got %d", g.ClientCount("run-1"))
	}
}

func TestAddRemoveClient_MultipleClients(t *testing.T) {
	g := NewEventGateway(&mockGatewayStore{}, broker.NewMemoryBroker(), auth.Config{})
	c1, c2 := &websocket.Conn{}, &websocket.Conn{}

	g.addClient("run-1", c1)
	g.addClient("run-1", c2)
	if g.ClientCount("run-1") != 2 {
		t.Fatalf("expected 2 clients, got %d", g.ClientCount("run-1"))
	}

	g.removeClient("run-1", c1)
	if g.ClientCount("run-1") != 1 {
		t.Fatalf("expected 1 client, got %d", g.ClientCount("run-1"))
	}
}

func TestRemoveClient_CleanupEmptyRun(t *testing.T) {
	g := NewEventGateway(&mockGatewayStore{}, broker.NewMemoryBroker(), auth.Config{})
	conn := &websocket.Conn{}

	g.addClient("run-1", conn)
	g.removeClient("run-1", conn)

	g.mu.RLock()
	_, exists := g.clients["run-1"]
	g.mu.RUnlock()
	if exists {
		t.Fatal("empty run entry should be cleaned up")
	}
}

// ============================================================================
// WebSocket 集成
// ============================================================================

func TestHandleWebSocket_MissingRunID(t *testing.T) {
	g := NewEventGateway(&mockGatewayStore{}, broker.NewMemoryBroker(), auth.Config{})

	req := httptest.NewRequest("GET", "/ws/runs//stream", nil)
	rec := httptest.NewRecorder()
	g.HandleWebSocket(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWebSocket_RunNotFound(t *testing.T) {
	g := NewEventGateway(&mockGatewayStore{}, broker.NewMemoryBroker(), auth.Config{})
	srv := newWSServer(g)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/runs/nope/stream")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleWebSocket_ReplaysTerminatedRun(t *testing.T) {
	ctx := context.Background()
	brk := broker.NewMemoryBroker()
	brk.AppendEvent(ctx, "run-1", &model.OutputEvent{Type: model.EventTypeContent, RunID: "run-1", Content: "hello", Timestamp: time.Now()})
	brk.AppendEvent(ctx, "run-1", model.NewStatusEvent("run-1", model.StatusCompleted, ""))

	store := &mockGatewayStore{run: &model.Run{ID: "run-1", Status: model.RunStatusCompleted}}
	g := NewEventGateway(store, brk, auth.Config{})
	srv := newWSServer(g)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/runs/run-1/stream")
	defer conn.Close()

	msgs := readMessages(t, conn, 3)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Type != "event" || msgs[1].Type != "event" {
		t.Fatalf("expected event messages, got %q %q", msgs[0].Type, msgs[1].Type)
	}
	if msgs[2].Type != "status" {
		t.Fatalf("expected final status message, got %q", msgs[2].Type)
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(msgs[2].Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "completed" {
		t.Fatalf("expected completed, got %q", status.Status)
	}
}

func TestHandleWebSocket_LiveTail(t *testing.T) {
	ctx := context.Background()
	brk := broker.NewMemoryBroker()
	store := &mockGatewayStore{run: &model.Run{ID: "run-1", Status: model.RunStatusRunning}}
	g := NewEventGateway(store, brk, auth.Config{})
	srv := newWSServer(g)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/runs/run-1/stream")
	defer conn.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		brk.AppendEvent(ctx, "run-1", &model.OutputEvent{Type: model.EventTypeContent, RunID: "run-1", Content: "live", Timestamp: time.Now()})
		store.setStatus(model.RunStatusCompleted)
		brk.AppendEvent(ctx, "run-1", model.NewStatusEvent("run-1", model.StatusCompleted, ""))
	}()

	msgs := readMessages(t, conn, 3)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	var event model.OutputEvent
	if err := json.Unmarshal(msgs[0].Data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Content != "live" {
		t.Fatalf("expected live content, got %q", event.Content)
	}
	if msgs[2].Type != "status" {
		t.Fatalf("expected final status message, got %q", msgs[2].Type)
	}
}

func TestHandleWebSocket_PingPong(t *testing.T) {
	brk := broker.NewMemoryBroker()
	store := &mockGatewayStore{run: &model.Run{ID: "run-1", Status: model.RunStatusRunning}}
	g := NewEventGateway(store, brk, auth.Config{})
	srv := newWSServer(g)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/runs/run-1/stream")
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if msg.Type != "pong" {
		t.Fatalf("expected pong, got %q", msg.Type)
	}
}

func TestHandleWebSocket_AuthRequired(t *testing.T) {
	cfg := auth.Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute}
	store := &mockGatewayStore{run: &model.Run{ID: "run-1", Status: model.RunStatusCompleted}}
	brk := broker.NewMemoryBroker()
	brk.AppendEvent(context.Background(), "run-1", model.NewStatusEvent("run-1", model.StatusCompleted, ""))

	g := NewEventGateway(store, brk, cfg)
	srv := newWSServer(g)
	defer srv.Close()

	// 无令牌拒绝
	resp, err := http.Get(srv.URL + "/ws/runs/run-1/stream")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// 有效令牌放行
	token, err := auth.GenerateAccessToken(cfg, "svc-1", "test", "service")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	conn := dialWS(t, srv, "/ws/runs/run-1/stream?token="+token)
	defer conn.Close()

	msgs := readMessages(t, conn, 2)
	if len(msgs) == 0 {
		t.Fatal("expected messages after authenticated connect")
	}
}
