// Package server WebSocket 事件网关
//
// 事件网关提供实时事件推送能力，支持前端实时观察 Run 的执行过程。
// 每个连接独立跟读：先补播历史事件，再实时推送增量，
// 观察到终止事件后发送状态通知并关闭。
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agents-runtime/internal/apiserver/auth"
	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 当前允许所有来源，生产环境应限制。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// gatewayStore 定义事件网关需要的存储接口（用于测试 mock）
type gatewayStore interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
}

// EventGateway WebSocket 事件网关
//
// 事件网关负责：
//   - 管理 WebSocket 连接
//   - 通过输出代理跟读事件流（回放 + 实时）
//   - 将事件推送给订阅的客户端
//   - 在 Run 终止时通知客户端并关闭连接
type EventGateway struct {
	store   gatewayStore
	broker  broker.Broker
	authCfg auth.Config
	metrics *Metrics

	clients map[string]map[*websocket.Conn]bool // 按 RunID 索引的客户端连接
	mu      sync.RWMutex                        // 保护 clients 映射
}

// NewEventGateway 创建事件网关实例
func NewEventGateway(store gatewayStore, brk broker.Broker, authCfg auth.Config) *EventGateway {
	return &EventGateway{
		store:   store,
		broker:  brk,
		authCfg: authCfg,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// SetMetrics 设置指标实例
func (g *EventGateway) SetMetrics(m *Metrics) {
	g.metrics = m
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/runs/{id}/stream
//
// 查询参数：
//   - token: 认证令牌（浏览器无法在 WS 握手设置 Authorization 头）
//
// 推送消息格式：
//
//	事件消息：{"type": "event", "data": {...}}
//	状态消息：{"type": "status", "data": {"status": "...", "completed_at": "..."}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		http.Error(w, "run_id required", http.StatusBadRequest)
		return
	}

	if g.authCfg.Enabled() {
		if _, err := auth.VerifyWSToken(g.authCfg, r.URL.Query().Get("token")); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	run, err := g.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	g.addClient(runID, conn)
	defer g.removeClient(runID, conn)

	if g.metrics != nil {
		g.metrics.WSConnectionOpened()
		defer g.metrics.WSConnectionClosed()
	}

	log.Printf("[ws.connected] run_id=%s", runID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.readPump(conn, cancel)
	g.writePump(ctx, conn, run)
}

// addClient 添加客户端连接
func (g *EventGateway) addClient(runID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.clients[runID] == nil {
		g.clients[runID] = make(map[*websocket.Conn]bool)
	}
	g.clients[runID][conn] = true
}

// removeClient 移除客户端连接
//
// 如果该 Run 没有其他连接，则清理整个条目。
func (g *EventGateway) removeClient(runID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clients, ok := g.clients[runID]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(g.clients, runID)
		}
	}
}

// ClientCount 返回指定 Run 的连接数
func (g *EventGateway) ClientCount(runID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[runID])
}

// readPump 读取客户端消息
//
// 在独立 goroutine 中运行，处理心跳消息并在连接关闭时取消上下文。
func (g *EventGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil {
			if req["type"] == "ping" {
				conn.WriteJSON(map[string]string{"type": "pong"})
				if g.metrics != nil {
					g.metrics.RecordWSMessage("in", "ping")
				}
			}
		}
	}
}

// writePump 向客户端推送事件
//
// 通过 Tailer 跟读输出列表：先补播历史，再实时推送。
// 每 30s 发送 ping 保持连接；跟读正常结束（观察到终止事件）
// 时附加一条状态消息后返回。
func (g *EventGateway) writePump(ctx context.Context, conn *websocket.Conn, run *model.Run) {
	tailer := broker.NewTailer(g.broker, run.ID)
	tailer.TerminalAtAttach = run.IsTerminal()

	events := make(chan *model.OutputEvent, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- tailer.Stream(ctx, events)
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-events:
			if !g.writeEvent(conn, event) {
				return
			}
		case err := <-errCh:
			// Stream 返回后清空缓冲里剩余的事件
			for {
				select {
				case event := <-events:
					if !g.writeEvent(conn, event) {
						return
					}
					continue
				default:
				}
				break
			}
			if err != nil {
				log.Printf("[ws.stream.ended] run_id=%s error=%v", run.ID, err)
				return
			}
			g.writeFinalStatus(ctx, conn, run.ID)
			return
		}
	}
}

// writeEvent 推送单条事件，失败返回 false
func (g *EventGateway) writeEvent(conn *websocket.Conn, event *model.OutputEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	msg := map[string]interface{}{
		"type": "event",
		"data": event,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write error: %v", err)
		return false
	}
	if g.metrics != nil {
		g.metrics.RecordWSMessage("out", string(event.Type))
	}
	return true
}

// writeFinalStatus 跟读结束后推送 Run 的最终状态
func (g *EventGateway) writeFinalStatus(ctx context.Context, conn *websocket.Conn, runID string) {
	run, err := g.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteJSON(map[string]interface{}{
		"type": "status",
		"data": map[string]interface{}{
			"status":       run.Status,
			"completed_at": run.CompletedAt,
		},
	})
}
