// Package broker 进程内 Broker 实现（用于测试）
package broker

import (
	"context"
	"sync"

	"agents-runtime/internal/shared/model"
)

// ============================================================================
// MemoryBroker - 进程内的 Broker 实现
// ============================================================================

// MemoryBroker 用 map + mutex 模拟输出列表和频道，语义与 Redis
// 实现一致：列表权威、通知尽力而为（订阅者缓冲满时丢弃）。
type MemoryBroker struct {
	mu      sync.Mutex
	events  map[string][][]byte
	notify  map[string][]chan struct{}
	control map[string][]chan string
	closed  bool
}

// NewMemoryBroker 创建进程内 Broker 实例
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		events:  make(map[string][][]byte),
		notify:  make(map[string][]chan struct{}),
		control: make(map[string][]chan string),
	}
}

func (b *MemoryBroker) AppendEvent(ctx context.Context, runID string, event *model.OutputEvent) error {
	raw, err := event.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.events[runID] = append(b.events[runID], raw)
	subs := append([]chan struct{}(nil), b.notify[runID]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) ReadEvents(ctx context.Context, runID string, fromIndex int64) ([]*model.OutputEvent, error) {
	b.mu.Lock()
	stored := b.events[runID]
	if fromIndex > int64(len(stored)) {
		fromIndex = int64(len(stored))
	}
	raw := append([][]byte(nil), stored[fromIndex:]...)
	b.mu.Unlock()

	events := make([]*model.OutputEvent, 0, len(raw))
	for _, item := range raw {
		event, err := model.DecodeOutputEvent(item)
		if err != nil {
			event = &model.OutputEvent{Type: model.EventTypeContent, RunID: runID, Content: string(item)}
		}
		events = append(events, event)
	}
	return events, nil
}

func (b *MemoryBroker) EventCount(ctx context.Context, runID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.events[runID])), nil
}

func (b *MemoryBroker) SubscribeNotifications(ctx context.Context, runID string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 16)
	b.mu.Lock()
	b.notify[runID] = append(b.notify[runID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.notify[runID] = removeChan(b.notify[runID], ch)
	}
	return ch, cancel, nil
}

func (b *MemoryBroker) PublishStop(ctx context.Context, runID string) error {
	b.publishControl(controlKey(runID, ""), StopToken)
	return nil
}

func (b *MemoryBroker) PublishStopToInstance(ctx context.Context, runID, instanceID string) error {
	b.publishControl(controlKey(runID, instanceID), StopToken)
	return nil
}

func (b *MemoryBroker) SubscribeControl(ctx context.Context, runID, instanceID string) (<-chan string, func(), error) {
	ch := make(chan string, 4)
	keys := []string{controlKey(runID, "")}
	if instanceID != "" {
		keys = append(keys, controlKey(runID, instanceID))
	}

	b.mu.Lock()
	for _, k := range keys {
		b.control[k] = append(b.control[k], ch)
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, k := range keys {
			b.control[k] = removeStringChan(b.control[k], ch)
		}
	}
	return ch, cancel, nil
}

func (b *MemoryBroker) DeleteRunData(ctx context.Context, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBroker) publishControl(key, token string) {
	b.mu.Lock()
	subs := append([]chan string(nil), b.control[key]...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- token:
		default:
		}
	}
}

func controlKey(runID, instanceID string) string {
	if instanceID == "" {
		return ControlChannel(runID)
	}
	return InstanceControlChannel(runID, instanceID)
}

func removeChan(chans []chan struct{}, target chan struct{}) []chan struct{} {
	out := chans[:0]
	for _, c := range chans {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

func removeStringChan(chans []chan string, target chan string) []chan string {
	out := chans[:0]
	for _, c := range chans {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// 确保 MemoryBroker 实现了 Broker 接口
var _ Broker = (*MemoryBroker)(nil)
