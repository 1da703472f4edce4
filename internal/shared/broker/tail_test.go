package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agents-runtime/internal/shared/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentEvent(runID, text string) *model.OutputEvent {
	return &model.OutputEvent{
		Type:      model.EventTypeContent,
		RunID:     runID,
		Content:   text,
		Timestamp: time.Now(),
	}
}

// collectStream 在独立 goroutine 中运行 Stream 并收集全部事件
func collectStream(t *testing.T, tailer *Tailer, ctx context.Context) (<-chan *model.OutputEvent, <-chan error) {
	t.Helper()
	out := make(chan *model.OutputEvent, 256)
	errCh := make(chan error, 1)
	go func() {
		errCh <- tailer.Stream(ctx, out)
		close(out)
	}()
	return out, errCh
}

func TestReplayThenTerminal(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	runID := "run-001"

	require.NoError(t, b.AppendEvent(ctx, runID, contentEvent(runID, "a")))
	require.NoError(t, b.AppendEvent(ctx, runID, contentEvent(runID, "b")))
	require.NoError(t, b.AppendEvent(ctx, runID, model.NewStatusEvent(runID, model.StatusCompleted, "")))

	tailer := NewTailer(b, runID)
	out, errCh := collectStream(t, tailer, ctx)

	require.NoError(t, <-errCh)

	var got []*model.OutputEvent
	for e := range out {
		got = append(got, e)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)
	assert.True(t, got[2].IsTerminal())
}

func TestReplayThenLiveTail(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	runID := "run-002"

	// 挂载前追加 3 条
	for i := 0; i < 3; i++ {
		require.NoError(t, b.AppendEvent(ctx, runID, contentEvent(runID, fmt.Sprintf("pre-%d", i))))
	}

	tailer := NewTailer(b, runID)
	tailer.PollInterval = 20 * time.Millisecond
	out, errCh := collectStream(t, tailer, ctx)

	// 挂载后继续追加
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			_ = b.AppendEvent(ctx, runID, contentEvent(runID, fmt.Sprintf("live-%d", i)))
		}
		_ = b.AppendEvent(ctx, runID, model.NewStatusEvent(runID, model.StatusCompleted, ""))
	}()

	require.NoError(t, <-errCh)

	var texts []string
	for e := range out {
		if e.Type == model.EventTypeContent {
			texts = append(texts, e.Content)
		}
	}
	// 无缺失、无重复、保持追加顺序
	assert.Equal(t, []string{"pre-0", "pre-1", "pre-2", "live-0", "live-1", "live-2"}, texts)
}

func TestTailExactlyOnceUnderConcurrentAppend(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	runID := "run-003"
	total := 200

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			_ = b.AppendEvent(ctx, runID, contentEvent(runID, fmt.Sprintf("%d", i)))
		}
		_ = b.AppendEvent(ctx, runID, model.NewStatusEvent(runID, model.StatusCompleted, ""))
	}()

	tailer := NewTailer(b, runID)
	tailer.PollInterval = 5 * time.Millisecond
	out, errCh := collectStream(t, tailer, ctx)

	require.NoError(t, <-errCh)
	<-done

	seen := make(map[string]int)
	order := -1
	for e := range out {
		if e.Type != model.EventTypeContent {
			continue
		}
		seen[e.Content]++
		var n int
		fmt.Sscanf(e.Content, "%d", &n)
		require.Greater(t, n, order, "events delivered out of append order")
		order = n
	}
	require.Len(t, seen, total)
	for content, count := range seen {
		assert.Equal(t, 1, count, "event %s delivered %d times", content, count)
	}
}

func TestTailStopsOnControlSignal(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	runID := "run-004"

	require.NoError(t, b.AppendEvent(ctx, runID, contentEvent(runID, "partial")))

	tailer := NewTailer(b, runID)
	tailer.PollInterval = time.Hour // 只靠控制信号退出
	out, errCh := collectStream(t, tailer, ctx)

	// 等回放结束进入跟读
	first := <-out
	assert.Equal(t, "partial", first.Content)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.AppendEvent(ctx, runID, contentEvent(runID, "final")))
	require.NoError(t, b.PublishStop(ctx, runID))

	require.NoError(t, <-errCh)

	// 停止前追加的事件仍然交付
	var rest []string
	for e := range out {
		rest = append(rest, e.Content)
	}
	assert.Contains(t, rest, "final")
}

func TestTerminalAtAttachEndsAfterReplay(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	runID := "run-005"

	require.NoError(t, b.AppendEvent(ctx, runID, contentEvent(runID, "a")))

	tailer := NewTailer(b, runID)
	tailer.TerminalAtAttach = true
	out, errCh := collectStream(t, tailer, ctx)

	require.NoError(t, <-errCh)

	var got []*model.OutputEvent
	for e := range out {
		got = append(got, e)
	}
	assert.Len(t, got, 1)
}

func TestWatchdogExpires(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	tailer := NewTailer(b, "run-006")
	tailer.PollInterval = time.Hour
	tailer.WatchdogTimeout = 30 * time.Millisecond
	out := make(chan *model.OutputEvent, 16)

	err := tailer.Stream(ctx, out)
	assert.ErrorIs(t, err, ErrWatchdogExpired)
}

func TestContextCancelStopsTail(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	tailer := NewTailer(b, "run-007")
	tailer.PollInterval = time.Hour
	out := make(chan *model.OutputEvent, 16)

	errCh := make(chan error, 1)
	go func() { errCh <- tailer.Stream(ctx, out) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestControlSubscriptionScopes(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	runID := "run-008"

	// 定向订阅收全员信号和本实例信号
	ch, cancel, err := b.SubscribeControl(ctx, runID, "instance-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.PublishStopToInstance(ctx, runID, "instance-1"))
	assert.Equal(t, StopToken, <-ch)

	require.NoError(t, b.PublishStop(ctx, runID))
	assert.Equal(t, StopToken, <-ch)

	// 其他实例的定向信号不可见
	require.NoError(t, b.PublishStopToInstance(ctx, runID, "instance-2"))
	select {
	case token := <-ch:
		t.Fatalf("unexpected token %q from another instance's channel", token)
	case <-time.After(30 * time.Millisecond):
	}
}
