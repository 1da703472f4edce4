// Package broker 观察者跟读状态机
//
// Tailer 实现「回放 + 跟读」：Replaying 阶段全量回放已有事件，
// Tailing 阶段由通知唤醒、轮询兜底地增量读取，观察到终止事件
// 或收到控制信号后进入 Terminated。列表是权威存储，游标只推进
// 不回退，保证每个事件恰好被观察一次。
package broker

import (
	"context"
	"errors"
	"time"

	"agents-runtime/internal/shared/model"
)

// 跟读参数默认值
const (
	// DefaultPollInterval 轮询兜底间隔（通知丢失时的最大额外延迟）
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultWatchdogTimeout 单次跟读的总时长上限
	// 超时强制断开，防止泄漏长连接
	DefaultWatchdogTimeout = 30 * time.Minute
)

// ErrWatchdogExpired 跟读超过总时长上限
var ErrWatchdogExpired = errors.New("tail watchdog expired before terminal event")

// Tailer 单个观察者的跟读状态机
//
// 每次 Stream 调用独立建立订阅，互不影响；任意数量的 Tailer
// 可以同时跟读同一个 Run。
type Tailer struct {
	broker Broker
	runID  string

	// TerminalAtAttach 挂载时 Run 已处于终止状态
	// 此时只做全量回放，即使列表里没有终止事件也正常结束
	TerminalAtAttach bool

	// PollInterval / WatchdogTimeout 为零时使用默认值
	PollInterval    time.Duration
	WatchdogTimeout time.Duration
}

// NewTailer 创建跟读器
func NewTailer(b Broker, runID string) *Tailer {
	return &Tailer{broker: b, runID: runID}
}

// Stream 执行完整的「回放 + 跟读」流程，事件按追加顺序写入 out
//
// 返回 nil 表示观察到终止事件（或挂载时已终止）正常结束；
// ctx 取消、watchdog 超时或读取失败时返回相应错误。
// out 由调用方关闭语义负责，Stream 返回后不再写入。
func (t *Tailer) Stream(ctx context.Context, out chan<- *model.OutputEvent) error {
	poll := t.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	watchdogTimeout := t.WatchdogTimeout
	if watchdogTimeout <= 0 {
		watchdogTimeout = DefaultWatchdogTimeout
	}

	// 回放前先建立订阅，避免回放和跟读之间的窗口丢通知
	notify, cancelNotify, err := t.broker.SubscribeNotifications(ctx, t.runID)
	if err != nil {
		return err
	}
	defer cancelNotify()

	control, cancelControl, err := t.broker.SubscribeControl(ctx, t.runID, "")
	if err != nil {
		return err
	}
	defer cancelControl()

	var cursor int64

	// Replaying：全量回放已有事件
	terminal, err := t.drain(ctx, out, &cursor)
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}
	if t.TerminalAtAttach {
		// Run 已终止但列表里没有终止事件（如 TTL 清理后重建），
		// 回放完即结束，不进入跟读
		return nil
	}

	// Tailing：通知唤醒 + 轮询兜底
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	watchdog := time.NewTimer(watchdogTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchdog.C:
			return ErrWatchdogExpired
		case token := <-control:
			if token == StopToken {
				// 最后再读一次，把停止前已追加的事件全部交付
				if _, err := t.drain(ctx, out, &cursor); err != nil {
					return err
				}
				return nil
			}
		case <-notify:
		case <-ticker.C:
		}

		terminal, err := t.drain(ctx, out, &cursor)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
	}
}

// drain 从游标处读到列表末尾并交付，游标随交付推进
// 返回是否观察到终止事件
func (t *Tailer) drain(ctx context.Context, out chan<- *model.OutputEvent, cursor *int64) (bool, error) {
	events, err := t.broker.ReadEvents(ctx, t.runID, *cursor)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		select {
		case out <- event:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		*cursor++
		if event.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}
