// Package redis 输出列表操作
package redis

import (
	"context"
	"fmt"
	"log"

	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
)

// AppendEvent 追加事件到输出列表并刷新 TTL
//
// RPUSH + EXPIRE 走 pipeline 原子提交；列表写入成功后在通知频道
// 发布提示。通知发布失败只记日志不报错：列表是权威存储，观察者
// 的轮询兜底会补上这条数据。
func (s *Store) AppendEvent(ctx context.Context, runID string, event *model.OutputEvent) error {
	raw, err := event.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := broker.ResponsesKey(runID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, broker.TTLRunData)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := s.client.Publish(ctx, broker.NewResponseChannel(runID), "new").Err(); err != nil {
		log.Printf("[Redis/Broker] Notify failed (poll fallback will catch up): run=%s err=%v", runID, err)
	}
	return nil
}

// ReadEvents 从 fromIndex（含）开始读取事件
func (s *Store) ReadEvents(ctx context.Context, runID string, fromIndex int64) ([]*model.OutputEvent, error) {
	raw, err := s.client.LRange(ctx, broker.ResponsesKey(runID), fromIndex, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]*model.OutputEvent, 0, len(raw))
	for _, item := range raw {
		event, err := model.DecodeOutputEvent([]byte(item))
		if err != nil {
			// 损坏的条目降级为原文内容事件，保持列表下标与事件一一对应
			// （观察者游标按事件数推进，跳过会造成重复交付）
			log.Printf("[Redis/Broker] Malformed event entry: run=%s err=%v", runID, err)
			event = &model.OutputEvent{Type: model.EventTypeContent, RunID: runID, Content: item}
		}
		events = append(events, event)
	}
	return events, nil
}

// EventCount 返回输出列表长度
func (s *Store) EventCount(ctx context.Context, runID string) (int64, error) {
	return s.client.LLen(ctx, broker.ResponsesKey(runID)).Result()
}

// SubscribeNotifications 订阅新数据通知
func (s *Store) SubscribeNotifications(ctx context.Context, runID string) (<-chan struct{}, func(), error) {
	pubsub := s.client.Subscribe(ctx, broker.NewResponseChannel(runID))

	// 确认订阅建立，避免错过紧随其后的通知
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe notifications: %w", err)
	}

	ch := make(chan struct{}, 16)
	go func() {
		defer close(ch)
		for range pubsub.Channel() {
			select {
			case ch <- struct{}{}:
			default:
				// 接收方还没消费上一个信号，合并即可
			}
		}
	}()

	return ch, func() { pubsub.Close() }, nil
}

// DeleteRunData 删除 Run 的输出列表
func (s *Store) DeleteRunData(ctx context.Context, runID string) error {
	return s.client.Del(ctx, broker.ResponsesKey(runID)).Err()
}
