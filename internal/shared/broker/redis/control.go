// Package redis 控制频道操作（停止信号）
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"

	"agents-runtime/internal/shared/broker"
)

// PublishStop 在全员控制频道发布停止令牌
func (s *Store) PublishStop(ctx context.Context, runID string) error {
	if err := s.client.Publish(ctx, broker.ControlChannel(runID), broker.StopToken).Err(); err != nil {
		return fmt.Errorf("failed to publish stop signal: %w", err)
	}
	log.Printf("[Redis/Broker] Published stop signal: run=%s scope=fleet", runID)
	return nil
}

// PublishStopToInstance 在定向控制频道发布停止令牌
func (s *Store) PublishStopToInstance(ctx context.Context, runID, instanceID string) error {
	channel := broker.InstanceControlChannel(runID, instanceID)
	if err := s.client.Publish(ctx, channel, broker.StopToken).Err(); err != nil {
		return fmt.Errorf("failed to publish stop signal: %w", err)
	}
	log.Printf("[Redis/Broker] Published stop signal: run=%s instance=%s", runID, instanceID)
	return nil
}

// SubscribeControl 订阅控制频道
//
// instanceID 非空时同时订阅全员频道和定向频道。订阅在返回前确认
// 建立，保证订阅之后发出的信号不会丢失。
//
// ctx 只约束订阅的建立，订阅本身的寿命由返回的取消函数控制：
// 订阅方的请求上下文取消不会中断令牌转发。
func (s *Store) SubscribeControl(ctx context.Context, runID, instanceID string) (<-chan string, func(), error) {
	channels := []string{broker.ControlChannel(runID)}
	if instanceID != "" {
		channels = append(channels, broker.InstanceControlChannel(runID, instanceID))
	}

	pubsub := s.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe control: %w", err)
	}

	ch := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		for msg := range pubsub.Channel() {
			select {
			case ch <- msg.Payload:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
	return ch, cancel, nil
}
