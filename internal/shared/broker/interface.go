// Package broker 实时输出分发抽象接口
//
// Broker 负责两件事：
//  1. 输出日志：每个 Run 一个仅追加的有序事件列表，观察者通过
//     「全量回放 + 增量跟读」获得 exactly-once-observed 语义。
//     列表本身是权威存储，通知频道丢消息只增加延迟、不丢数据。
//  2. 停止信号：全员频道 + 定向频道两个作用域，令牌投递
//     at-least-once，接收方幂等处理。
//
// 当前由 Redis（LIST + Pub/Sub）实现，见 redis/ 子包；
// MemoryBroker 提供无外部依赖的进程内实现，用于测试。
package broker

import (
	"context"

	"agents-runtime/internal/shared/model"
)

// Broker 实时输出分发接口
type Broker interface {
	// AppendEvent 追加事件到 Run 的输出列表并刷新 TTL，
	// 随后在通知频道发布「有新数据」提示（尽力而为，失败不报错）
	AppendEvent(ctx context.Context, runID string, event *model.OutputEvent) error

	// ReadEvents 从 fromIndex（含）开始按追加顺序读取事件
	ReadEvents(ctx context.Context, runID string, fromIndex int64) ([]*model.OutputEvent, error)

	// EventCount 返回输出列表长度
	EventCount(ctx context.Context, runID string) (int64, error)

	// SubscribeNotifications 订阅新数据通知
	// 返回的 channel 每收到一次通知投递一个信号；cancel 取消订阅
	SubscribeNotifications(ctx context.Context, runID string) (<-chan struct{}, func(), error)

	// PublishStop 在全员控制频道发布停止令牌
	PublishStop(ctx context.Context, runID string) error

	// PublishStopToInstance 在定向控制频道发布停止令牌
	PublishStopToInstance(ctx context.Context, runID, instanceID string) error

	// SubscribeControl 订阅控制频道
	// instanceID 非空时同时订阅全员频道和定向频道；
	// 返回的 channel 投递收到的令牌值。
	// ctx 只约束订阅的建立，订阅寿命由返回的取消函数控制
	SubscribeControl(ctx context.Context, runID, instanceID string) (<-chan string, func(), error)

	// DeleteRunData 删除 Run 的所有输出数据（正常依赖 TTL 过期，显式清理用）
	DeleteRunData(ctx context.Context, runID string) error

	Close() error
}
