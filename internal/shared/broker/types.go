// Package broker 实时输出分发类型定义
package broker

import (
	"fmt"
	"time"
)

// ============================================================================
// Key / Channel 命名
// ============================================================================

// 输出列表是权威存储，通知频道只是尽力而为的「有新数据」提示。
// 所有 Run 级 Key 携带 24h TTL，作为防泄漏的安全网而非正确性机制。
const (
	// KeyResponses 每个 Run 的输出列表（LIST，权威存储）
	KeyResponses = "run:%s:responses"

	// ChannelNewResponse 新数据通知频道（Pub/Sub，尽力而为）
	ChannelNewResponse = "run:%s:new_response"

	// ChannelControl 全员控制频道（任何进程都可能在执行或观察该 Run）
	ChannelControl = "run:%s:control"

	// ChannelControlInstance 定向控制频道（只唤醒持有该 Run 的实例）
	ChannelControlInstance = "run:%s:control:%s"
)

// StopToken 停止信号的令牌值
// 投递语义为 at-least-once，接收方必须幂等处理
const StopToken = "STOP"

// TTLRunData Run 级 Key 的存活时间
const TTLRunData = 24 * time.Hour

// ResponsesKey 输出列表 Key
func ResponsesKey(runID string) string {
	return fmt.Sprintf(KeyResponses, runID)
}

// NewResponseChannel 新数据通知频道名
func NewResponseChannel(runID string) string {
	return fmt.Sprintf(ChannelNewResponse, runID)
}

// ControlChannel 全员控制频道名
func ControlChannel(runID string) string {
	return fmt.Sprintf(ChannelControl, runID)
}

// InstanceControlChannel 定向控制频道名
func InstanceControlChannel(runID, instanceID string) string {
	return fmt.Sprintf(ChannelControlInstance, runID, instanceID)
}
