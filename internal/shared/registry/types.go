// Package registry 实例注册表类型定义
package registry

import (
	"fmt"
	"time"
)

const (
	// KeyActiveRun 实例活跃标记：active_run:{instance}:{run} -> "running"
	KeyActiveRun = "active_run:%s:%s"

	// MarkerValue 标记值
	MarkerValue = "running"

	// TTLMarker 标记安全 TTL，防止异常退出后永久残留
	TTLMarker = 24 * time.Hour
)

// MarkerKey 活跃标记 Key
func MarkerKey(instanceID, runID string) string {
	return fmt.Sprintf(KeyActiveRun, instanceID, runID)
}

// InstancePattern 匹配某实例全部标记的模式
func InstancePattern(instanceID string) string {
	return fmt.Sprintf(KeyActiveRun, instanceID, "*")
}

// RunPattern 匹配某 Run 全部标记的模式（跨实例查找用）
func RunPattern(runID string) string {
	return fmt.Sprintf(KeyActiveRun, "*", runID)
}
