// Package registry 实例注册表抽象接口
//
// 记录「哪个实例正在执行哪个 Run」的临带 TTL 标记，用于：
//   - 定向停止信号（找到持有 Run 的实例，只唤醒它）
//   - 进程启动恢复（扫描本实例遗留的标记，清理死进程的 Run）
//
// 标记只是建议性的（advisory）：Run 状态以 Run 记录为准，
// 标记丢失最多退化为全员广播停止信号。
// 当前实现：redis/（SET + TTL）、etcd/（Lease 自动过期）。
package registry

import "context"

// Registry 实例注册表接口
type Registry interface {
	// Register 登记「instanceID 正在执行 runID」，标记带安全 TTL
	Register(ctx context.Context, instanceID, runID string) error

	// Refresh 刷新标记 TTL（长时间执行的 Run 周期性调用）
	Refresh(ctx context.Context, instanceID, runID string) error

	// Deregister 删除标记（正常或异常终止的清理路径）
	// 标记不存在时静默成功
	Deregister(ctx context.Context, instanceID, runID string) error

	// ListRuns 列出 instanceID 名下的所有 Run（启动恢复扫描用）
	ListRuns(ctx context.Context, instanceID string) ([]string, error)

	// FindInstance 查找持有 runID 的实例
	// 找不到时返回 ("", nil)，调用方退化为全员广播
	FindInstance(ctx context.Context, runID string) (string, error)

	Close() error
}
