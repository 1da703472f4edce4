// Package registry 进程内 Registry 实现（用于测试）
package registry

import (
	"context"
	"sync"
)

// MemoryRegistry 进程内的实例注册表实现
type MemoryRegistry struct {
	mu        sync.Mutex
	markers   map[string]string // 标记 Key -> 标记值
	refreshes map[string]int    // 标记 Key -> 刷新次数
}

// NewMemoryRegistry 创建进程内实例注册表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		markers:   make(map[string]string),
		refreshes: make(map[string]int),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, instanceID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[MarkerKey(instanceID, runID)] = MarkerValue
	return nil
}

func (r *MemoryRegistry) Refresh(ctx context.Context, instanceID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes[MarkerKey(instanceID, runID)]++
	return nil
}

// RefreshCount 返回指定标记被刷新的次数（测试观测用）
func (r *MemoryRegistry) RefreshCount(instanceID, runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes[MarkerKey(instanceID, runID)]
}

func (r *MemoryRegistry) Deregister(ctx context.Context, instanceID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, MarkerKey(instanceID, runID))
	return nil
}

func (r *MemoryRegistry) ListRuns(ctx context.Context, instanceID string) ([]string, error) {
	prefix := MarkerKey(instanceID, "")
	r.mu.Lock()
	defer r.mu.Unlock()

	var runs []string
	for key := range r.markers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			runs = append(runs, key[len(prefix):])
		}
	}
	return runs, nil
}

func (r *MemoryRegistry) FindInstance(ctx context.Context, runID string) (string, error) {
	suffix := ":" + runID
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.markers {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			trimmed := key[:len(key)-len(suffix)]
			return trimmed[len("active_run:"):], nil
		}
	}
	return "", nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

// 确保 MemoryRegistry 实现了 Registry 接口
var _ Registry = (*MemoryRegistry)(nil)
