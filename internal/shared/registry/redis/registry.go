// Package redis Registry 的 Redis 实现
//
// 每个标记一个带 TTL 的字符串 Key，按模式 SCAN 做扫描查询。
package redis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agents-runtime/internal/shared/registry"
)

// Registry Redis 实例注册表
type Registry struct {
	client *goredis.Client
}

// 确保 Registry 实现了 registry.Registry 接口
var _ registry.Registry = (*Registry)(nil)

// NewRegistry 创建 Redis 实例注册表
func NewRegistry(addr, password string, db int) (*Registry, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Registry] Connected to %s", addr)
	return &Registry{client: client}, nil
}

// NewRegistryFromClient 从现有 Redis 客户端创建实例注册表
func NewRegistryFromClient(client *goredis.Client) *Registry {
	return &Registry{client: client}
}

// Close 关闭 Redis 连接
func (r *Registry) Close() error {
	return r.client.Close()
}

// Register 登记活跃标记
func (r *Registry) Register(ctx context.Context, instanceID, runID string) error {
	key := registry.MarkerKey(instanceID, runID)
	if err := r.client.Set(ctx, key, registry.MarkerValue, registry.TTLMarker).Err(); err != nil {
		return fmt.Errorf("failed to register active run: %w", err)
	}
	log.Printf("[Redis/Registry] Registered active run: instance=%s run=%s", instanceID, runID)
	return nil
}

// Refresh 刷新标记 TTL
func (r *Registry) Refresh(ctx context.Context, instanceID, runID string) error {
	return r.client.Expire(ctx, registry.MarkerKey(instanceID, runID), registry.TTLMarker).Err()
}

// Deregister 删除标记
func (r *Registry) Deregister(ctx context.Context, instanceID, runID string) error {
	if err := r.client.Del(ctx, registry.MarkerKey(instanceID, runID)).Err(); err != nil {
		return fmt.Errorf("failed to deregister active run: %w", err)
	}
	log.Printf("[Redis/Registry] Deregistered active run: instance=%s run=%s", instanceID, runID)
	return nil
}

// ListRuns 扫描实例名下的所有标记
func (r *Registry) ListRuns(ctx context.Context, instanceID string) ([]string, error) {
	prefix := strings.TrimSuffix(registry.InstancePattern(instanceID), "*")
	keys, err := r.scan(ctx, registry.InstancePattern(instanceID))
	if err != nil {
		return nil, err
	}

	runs := make([]string, 0, len(keys))
	for _, key := range keys {
		runs = append(runs, strings.TrimPrefix(key, prefix))
	}
	return runs, nil
}

// FindInstance 跨实例查找持有 Run 的实例
func (r *Registry) FindInstance(ctx context.Context, runID string) (string, error) {
	keys, err := r.scan(ctx, registry.RunPattern(runID))
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}

	// active_run:{instance}:{run}
	suffix := ":" + runID
	for _, key := range keys {
		trimmed := strings.TrimSuffix(key, suffix)
		if trimmed == key {
			continue
		}
		return strings.TrimPrefix(trimmed, "active_run:"), nil
	}
	return "", nil
}

// scan SCAN 遍历匹配模式的全部 Key
func (r *Registry) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan markers: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
