// Package etcd Registry 的 etcd 实现
//
// 标记通过 Lease 自动过期，不需要显式 TTL 刷新之外的清理。
package etcd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"agents-runtime/internal/shared/registry"
)

// Registry etcd 实例注册表
type Registry struct {
	client *clientv3.Client
	prefix string
}

// 确保 Registry 实现了 registry.Registry 接口
var _ registry.Registry = (*Registry)(nil)

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewRegistry 创建 etcd 实例注册表
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/agents-runtime"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd/Registry] Connected to %v", cfg.Endpoints)
	return &Registry{client: client, prefix: cfg.Prefix}, nil
}

// Close 关闭连接
func (r *Registry) Close() error {
	return r.client.Close()
}

// markerKey /{prefix}/active_run/{instance}/{run}
func (r *Registry) markerKey(instanceID, runID string) string {
	return fmt.Sprintf("%s/active_run/%s/%s", r.prefix, instanceID, runID)
}

// Register 登记活跃标记（带 Lease 自动过期）
func (r *Registry) Register(ctx context.Context, instanceID, runID string) error {
	lease, err := r.client.Grant(ctx, int64(registry.TTLMarker.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	key := r.markerKey(instanceID, runID)
	if _, err := r.client.Put(ctx, key, registry.MarkerValue, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register active run: %w", err)
	}
	log.Printf("[etcd/Registry] Registered active run: instance=%s run=%s", instanceID, runID)
	return nil
}

// Refresh 刷新标记（重新授 Lease 并覆盖写入）
func (r *Registry) Refresh(ctx context.Context, instanceID, runID string) error {
	return r.Register(ctx, instanceID, runID)
}

// Deregister 删除标记
func (r *Registry) Deregister(ctx context.Context, instanceID, runID string) error {
	if _, err := r.client.Delete(ctx, r.markerKey(instanceID, runID)); err != nil {
		return fmt.Errorf("failed to deregister active run: %w", err)
	}
	log.Printf("[etcd/Registry] Deregistered active run: instance=%s run=%s", instanceID, runID)
	return nil
}

// ListRuns 列出实例名下的所有 Run
func (r *Registry) ListRuns(ctx context.Context, instanceID string) ([]string, error) {
	prefix := fmt.Sprintf("%s/active_run/%s/", r.prefix, instanceID)
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list markers: %w", err)
	}

	runs := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		runs = append(runs, strings.TrimPrefix(string(kv.Key), prefix))
	}
	return runs, nil
}

// FindInstance 跨实例查找持有 Run 的实例
func (r *Registry) FindInstance(ctx context.Context, runID string) (string, error) {
	prefix := fmt.Sprintf("%s/active_run/", r.prefix)
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return "", fmt.Errorf("failed to scan markers: %w", err)
	}

	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 && parts[1] == runID {
			return parts[0], nil
		}
	}
	return "", nil
}
