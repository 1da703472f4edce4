// Package main API Server 入口
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"agents-runtime/internal/apiserver/auth"
	"agents-runtime/internal/apiserver/server"
	"agents-runtime/internal/archive"
	"agents-runtime/internal/config"
	"agents-runtime/internal/runner"
	redisbroker "agents-runtime/internal/shared/broker/redis"
	"agents-runtime/internal/shared/registry"
	etcdregistry "agents-runtime/internal/shared/registry/etcd"
	redisregistry "agents-runtime/internal/shared/registry/redis"
	"agents-runtime/internal/shared/storage"
	postgresdriver "agents-runtime/internal/shared/storage/driver/postgres"
	sqlitedriver "agents-runtime/internal/shared/storage/driver/sqlite"
	"agents-runtime/internal/shared/storage/mongostore"
	"agents-runtime/internal/shared/storage/repository"
	"agents-runtime/pkg/llm/openai"
	"agents-runtime/pkg/logging"
	"agents-runtime/pkg/tools"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换环境）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	logger := logging.New(logging.Config{Level: "info", Format: "json", Component: "api-server"})

	// 初始化持久化存储
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to %s", cfg.DatabaseDriver)

	// 初始化 Redis 输出代理（事件流 + 停止信号）
	brk, err := redisbroker.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer brk.Close()
	log.Println("Connected to Redis")

	// 初始化实例注册表（默认复用 Redis 连接）
	reg, regClose, err := openRegistry(cfg, brk)
	if err != nil {
		log.Fatalf("Failed to open instance registry: %v", err)
	}
	defer regClose()

	// 初始化模型客户端
	client := openai.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)

	// 初始化上下文窗口管理（摘要化 + 提示词组装）
	cw := runner.NewContextWindow(store, client, nil, runner.ContextWindowConfig{
		TokenThreshold:      cfg.Runner.TokenThreshold,
		SummaryTargetTokens: cfg.Runner.SummaryTargetTokens,
		SummaryModel:        cfg.LLM.SummaryModel,
	}, logger)

	// 转录归档（MinIO 可选，不可用时摘要化仍然工作）
	if cfg.MinIO.Endpoint != "" {
		objStore, err := archive.NewClient(archive.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			log.Printf("[minio] unavailable, transcript archival disabled: %v", err)
		} else {
			bucketCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := objStore.EnsureBucket(bucketCtx); err != nil {
				log.Printf("[minio] bucket check failed, transcript archival disabled: %v", err)
			} else {
				cw.SetArchiver(archive.NewArchiver(objStore, logger))
				log.Println("Transcript archival enabled")
			}
			cancel()
		}
	}

	// 执行循环与协调器
	loop := runner.NewLoop(store, brk, client, tools.NewRegistry(), cw, runner.LoopConfig{
		MaxIterations:       cfg.Runner.MaxIterations,
		MaxToolCallsPerTurn: cfg.Runner.MaxToolCallsPerTurn,
		SystemPrompt:        cfg.Runner.SystemPrompt,
	}, logger)
	coord := runner.New(store, brk, reg, loop, runner.Config{
		InstanceID:            cfg.Runner.InstanceID,
		ReconcileInterval:     cfg.Runner.ReconcileInterval.Std(),
		StaleRunAge:           cfg.Runner.StaleRunAge.Std(),
		MarkerRefreshInterval: cfg.Runner.MarkerRefresh.Std(),
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 启动恢复：清理本实例崩溃前遗留的 Run
	if err := coord.RecoverStartup(ctx); err != nil {
		log.Printf("Startup recovery error: %v", err)
	}

	// 对账巡检：兜底处理无人认领的孤儿 Run
	coord.StartReconciler(ctx)

	authCfg := auth.DefaultConfig()
	if cfg.Auth.Enabled {
		authCfg.JWTSecret = cfg.Auth.JWTSecret
		if ttl, err := time.ParseDuration(cfg.Auth.AccessTokenTTL); err == nil {
			authCfg.AccessTokenTTL = ttl
		}
	}

	h := server.NewHandler(store, brk, coord, server.Options{
		AuthConfig:      authCfg,
		PollInterval:    cfg.Stream.PollInterval.Std(),
		WatchdogTimeout: cfg.Stream.WatchdogTimeout.Std(),
	})

	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout 不设置：NDJSON 流式接口会长时间持有连接
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := coord.Shutdown(shutdownCtx); err != nil {
			log.Printf("Coordinator shutdown error: %v", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

// openStore 根据配置的驱动打开持久化存储
func openStore(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlitedriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := sqlitedriver.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			return nil, err
		}
		return repository.NewStore(db, dialect), nil
	case "mongodb":
		return mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
	default:
		db, err := postgresdriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := postgresdriver.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			return nil, err
		}
		return repository.NewStore(db, dialect), nil
	}
}

// openRegistry 根据配置的后端打开实例注册表
//
// redis 后端复用输出代理的连接，etcd 后端独立建连。
func openRegistry(cfg *config.Config, brk *redisbroker.Store) (registry.Registry, func(), error) {
	if cfg.Registry.Backend == "etcd" {
		reg, err := etcdregistry.NewRegistry(etcdregistry.Config{
			Endpoints: cfg.Registry.EtcdEndpoints,
			Prefix:    cfg.Registry.EtcdPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Println("Instance registry: etcd")
		return reg, func() { reg.Close() }, nil
	}

	log.Println("Instance registry: redis")
	// 连接随 broker 一起关闭
	return redisregistry.NewRegistryFromClient(brk.Client()), func() {}, nil
}
