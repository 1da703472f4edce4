// coordinator.go 运行协调器
//
// Run 的生命周期权威：创建、派发到执行循环、停止协议、终态落库
// （finalize 是唯一的终态转换路径）、启动恢复与周期对账。
package runner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"agents-runtime/internal/shared/broker"
	"agents-runtime/internal/shared/model"
	"agents-runtime/internal/shared/registry"
	"agents-runtime/internal/shared/storage"
	"agents-runtime/pkg/logging"
)

// 协调器默认参数
const (
	// FinalizeAttempts 终态落库重试次数
	FinalizeAttempts = 3

	// FinalizeBackoff 终态落库重试起始间隔，逐次翻倍
	FinalizeBackoff = 500 * time.Millisecond

	// DefaultReconcileInterval 对账巡检周期
	DefaultReconcileInterval = 10 * time.Minute

	// DefaultStaleRunAge 超过该时长仍为 running 且无实例标记的
	// Run 视为孤儿
	DefaultStaleRunAge = 30 * time.Minute

	// DefaultMarkerRefreshInterval 长跑 Run 刷新实例标记 TTL 的周期
	DefaultMarkerRefreshInterval = 5 * time.Minute
)

// 协调器错误
var (
	// ErrThreadNotFound Thread 不存在
	ErrThreadNotFound = errors.New("thread not found")

	// ErrRunNotFound Run 不存在
	ErrRunNotFound = errors.New("run not found")

	// ErrThreadBusy Thread 上已有运行中的 Run
	ErrThreadBusy = errors.New("thread already has a running run")
)

// recoveredRunError 启动恢复时写入孤儿 Run 的错误描述
const recoveredRunError = "instance restarted while run was in progress"

// staleRunError 对账巡检写入孤儿 Run 的错误描述
const staleRunError = "run abandoned: no live instance holds it"

// Config 协调器配置
type Config struct {
	// InstanceID 本实例标识，空则自动生成
	InstanceID string
	// ReconcileInterval 对账巡检周期，<=0 时取默认值
	ReconcileInterval time.Duration
	// StaleRunAge 孤儿判定时长，<=0 时取默认值
	StaleRunAge time.Duration
	// MarkerRefreshInterval 实例标记刷新周期，<=0 时取默认值
	MarkerRefreshInterval time.Duration
}

// Coordinator 运行协调器
type Coordinator struct {
	store    storage.PersistentStore
	broker   broker.Broker
	registry registry.Registry
	loop     *Loop
	cfg      Config
	logger   *logging.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建协调器
func New(store storage.PersistentStore, brk broker.Broker, reg registry.Registry, loop *Loop, cfg Config, logger *logging.Logger) *Coordinator {
	if cfg.InstanceID == "" {
		cfg.InstanceID = generateID("inst")
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.StaleRunAge <= 0 {
		cfg.StaleRunAge = DefaultStaleRunAge
	}
	if cfg.MarkerRefreshInterval <= 0 {
		cfg.MarkerRefreshInterval = DefaultMarkerRefreshInterval
	}
	return &Coordinator{
		store:    store,
		broker:   brk,
		registry: reg,
		loop:     loop,
		cfg:      cfg,
		logger:   logger.WithInstanceID(cfg.InstanceID),
		running:  make(map[string]context.CancelFunc),
	}
}

// InstanceID 返回本实例标识
func (c *Coordinator) InstanceID() string {
	return c.cfg.InstanceID
}

// Start 在指定 Thread 上启动一次 Run
//
// 创建 running 状态的 Run 记录和实例标记，订阅停止信号后
// 异步派发执行循环。同一 Thread 同时只允许一个活动 Run。
func (c *Coordinator) Start(ctx context.Context, threadID string, params model.ExecutionParams) (*model.Run, error) {
	thread, err := c.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}

	active, err := c.store.ListRunningRuns(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to check active runs: %w", err)
	}
	for _, r := range active {
		if r.ThreadID == threadID {
			return nil, ErrThreadBusy
		}
	}

	now := time.Now()
	run := &model.Run{
		ID:        generateID("run"),
		ThreadID:  threadID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	// 用户消息在 Run 之前落库，进入后续所有提示词
	if params.TempMessage == "" {
		c.logger.WithRunID(run.ID).Debug("Run started without a new user message")
	}

	if err := c.registry.Register(ctx, c.cfg.InstanceID, run.ID); err != nil {
		// 标记是建议性的，失败不阻止执行
		c.logger.WithRunID(run.ID).WithError(err).Warn("Failed to register active-run marker")
	}

	// 先订阅再派发，停止信号不丢。订阅寿命随 Run 而非请求：
	// 请求上下文在响应写出后随即取消
	control, cancelControl, err := c.broker.SubscribeControl(context.WithoutCancel(ctx), run.ID, c.cfg.InstanceID)
	if err != nil {
		c.finalize(context.WithoutCancel(ctx), run.ID, model.RunStatusFailed, "failed to subscribe control channel")
		return nil, fmt.Errorf("failed to subscribe control channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.running[run.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.execute(runCtx, cancel, run, params, control, cancelControl)

	c.logger.RunLog("dispatched", run.ID, threadID, "model", params.ModelName, "stream", params.Stream)
	return run, nil
}

// execute 工作协程：桥接停止信号、驱动循环、统一收尾
func (c *Coordinator) execute(ctx context.Context, cancel context.CancelFunc, run *model.Run, params model.ExecutionParams, control <-chan string, cancelControl func()) {
	defer c.wg.Done()
	defer cancelControl()
	defer func() {
		c.mu.Lock()
		delete(c.running, run.ID)
		c.mu.Unlock()
	}()

	log := c.logger.WithRunID(run.ID).WithThreadID(run.ThreadID)

	stop := make(chan struct{})
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		refresh := time.NewTicker(c.cfg.MarkerRefreshInterval)
		defer refresh.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh.C:
				// 长跑 Run 续标记 TTL，失败只影响定向停止
				if err := c.registry.Refresh(ctx, c.cfg.InstanceID, run.ID); err != nil {
					log.WithError(err).Warn("Failed to refresh active-run marker")
				}
			case token, ok := <-control:
				if !ok {
					return
				}
				if token == broker.StopToken {
					log.Info("Stop signal received on control channel")
					close(stop)
					return
				}
				log.Warn("Ignoring unknown control token", "token", token)
			}
		}
	}()
	// 退出前释放 per-run context，信号桥随之收尾
	defer func() {
		cancel()
		<-bridgeDone
	}()

	// 其他实例可能已经把 Run 停掉
	if current, err := c.store.GetRun(ctx, run.ID); err == nil && current != nil && current.IsTerminal() {
		log.Info("Run already terminal before execution began", "status", current.Status)
		if err := c.registry.Deregister(ctx, c.cfg.InstanceID, run.ID); err != nil {
			log.WithError(err).Warn("Failed to deregister active-run marker")
		}
		return
	}

	start := time.Now()
	runErr := c.loop.Run(ctx, run, params, stop)

	status := model.RunStatusCompleted
	errMsg := ""
	switch {
	case errors.Is(runErr, ErrStopped) || errors.Is(runErr, context.Canceled):
		status = model.RunStatusStopped
	case runErr != nil:
		status = model.RunStatusFailed
		errMsg = runErr.Error()
		log.WithError(runErr).Error("Run failed")
	default:
		// 停止信号在最后一轮模型调用期间到达时，
		// 循环会自然结束，终态仍按停止记
		select {
		case <-stop:
			status = model.RunStatusStopped
		default:
		}
	}

	// 收尾动作脱离 runCtx，停止后仍需落库
	done := context.WithoutCancel(ctx)
	c.finalize(done, run.ID, status, errMsg)
	log.WithDuration(time.Since(start)).Info("Run finished", "status", status)
}

// RequestStop 请求停止一个 Run
//
// 幂等：已终态直接返回成功。信号同时发向全网频道和持有实例的
// 定向频道，并尽力直接落 stopped 状态兜底。
func (c *Coordinator) RequestStop(ctx context.Context, runID string) error {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return ErrRunNotFound
	}
	if run.IsTerminal() {
		return nil
	}

	if err := c.broker.PublishStop(ctx, runID); err != nil {
		return fmt.Errorf("failed to publish stop signal: %w", err)
	}

	if instanceID, err := c.registry.FindInstance(ctx, runID); err != nil {
		c.logger.WithRunID(runID).WithError(err).Warn("Failed to locate holding instance")
	} else if instanceID != "" {
		if err := c.broker.PublishStopToInstance(ctx, runID, instanceID); err != nil {
			c.logger.WithRunID(runID).WithError(err).Warn("Failed to publish targeted stop signal",
				"instance", instanceID)
		}
	}

	// 兜底：即使没有实例在消费信号，状态也要收敛。
	// 持有实例随后的 finalize 会因终态守卫而不再改写。
	if err := c.store.UpdateRunStatus(ctx, runID, model.RunStatusStopped, nil); err != nil {
		c.logger.WithRunID(runID).WithError(err).Warn("Best-effort stop status update failed")
	}

	c.logger.RunLog("stop_requested", runID, run.ThreadID)
	return nil
}

// finalize 终态落库：状态持久化 + 终态事件广播 + 标记清理
//
// 重试指数退避；全部失败时 Run 留给对账巡检收敛。
func (c *Coordinator) finalize(ctx context.Context, runID string, status model.RunStatus, errMsg string) {
	log := c.logger.WithRunID(runID)

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	var lastErr error
	backoff := FinalizeBackoff
	for attempt := 1; attempt <= FinalizeAttempts; attempt++ {
		lastErr = c.store.UpdateRunStatus(ctx, runID, status, errPtr)
		if lastErr == nil {
			break
		}
		log.WithError(lastErr).Warn("Finalize attempt failed",
			"attempt", attempt, "max_attempts", FinalizeAttempts)
		if attempt < FinalizeAttempts {
			select {
			case <-ctx.Done():
				attempt = FinalizeAttempts
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		log.WithError(lastErr).Error("Failed to finalize run status, leaving to reconciler")
	}

	// 失败终态以 thread_run_failed 广播，携带错误描述
	eventStatus := string(status)
	if status == model.RunStatusFailed {
		eventStatus = model.StatusThreadRunFailed
	}
	terminal := model.NewStatusEvent(runID, eventStatus, errMsg)
	if err := c.broker.AppendEvent(ctx, runID, terminal); err != nil {
		log.WithError(err).Warn("Failed to append terminal status event")
	}

	if err := c.registry.Deregister(ctx, c.cfg.InstanceID, runID); err != nil {
		log.WithError(err).Warn("Failed to deregister active-run marker")
	}
}

// RecoverStartup 启动恢复
//
// 扫描本实例遗留的活动标记：上一进程崩溃时在跑的 Run 已经没有
// 执行者，统一按失败收敛。
func (c *Coordinator) RecoverStartup(ctx context.Context) error {
	runIDs, err := c.registry.ListRuns(ctx, c.cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to list leftover markers: %w", err)
	}
	if len(runIDs) == 0 {
		return nil
	}

	c.logger.Info("Recovering orphaned runs from previous process", "count", len(runIDs))
	for _, runID := range runIDs {
		run, err := c.store.GetRun(ctx, runID)
		if err != nil {
			c.logger.WithRunID(runID).WithError(err).Warn("Recovery: failed to load run")
			continue
		}
		if run == nil || run.IsTerminal() {
			// 记录已收敛，只清标记
			if err := c.registry.Deregister(ctx, c.cfg.InstanceID, runID); err != nil {
				c.logger.WithRunID(runID).WithError(err).Warn("Recovery: failed to clear marker")
			}
			continue
		}
		c.finalize(ctx, runID, model.RunStatusFailed, recoveredRunError)
		c.logger.RunLog("recovered", runID, run.ThreadID)
	}
	return nil
}

// StartReconciler 启动对账巡检协程
//
// 周期性扫描长时间停留在 running 且没有任何实例标记的 Run，
// 按失败收敛。ctx 取消时退出。
func (c *Coordinator) StartReconciler(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.reconcile(ctx); err != nil {
					c.logger.WithError(err).Warn("Reconciliation sweep failed")
				}
			}
		}
	}()
}

// reconcile 单次对账
func (c *Coordinator) reconcile(ctx context.Context) error {
	stale, err := c.store.ListStaleRunningRuns(ctx, c.cfg.StaleRunAge)
	if err != nil {
		return fmt.Errorf("failed to list stale runs: %w", err)
	}
	for _, run := range stale {
		instanceID, err := c.registry.FindInstance(ctx, run.ID)
		if err != nil {
			c.logger.WithRunID(run.ID).WithError(err).Warn("Reconcile: marker lookup failed")
			continue
		}
		if instanceID != "" {
			// 某个实例还持有标记，长跑视为正常
			continue
		}
		c.logger.RunLog("reconciled", run.ID, run.ThreadID, "started_at", run.StartedAt)
		c.finalize(ctx, run.ID, model.RunStatusFailed, staleRunError)
	}
	return nil
}

// Shutdown 优雅关闭：取消所有在跑的 Run 并等待收尾完成
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for runID, cancel := range c.running {
		c.logger.WithRunID(runID).Info("Cancelling run for shutdown")
		cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// generateID 生成带前缀的随机 ID
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
