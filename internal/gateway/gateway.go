package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"ToolPilot/internal/config"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/pkg/logger"
)

// ToolID 标识一个受管的外部工具服务。
type ToolID string

const (
	ToolCalendar ToolID = "calendar"
	ToolEmail    ToolID = "email"
)

// BindingState 是绑定的生命周期状态。
type BindingState string

const (
	StateDisconnected BindingState = "disconnected"
	StateConnecting   BindingState = "connecting"
	StateConnected    BindingState = "connected"
	StateFailed       BindingState = "failed"
)

// BackoffPolicy 描述连接失败后的指数退避策略。
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DelayFor 返回第 attempt 次重试前的等待时间（attempt 从 1 开始）。
func (p BackoffPolicy) DelayFor(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if capped := float64(p.MaxDelay); p.MaxDelay > 0 && delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// PolicyFromConfig 从配置构建退避策略。
func PolicyFromConfig(cfg config.BackoffConfig) BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		Multiplier:  cfg.Multiplier,
		MaxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
	}
}

// BindingStatus 是对外暴露的绑定状态快照。
type BindingStatus struct {
	Tool            ToolID       `json:"tool"`
	State           BindingState `json:"state"`
	RefCount        int          `json:"ref_count"`
	Retries         int          `json:"retries"`
	LastHealthCheck time.Time    `json:"last_health_check,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
}

// binding 是单个工具服务的内部状态，由 Gateway 的互斥锁保护。
type binding struct {
	tool       ToolID
	state      BindingState
	refCount   int
	retries    int
	lastHealth time.Time
	lastErr    error
	proc       serverProcess
}

// launchFunc 允许测试注入假的进程实现。
type launchFunc func(tool ToolID, cfg config.ToolServerConfig) (serverProcess, error)

// Gateway 管理全部外部工具服务进程的生命周期。
// 每个工具至多一个绑定，并发的使用方通过引用计数共享同一进程。
type Gateway struct {
	mu       sync.Mutex
	bindings map[ToolID]*binding
	servers  map[ToolID]config.ToolServerConfig
	backoff  BackoffPolicy
	grace    time.Duration
	launch   launchFunc
	sleep    func(time.Duration)
	now      func() time.Time
}

// New 构建网关。未在 servers 中出现的工具视为未配置。
func New(servers map[ToolID]config.ToolServerConfig, backoff BackoffPolicy, grace time.Duration) *Gateway {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Gateway{
		bindings: make(map[ToolID]*binding),
		servers:  servers,
		backoff:  backoff,
		grace:    grace,
		launch:   launchProcess,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// FromConfig 从全局配置构建网关。
func FromConfig(cfg config.ToolsConfig) *Gateway {
	servers := map[ToolID]config.ToolServerConfig{}
	if cfg.Calendar.Command != "" {
		servers[ToolCalendar] = cfg.Calendar
	}
	if cfg.Email.Command != "" {
		servers[ToolEmail] = cfg.Email
	}
	grace := time.Duration(cfg.Backoff.GraceSeconds) * time.Second
	return New(servers, PolicyFromConfig(cfg.Backoff), grace)
}

// Ensure 保证指定工具处于已连接状态并持有一份引用。
// 已连接时只递增引用计数，不做任何 I/O；否则带退避地建立连接。
func (g *Gateway) Ensure(ctx context.Context, tool ToolID) error {
	g.mu.Lock()

	cfg, configured := g.servers[tool]
	if !configured {
		g.mu.Unlock()
		return apperrors.New(apperrors.CodeToolUnavailable,
			fmt.Sprintf("工具 %s 未配置", tool))
	}

	b, ok := g.bindings[tool]
	if !ok {
		b = &binding{tool: tool, state: StateDisconnected}
		g.bindings[tool] = b
	}

	if b.state == StateConnected {
		b.refCount++
		g.mu.Unlock()
		return nil
	}
	if b.state == StateConnecting {
		g.mu.Unlock()
		return apperrors.New(apperrors.CodeToolUnavailable,
			fmt.Sprintf("工具 %s 正在连接中", tool))
	}

	b.state = StateConnecting
	b.retries = 0
	g.mu.Unlock()

	proc, retries, err := g.connectWithBackoff(ctx, tool, cfg)

	g.mu.Lock()
	defer g.mu.Unlock()
	b.retries = retries
	if err != nil {
		b.state = StateFailed
		b.lastErr = err
		return err
	}
	b.state = StateConnected
	b.proc = proc
	b.refCount++
	b.lastErr = nil
	b.lastHealth = g.now()
	logger.L().Info("工具服务已连接",
		slog.String("tool", string(tool)),
		slog.Int("retries", retries))
	return nil
}

// connectWithBackoff 在互斥锁外完成启动与健康检查，避免阻塞其它工具。
func (g *Gateway) connectWithBackoff(ctx context.Context, tool ToolID, cfg config.ToolServerConfig) (serverProcess, int, error) {
	attempts := g.backoff.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			g.sleep(g.backoff.DelayFor(attempt - 1))
		}
		if ctx.Err() != nil {
			return nil, attempt - 1, apperrors.Wrap(apperrors.CodeToolUnavailable, ctx.Err(),
				fmt.Sprintf("连接工具 %s 被取消", tool))
		}

		proc, err := g.launch(tool, cfg)
		if err != nil {
			lastErr = err
			logger.L().Warn("启动工具服务失败",
				slog.String("tool", string(tool)),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}

		healthCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout())
		err = proc.Ping(healthCtx)
		cancel()
		if err != nil {
			proc.Stop(g.grace)
			lastErr = err
			logger.L().Warn("工具服务健康检查失败",
				slog.String("tool", string(tool)),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}

		return proc, attempt - 1, nil
	}

	return nil, attempts, apperrors.Wrap(apperrors.CodeToolUnavailable, lastErr,
		fmt.Sprintf("工具 %s 连接失败，已重试 %d 次", tool, attempts))
}

// Invoke 对已连接的工具执行一个动作。
// 绑定不存在或未连接时立即失败，绝不在调用路径上隐式建连。
func (g *Gateway) Invoke(ctx context.Context, tool ToolID, action string, params map[string]any) (json.RawMessage, error) {
	g.mu.Lock()
	b, ok := g.bindings[tool]
	if !ok || b.state != StateConnected {
		state := StateDisconnected
		if ok {
			state = b.state
		}
		g.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeToolUnavailable,
			fmt.Sprintf("工具 %s 当前状态为 %s，无法调用", tool, state))
	}
	proc := b.proc
	cfg := g.servers[tool]
	g.mu.Unlock()

	invokeCtx, cancel := context.WithTimeout(ctx, cfg.InvokeTimeout())
	defer cancel()

	result, err := proc.Invoke(invokeCtx, action, params)
	if err != nil {
		// 进程级故障把绑定打回 failed，等待下一次 Ensure 重建。
		if apperrors.CodeOf(err) == apperrors.CodeToolUnavailable {
			g.mu.Lock()
			b.state = StateFailed
			b.lastErr = err
			g.mu.Unlock()
		}
		return nil, err
	}
	return result, nil
}

// HealthCheck 对已连接的工具执行一次 ping 并刷新检查时间。
func (g *Gateway) HealthCheck(ctx context.Context, tool ToolID) error {
	g.mu.Lock()
	b, ok := g.bindings[tool]
	if !ok || b.state != StateConnected {
		g.mu.Unlock()
		return apperrors.New(apperrors.CodeToolUnavailable,
			fmt.Sprintf("工具 %s 未连接", tool))
	}
	proc := b.proc
	cfg := g.servers[tool]
	g.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout())
	defer cancel()
	err := proc.Ping(pingCtx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		b.state = StateFailed
		b.lastErr = err
		return err
	}
	b.lastHealth = g.now()
	return nil
}

// Release 归还一份引用。计数归零时关停进程并回到 disconnected。
func (g *Gateway) Release(tool ToolID) {
	g.mu.Lock()
	b, ok := g.bindings[tool]
	if !ok || b.refCount == 0 {
		g.mu.Unlock()
		return
	}
	b.refCount--
	if b.refCount > 0 {
		g.mu.Unlock()
		return
	}
	proc := b.proc
	b.proc = nil
	b.state = StateDisconnected
	g.mu.Unlock()

	if proc != nil {
		proc.Stop(g.grace)
		logger.L().Info("工具服务已关停", slog.String("tool", string(tool)))
	}
}

// Status 返回所有已配置工具的状态快照，按工具名排序无关紧要，
// 调用方通常直接渲染为表格。
func (g *Gateway) Status() []BindingStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	statuses := make([]BindingStatus, 0, len(g.servers))
	for tool := range g.servers {
		status := BindingStatus{Tool: tool, State: StateDisconnected}
		if b, ok := g.bindings[tool]; ok {
			status.State = b.state
			status.RefCount = b.refCount
			status.Retries = b.retries
			status.LastHealthCheck = b.lastHealth
			if b.lastErr != nil {
				status.LastError = b.lastErr.Error()
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// CloseAll 无视引用计数，关停全部进程。仅在进程退出路径调用。
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	procs := make([]serverProcess, 0, len(g.bindings))
	for _, b := range g.bindings {
		if b.proc != nil {
			procs = append(procs, b.proc)
		}
		b.proc = nil
		b.refCount = 0
		b.state = StateDisconnected
	}
	g.mu.Unlock()

	for _, proc := range procs {
		proc.Stop(g.grace)
	}
}
