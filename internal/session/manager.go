package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ToolPilot/internal/anchor"
	"ToolPilot/internal/browser"
	"ToolPilot/internal/command"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/internal/events"
	"ToolPilot/internal/gateway"
	"ToolPilot/internal/knowledge"
	"ToolPilot/internal/llm"
	"ToolPilot/internal/observability/alerting"
	"ToolPilot/internal/observability/metrics"
	"ToolPilot/internal/router"
	"ToolPilot/internal/storage"
	"ToolPilot/pkg/logger"
)

// ToolGateway 是会话依赖的外部工具网关能力面。
// 生产实现是 *gateway.Gateway，测试可注入假网关。
type ToolGateway interface {
	Ensure(ctx context.Context, tool gateway.ToolID) error
	Invoke(ctx context.Context, tool gateway.ToolID, action string, params map[string]any) (json.RawMessage, error)
	Release(tool gateway.ToolID)
	Status() []gateway.BindingStatus
}

// Manager 驱动单个会话的完整生命周期：命令解释、路由、执行、
// 历史记录与事件外发。同一会话同一时刻至多执行一个回合。
type Manager struct {
	id             string
	llmClient      llm.Client
	router         *router.Router
	gateway        ToolGateway
	engine         browser.Engine
	knowledge      knowledge.Provider
	knowledgeLimit int
	repo           storage.TurnRepository
	sink           events.Sink
	alerts         *alerting.Dispatcher
	metrics        *metrics.Registry
	budget         anchor.StepBudget
	configSummary  string

	mu        sync.Mutex
	state     State
	turns     []*Turn
	seq       int
	cancel    context.CancelFunc
	startedAt time.Time
	// held 记录会话替用户长期持有的工具引用。
	// 绑定在回合之间保持连接，直到 /disconnect、/clear 或会话关闭。
	held map[gateway.ToolID]bool
}

// Option 定义可选依赖的注入方式。
type Option func(*Manager)

// WithEngine 注入浏览器引擎。
func WithEngine(engine browser.Engine) Option {
	return func(m *Manager) { m.engine = engine }
}

// WithKnowledge 注入知识库及单次查询上限。
func WithKnowledge(provider knowledge.Provider, limit int) Option {
	return func(m *Manager) {
		m.knowledge = provider
		m.knowledgeLimit = limit
	}
}

// WithRepository 注入转录仓库。
func WithRepository(repo storage.TurnRepository) Option {
	return func(m *Manager) { m.repo = repo }
}

// WithEventSink 注入回合事件通道。
func WithEventSink(sink events.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithAlerts 注入告警分发器。
func WithAlerts(dispatcher *alerting.Dispatcher) Option {
	return func(m *Manager) { m.alerts = dispatcher }
}

// WithMetrics 注入指标注册表。
func WithMetrics(registry *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = registry }
}

// WithConfigSummary 注入 /config 命令展示的配置摘要。
func WithConfigSummary(summary string) Option {
	return func(m *Manager) { m.configSummary = summary }
}

// New 创建会话管理器。id 为空时自动生成。
func New(id string, client llm.Client, rt *router.Router, gw ToolGateway, budget anchor.StepBudget, opts ...Option) *Manager {
	if id == "" {
		id = uuid.NewString()
	}
	m := &Manager{
		id:             id,
		llmClient:      client,
		router:         rt,
		gateway:        gw,
		budget:         budget,
		knowledgeLimit: 3,
		state:          StateIdle,
		startedAt:      time.Now(),
		held:           make(map[gateway.ToolID]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// ID 返回会话标识。
func (m *Manager) ID() string { return m.id }

// Process 处理一条用户输入。
// 元命令即时应答；其余输入经过 Idle→Routing→Executing 的完整回合。
// 会话忙时返回 SESSION_BUSY 错误，被拒绝的输入不进入历史。
func (m *Manager) Process(ctx context.Context, raw string) (*Reply, error) {
	if strings.TrimSpace(raw) == "" {
		return &Reply{}, nil
	}

	switch intent := command.Interpret(raw).(type) {
	case command.MetaCommand:
		return m.handleMeta(ctx, intent)
	case command.ForcedTool:
		if intent.Text == "" {
			return &Reply{Text: fmt.Sprintf("Usage: /%s <request>", intent.Tool)}, nil
		}
		return m.runTurn(ctx, intent.Text, func(context.Context) router.Decision {
			return router.Forced(intent.Tool, intent.Text)
		})
	case command.Unclassified:
		return m.runTurn(ctx, intent.Text, func(turnCtx context.Context) router.Decision {
			return m.router.Route(turnCtx, intent.Text)
		})
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "无法解释的输入")
	}
}

// runTurn 执行一个完整回合并落盘。
func (m *Manager) runTurn(ctx context.Context, input string, decide func(context.Context) router.Decision) (*Reply, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeSessionBusy,
			fmt.Sprintf("会话正在处理上一条请求 (state=%s)，请稍候或使用 Ctrl+C 中断", state))
	}
	m.state = StateRouting
	m.seq++
	seq := m.seq
	turnCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.state = StateIdle
		m.cancel = nil
		m.mu.Unlock()
	}()

	started := time.Now()
	decision := decide(turnCtx)

	m.mu.Lock()
	m.state = StateExecuting
	m.mu.Unlock()

	response, execErr := m.execute(turnCtx, decision)
	finished := time.Now()

	turn := &Turn{
		ID:         uuid.NewString(),
		Sequence:   seq,
		Input:      input,
		Tool:       decision.Primary,
		Decision:   decision,
		Response:   response,
		StartedAt:  started,
		FinishedAt: finished,
	}

	reply := &Reply{Turn: turn}
	switch {
	case turnCtx.Err() == context.Canceled && ctx.Err() == nil:
		turn.Status = StatusInterrupted
		turn.Error = "interrupted by user"
		reply.Text = "(interrupted)"
	case execErr != nil:
		turn.Status = StatusFailed
		turn.Error = execErr.Error()
		reply.Text = fmt.Sprintf("Error: %v", execErr)
		if m.alerts != nil {
			m.alerts.FromError(ctx, "session."+m.id, execErr)
		}
	default:
		turn.Status = StatusCompleted
		reply.Text = response
	}

	m.record(turn)
	return reply, nil
}

// record 把回合追加进历史并完成持久化、事件与指标上报。
// 历史只追加：除 /clear 外没有任何修改路径。
func (m *Manager) record(turn *Turn) {
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()

	if m.repo != nil {
		record := &storage.TurnRecord{
			ID:        turn.ID,
			SessionID: m.id,
			Sequence:  turn.Sequence,
			Input:     turn.Input,
			Tool:      string(turn.Tool),
			Response:  turn.Response,
			Status:    string(turn.Status),
			Error:     turn.Error,
			LatencyMS: turn.Latency().Milliseconds(),
			CreatedAt: turn.StartedAt,
		}
		if err := m.repo.Append(context.Background(), record); err != nil {
			logger.L().Error("转录持久化失败",
				slog.String("session_id", m.id),
				slog.Any("error", err))
			if m.alerts != nil {
				m.alerts.FromError(context.Background(), "session."+m.id, err)
			}
		}
	}

	if m.sink != nil {
		event := events.TurnEvent{
			SessionID: m.id,
			TurnID:    turn.ID,
			Sequence:  turn.Sequence,
			Tool:      string(turn.Tool),
			Status:    string(turn.Status),
			Error:     turn.Error,
			LatencyMS: turn.Latency().Milliseconds(),
			Timestamp: turn.FinishedAt,
		}
		if err := m.sink.Publish(context.Background(), event); err != nil {
			logger.L().Warn("回合事件发布失败",
				slog.String("session_id", m.id),
				slog.Any("error", err))
		}
	}

	if m.metrics != nil {
		m.metrics.ObserveTurn(string(turn.Tool), string(turn.Status), turn.Latency())
	}
}

// Close 归还会话持有的全部工具引用。由 Hub 移除会话或进程退出时调用。
func (m *Manager) Close() {
	m.mu.Lock()
	held := make([]gateway.ToolID, 0, len(m.held))
	for tool := range m.held {
		held = append(held, tool)
	}
	m.held = make(map[gateway.ToolID]bool)
	m.mu.Unlock()

	for _, tool := range held {
		m.gateway.Release(tool)
	}
}

// Interrupt 取消正在执行的回合。会话空闲时为空操作并返回 false。
func (m *Manager) Interrupt() bool {
	m.mu.Lock()
	cancel := m.cancel
	busy := m.state != StateIdle
	m.mu.Unlock()

	if busy && cancel != nil {
		cancel()
		return true
	}
	return false
}

// History 返回回合历史的快照。
func (m *Manager) History() []*Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]*Turn, len(m.turns))
	copy(snapshot, m.turns)
	return snapshot
}

// StatusSnapshot 返回会话当前状态。
func (m *Manager) StatusSnapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		SessionID: m.id,
		State:     m.state,
		Turns:     len(m.turns),
		StartedAt: m.startedAt,
	}
	if len(m.turns) > 0 {
		status.LastTool = string(m.turns[len(m.turns)-1].Tool)
	}
	return status
}
