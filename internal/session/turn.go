package session

import (
	"time"

	"ToolPilot/internal/router"
)

// State 是会话状态机的取值。合法迁移只有
// Idle→Routing→Executing→Idle，以及各状态在失败时直接回到 Idle。
type State string

const (
	StateIdle      State = "idle"
	StateRouting   State = "routing"
	StateExecuting State = "executing"
)

// TurnStatus 是单个回合的终态。
type TurnStatus string

const (
	// StatusCompleted 覆盖正常完成与预算耗尽的部分完成。
	StatusCompleted   TurnStatus = "completed"
	StatusFailed      TurnStatus = "failed"
	StatusInterrupted TurnStatus = "interrupted"
)

// Turn 是一次完整的用户回合。写入历史后不再修改。
type Turn struct {
	ID         string
	Sequence   int
	Input      string
	Tool       router.Tool
	Decision   router.Decision
	Response   string
	Status     TurnStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Latency 返回回合耗时。
func (t *Turn) Latency() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}

// Reply 是 Process 的返回值。元命令只有 Text，不产生 Turn。
type Reply struct {
	Text string
	Turn *Turn
	Exit bool
}

// Status 是会话的对外快照。
type Status struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
	LastTool  string    `json:"last_tool,omitempty"`
}
