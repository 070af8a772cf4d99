package session

import (
	"context"
	"fmt"
	"strings"

	"ToolPilot/internal/command"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/internal/gateway"
	"ToolPilot/internal/router"
)

const helpText = `Commands:
  /help                 show this help
  /exit, /quit          leave the session
  /clear                clear conversation history
  /history              show recent turns
  /config               show active configuration
  /status               show session state
  /tools                show tool server status
  /connect <tool>       connect a tool server (calendar, email)
  /disconnect <tool>    release a tool server

Forced routing:
  /chat, /browser, /calendar, /email <request>

Anything else is routed automatically.`

// handleMeta 处理会话控制命令。除 /clear 外均不要求会话空闲。
func (m *Manager) handleMeta(ctx context.Context, cmd command.MetaCommand) (*Reply, error) {
	switch cmd.Name {
	case "help":
		return &Reply{Text: helpText}, nil

	case "exit", "quit":
		return &Reply{Text: "Goodbye.", Exit: true}, nil

	case "clear":
		return m.clearHistory(ctx)

	case "history":
		return &Reply{Text: m.renderHistory(10)}, nil

	case "config":
		if m.configSummary == "" {
			return &Reply{Text: "(no configuration summary available)"}, nil
		}
		return &Reply{Text: m.configSummary}, nil

	case "status":
		status := m.StatusSnapshot()
		return &Reply{Text: fmt.Sprintf("session %s  state=%s  turns=%d  last_tool=%s",
			status.SessionID, status.State, status.Turns, orDash(status.LastTool))}, nil

	case "tools":
		return &Reply{Text: m.renderToolStatus()}, nil

	case "connect":
		return m.connectTool(ctx, cmd.Args)

	case "disconnect":
		return m.disconnectTool(cmd.Args)

	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("未知命令: /%s", cmd.Name))
	}
}

// clearHistory 清空内存历史与持久化转录，并归还持有的工具引用。
// 会话忙时拒绝。
func (m *Manager) clearHistory(ctx context.Context) (*Reply, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeSessionBusy, "会话执行中，无法清空历史")
	}
	m.turns = nil
	m.seq = 0
	m.mu.Unlock()

	m.Close()

	if m.repo != nil {
		if err := m.repo.ClearSession(ctx, m.id); err != nil {
			return nil, err
		}
	}
	return &Reply{Text: "History cleared."}, nil
}

func (m *Manager) renderHistory(limit int) string {
	turns := m.History()
	if len(turns) == 0 {
		return "(no history)"
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "#%d [%s/%s] %s\n", turn.Sequence, turn.Tool, turn.Status, turn.Input)
		if turn.Response != "" {
			fmt.Fprintf(&b, "    %s\n", firstLine(turn.Response))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Manager) renderToolStatus() string {
	if m.gateway == nil {
		return "(no tool gateway configured)"
	}
	statuses := m.gateway.Status()
	if len(statuses) == 0 {
		return "(no tool servers configured)"
	}

	var b strings.Builder
	for _, status := range statuses {
		fmt.Fprintf(&b, "%-10s %-13s refs=%d retries=%d", status.Tool, status.State, status.RefCount, status.Retries)
		if status.LastError != "" {
			fmt.Fprintf(&b, "  last_error=%s", firstLine(status.LastError))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// connectTool 手工预热一个工具绑定。持有的引用与自动建连共用。
func (m *Manager) connectTool(ctx context.Context, arg string) (*Reply, error) {
	tool, err := parseToolArg(arg)
	if err != nil {
		return nil, err
	}
	if err := m.acquireTool(ctx, tool); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf("Connected to %s.", tool)}, nil
}

func (m *Manager) disconnectTool(arg string) (*Reply, error) {
	tool, err := parseToolArg(arg)
	if err != nil {
		return nil, err
	}
	if !m.releaseTool(tool) {
		return &Reply{Text: fmt.Sprintf("%s is not connected.", tool)}, nil
	}
	return &Reply{Text: fmt.Sprintf("Released %s.", tool)}, nil
}

func parseToolArg(arg string) (gateway.ToolID, error) {
	parsed, ok := router.ParseTool(arg)
	if !ok {
		return "", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("未知工具: %q，可选 calendar 或 email", arg))
	}
	id, ok := gatewayTool(parsed)
	if !ok {
		return "", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("工具 %s 无需连接", parsed))
	}
	return id, nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

func orDash(text string) string {
	if text == "" {
		return "-"
	}
	return text
}
