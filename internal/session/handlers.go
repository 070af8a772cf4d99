package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "ToolPilot/internal/errors"
	"ToolPilot/internal/gateway"
	"ToolPilot/internal/llm"
	"ToolPilot/internal/router"
)

const chatSystemPrompt = `You are a helpful personal assistant. Answer directly and concisely.
If background facts are provided below, prefer them over guesses.`

// execute 执行主工具，随后按顺序执行次要工具并拼接输出。
// 次要工具失败不终止回合，失败信息作为该工具的输出段落。
func (m *Manager) execute(ctx context.Context, decision router.Decision) (string, error) {
	primary, err := m.executeTool(ctx, decision.Primary, decision.Query)
	if err != nil {
		return "", err
	}

	sections := []string{primary}
	for _, tool := range decision.Secondary {
		if ctx.Err() != nil {
			break
		}
		text, err := m.executeTool(ctx, tool, decision.Query)
		if err != nil {
			text = fmt.Sprintf("(%s failed: %v)", tool, err)
		}
		sections = append(sections, text)
	}
	return strings.Join(sections, "\n\n"), nil
}

// executeTool 把单个工具的执行分派给对应处理器。
func (m *Manager) executeTool(ctx context.Context, tool router.Tool, query string) (string, error) {
	switch tool {
	case router.ToolChat:
		return m.executeChat(ctx, query)
	case router.ToolBrowser:
		return m.executeBrowser(ctx, query)
	case router.ToolCalendar, router.ToolEmail:
		id, _ := gatewayTool(tool)
		return m.executeExternal(ctx, id, query)
	default:
		return "", apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("未知工具: %s", tool))
	}
}

// executeChat 以最近三轮对话为上下文做一次普通补全。
func (m *Manager) executeChat(ctx context.Context, query string) (string, error) {
	system := chatSystemPrompt
	if m.knowledge != nil {
		snippets := m.knowledge.Query(query, m.knowledgeLimit)
		if len(snippets) > 0 {
			var b strings.Builder
			b.WriteString(system)
			b.WriteString("\n\nBackground facts:\n")
			for _, snippet := range snippets {
				fmt.Fprintf(&b, "- %s: %s\n", snippet.Topic, snippet.Content)
			}
			system = b.String()
		}
	}

	resp, err := m.llmClient.Complete(ctx, llm.Request{
		System:  system,
		Prompt:  query,
		History: m.recentExchanges(3),
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCapabilityFailure, err, "对话补全失败")
	}
	return strings.TrimSpace(resp.Text), nil
}

// recentExchanges 返回最近 n 个已完成回合作为对话上下文。
// 调用方持有会话锁之外的执行路径，读取走快照避免数据竞争。
func (m *Manager) recentExchanges(n int) []llm.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exchanges []llm.Exchange
	for i := len(m.turns) - 1; i >= 0 && len(exchanges) < n; i-- {
		turn := m.turns[i]
		if turn.Status != StatusCompleted {
			continue
		}
		exchanges = append(exchanges, llm.Exchange{User: turn.Input, Assistant: turn.Response})
	}
	// 倒序收集，返回前恢复时间正序。
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges
}

// executeBrowser 在步数预算内运行一次浏览任务。
// 预算耗尽不算失败：返回部分结果并注明截断。
func (m *Manager) executeBrowser(ctx context.Context, query string) (string, error) {
	if m.engine == nil {
		return "", apperrors.New(apperrors.CodeToolUnavailable, "浏览器引擎未配置")
	}

	result, err := m.engine.Run(ctx, query, m.budget)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(result.FinalText)
	if !result.Completed {
		text += fmt.Sprintf("\n\n(stopped after %d steps; result may be partial)", m.budget.MaxSteps)
	}
	return text, nil
}

// acquireTool 确保工具已连接，并让会话持有一份跨回合的引用。
// 已持有时归还 Ensure 新增的那一份，净引用数始终为一。
func (m *Manager) acquireTool(ctx context.Context, tool gateway.ToolID) error {
	if err := m.gateway.Ensure(ctx, tool); err != nil {
		return err
	}
	m.mu.Lock()
	if m.held[tool] {
		m.mu.Unlock()
		m.gateway.Release(tool)
		return nil
	}
	m.held[tool] = true
	m.mu.Unlock()
	return nil
}

// releaseTool 归还会话持有的引用。未持有时为空操作并返回 false。
func (m *Manager) releaseTool(tool gateway.ToolID) bool {
	m.mu.Lock()
	held := m.held[tool]
	delete(m.held, tool)
	m.mu.Unlock()

	if held {
		m.gateway.Release(tool)
	}
	return held
}

// executeExternal 对日历或邮件工具执行一次动作调用。
// 连接在回合结束后保留，后续回合直接复用同一进程。
func (m *Manager) executeExternal(ctx context.Context, tool gateway.ToolID, query string) (string, error) {
	if err := m.acquireTool(ctx, tool); err != nil {
		return "", err
	}

	if tool == gateway.ToolEmail && wantsEmailSummary(query) {
		return m.summarizeEmails(ctx, query)
	}

	plan := selectAction(ctx, m.llmClient, tool, query)
	if plan.Action == "send_email" {
		m.prepareEmail(ctx, &plan, query)
	}

	result, err := m.gateway.Invoke(ctx, tool, plan.Action, plan.Params)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeAuthRequired {
			return "", apperrors.Wrap(apperrors.CodeAuthRequired, err,
				fmt.Sprintf("工具 %s 需要重新授权，请运行其授权流程后重试", tool))
		}
		return "", err
	}
	return renderToolResult(plan.Action, result), nil
}

const emailSummaryPrompt = `You summarize a mailbox listing for the user.
Write a few short sentences: who wrote, what about, and anything that
looks urgent. Do not invent emails that are not in the listing.`

// wantsEmailSummary 判断请求是要对邮件做归纳，而不是单步动作。
func wantsEmailSummary(query string) bool {
	return strings.Contains(strings.ToLower(query), "summar")
}

// summarizeEmails 是两段式组合动作：先按时间窗拉取邮件列表，
// 再用一次补全把列表归纳成自然语言。补全失败时退回原始列表。
func (m *Manager) summarizeEmails(ctx context.Context, query string) (string, error) {
	lowered := strings.ToLower(query)
	params := map[string]any{"max_results": 10}

	var terms []string
	if strings.Contains(lowered, "unread") {
		terms = append(terms, "is:unread")
	}
	switch {
	case strings.Contains(lowered, "today"):
		terms = append(terms, "newer_than:1d")
	case strings.Contains(lowered, "week"):
		terms = append(terms, "newer_than:7d")
	}
	if len(terms) > 0 {
		params["query"] = strings.Join(terms, " ")
	}

	raw, err := m.gateway.Invoke(ctx, gateway.ToolEmail, "list_emails", params)
	if err != nil {
		return "", err
	}
	listing := renderToolResult("list_emails", raw)

	resp, err := m.llmClient.Complete(ctx, llm.Request{
		System: emailSummaryPrompt,
		Prompt: fmt.Sprintf("User request: %s\n\nEmails:\n%s", query, listing),
	})
	if err != nil {
		return listing, nil
	}
	if text := strings.TrimSpace(resp.Text); text != "" {
		return text, nil
	}
	return listing, nil
}

// prepareEmail 补全发信参数：把联系人姓名解析为地址，缺正文时代笔。
func (m *Manager) prepareEmail(ctx context.Context, plan *actionPlan, query string) {
	if plan.Params == nil {
		plan.Params = map[string]any{}
	}

	recipient, _ := plan.Params["to"].(string)
	if recipient != "" && !strings.Contains(recipient, "@") && m.knowledge != nil {
		if contact, err := m.knowledge.LookupContact(recipient); err == nil {
			plan.Params["to"] = contact.Email
			recipient = contact.Email
		}
	}

	subject, _ := plan.Params["subject"].(string)
	body, _ := plan.Params["body"].(string)
	if subject == "" || body == "" {
		draftSubject, draftBody := draftEmail(ctx, m.llmClient, query, recipient)
		if subject == "" {
			plan.Params["subject"] = draftSubject
		}
		if body == "" {
			plan.Params["body"] = draftBody
		}
	}
}

// renderToolResult 把工具返回的 JSON 渲染为用户可读文本。
func renderToolResult(action string, raw json.RawMessage) string {
	if len(raw) == 0 {
		return fmt.Sprintf("%s: done", action)
	}

	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}

	var pretty map[string]any
	if json.Unmarshal(raw, &pretty) == nil {
		if message, ok := pretty["message"].(string); ok && message != "" {
			return message
		}
	}

	indented, err := json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(indented)
}
