package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"ToolPilot/internal/llm"
	"ToolPilot/pkg/logger"
)

// Decision 描述一次路由结果。创建后不再修改，由包含它的回合独占持有。
type Decision struct {
	Primary   Tool     `json:"primary_tool"`
	Secondary []Tool   `json:"secondary_tools,omitempty"`
	Rationale string   `json:"rationale"`
	Actions   []string `json:"actions,omitempty"`
	Query     string   `json:"query"`
}

// Router 将自然语言输入分类到四类工具之一。
// 分类依赖大模型，但所有失败路径都会退化到确定性的关键词回退表，
// 因此 Route 永远返回有效结果，从不向调用方报错。
type Router struct {
	llmClient llm.Client
}

// New 创建路由器。
func New(llmClient llm.Client) *Router {
	return &Router{llmClient: llmClient}
}

const routingPrompt = `You are an intelligent tool router for an AI assistant with multiple capabilities.

Analyze the user's request and determine which tool(s) to use.

Available tools:
1. CHAT - General conversation, answering questions, math, explanations, discussions
2. BROWSER - Web browsing, searching, extracting information from websites
3. CALENDAR - View, create, update, delete calendar events, check availability
4. EMAIL - Read, send, search emails, manage labels

ROUTING RULES:
- EMAIL: any query with words "email", "mail", "send message", "inbox", "compose"
- BROWSER: only for web searches, online research, finding information on websites
- CALENDAR: only for calendar/scheduling operations
- CHAT: only for pure conversation without any external actions
- If uncertain between EMAIL and BROWSER, and the query mentions "email/mail/send/message", choose EMAIL.

Analyze this user request: %q

Respond with ONLY valid JSON (no markdown, no extra text):
{"primary_tool": "tool_name", "secondary_tools": ["tool1"], "reasoning": "why", "specific_actions": ["action1"]}`

// Route 对输入做一次大模型分类；解析或校验失败时使用关键词回退表。
func (r *Router) Route(ctx context.Context, text string) Decision {
	if r == nil || r.llmClient == nil {
		return fallback(text, "路由器未配置大模型客户端")
	}

	resp, err := r.llmClient.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(routingPrompt, text),
	})
	if err != nil {
		logger.L().Debug("路由分类调用失败，使用关键词回退",
			slog.Any("error", err))
		return fallback(text, fmt.Sprintf("分类调用失败: %v", err))
	}

	decision, err := parseDecision(resp.Text, text)
	if err != nil {
		logger.L().Debug("路由分类结果不可用，使用关键词回退",
			slog.Any("error", err))
		return fallback(text, fmt.Sprintf("分类结果不可用: %v", err))
	}
	return decision
}

// parseDecision 解析大模型返回的 JSON，并校验主工具取值。
func parseDecision(raw, query string) (Decision, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return Decision{}, fmt.Errorf("响应为空")
	}

	var decoded struct {
		PrimaryTool     string   `json:"primary_tool"`
		SecondaryTools  []string `json:"secondary_tools"`
		Reasoning       string   `json:"reasoning"`
		SpecificActions []string `json:"specific_actions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return Decision{}, fmt.Errorf("解析 JSON 失败: %w", err)
	}

	primary, ok := ParseTool(decoded.PrimaryTool)
	if !ok {
		return Decision{}, fmt.Errorf("未知的主工具: %q", decoded.PrimaryTool)
	}

	var secondary []Tool
	for _, raw := range decoded.SecondaryTools {
		if tool, ok := ParseTool(raw); ok && tool != primary {
			secondary = append(secondary, tool)
		}
	}

	actions := decoded.SpecificActions
	if len(actions) == 0 {
		actions = []string{query}
	}

	return Decision{
		Primary:   primary,
		Secondary: secondary,
		Rationale: decoded.Reasoning,
		Actions:   actions,
		Query:     query,
	}, nil
}

// stripFences 去掉模型偶尔附带的 markdown 代码围栏。
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
	}
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

// rule 是回退表中的一条规则：任一关键词命中即选定目标工具。
type rule struct {
	tool     Tool
	keywords []string
}

// fallbackRules 按优先级排列，自上而下求值，首条命中生效。
var fallbackRules = []rule{
	{ToolCalendar, []string{"calendar", "calender", "schedule", "meeting", "appointment", "event"}},
	{ToolEmail, []string{"email", "mail", "inbox", "send message", "unread", "compose"}},
	{ToolBrowser, []string{"search", "find", "look up", "browse", "website", "google", "price", "weather", "news"}},
}

// Fallback 对外暴露确定性回退路径，便于独立测试。
func Fallback(text string) Decision {
	return fallback(text, "确定性回退")
}

func fallback(text, reason string) Decision {
	lowered := strings.ToLower(text)
	for _, r := range fallbackRules {
		for _, keyword := range r.keywords {
			if strings.Contains(lowered, keyword) {
				return Decision{
					Primary:   r.tool,
					Rationale: fmt.Sprintf("关键词回退命中 %q (%s)", keyword, reason),
					Actions:   []string{text},
					Query:     text,
				}
			}
		}
	}
	return Decision{
		Primary:   ToolChat,
		Rationale: fmt.Sprintf("回退默认选择 chat (%s)", reason),
		Actions:   []string{text},
		Query:     text,
	}
}

// Forced 构造一次人工指定工具的路由结果，完全绕过分类器。
func Forced(tool Tool, text string) Decision {
	return Decision{
		Primary:   tool,
		Rationale: fmt.Sprintf("用户显式指定 %s 工具", tool),
		Actions:   []string{text},
		Query:     text,
	}
}
