package session

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"ToolPilot/internal/gateway"
	"ToolPilot/internal/llm"
	"ToolPilot/internal/router"
)

// actionPlan 是一次工具调用的动作与参数。
type actionPlan struct {
	Action string
	Params map[string]any
}

// actionCatalogs 列出每个外部工具支持的动作全集。
// 动作名必须与工具服务协议中的 action 字段一致。
var actionCatalogs = map[gateway.ToolID][]string{
	gateway.ToolCalendar: {
		"list_calendar_events",
		"create_calendar_event",
		"update_calendar_event",
		"delete_calendar_event",
		"check_availability",
	},
	gateway.ToolEmail: {
		"list_emails",
		"read_email",
		"send_email",
		"modify_email_labels",
		"search_emails",
	},
}

const actionPrompt = `You translate a user request into ONE tool action.

Tool: %s
Available actions: %s

User request: %q

Respond with ONLY valid JSON (no markdown):
{"action": "action_name", "params": {"key": "value"}}

Include only parameters you can infer from the request. For send_email use
params "to" (recipient name or address), "subject" and "body" when inferable.
For calendar events use params "title", "start", "end", "attendees".`

// selectAction 让大模型从动作目录中选择动作并抽取参数。
// 调用失败或结果越界时退化到关键词解析。
func selectAction(ctx context.Context, client llm.Client, tool gateway.ToolID, query string) actionPlan {
	catalog := actionCatalogs[tool]
	if client != nil {
		resp, err := client.Complete(ctx, llm.Request{
			Prompt: fmt.Sprintf(actionPrompt, tool, strings.Join(catalog, ", "), query),
		})
		if err == nil {
			if plan, ok := parseActionPlan(resp.Text, catalog); ok {
				return plan
			}
		}
	}
	return fallbackAction(tool, query)
}

// parseActionPlan 解析动作选择结果并校验动作在目录内。
func parseActionPlan(raw string, catalog []string) (actionPlan, bool) {
	cleaned := stripFences(raw)
	var decoded struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return actionPlan{}, false
	}
	action := strings.ToLower(strings.TrimSpace(decoded.Action))
	for _, candidate := range catalog {
		if action == candidate {
			return actionPlan{Action: action, Params: decoded.Params}, true
		}
	}
	return actionPlan{}, false
}

func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
	}
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

var recipientPattern = regexp.MustCompile(`(?i)\bto\s+([a-zA-Z][\w.@'-]*)`)

// fallbackAction 是确定性的关键词解析，保证动作选择永不失败。
func fallbackAction(tool gateway.ToolID, query string) actionPlan {
	lowered := strings.ToLower(query)

	switch tool {
	case gateway.ToolCalendar:
		// update 在 create 之前判定：reschedule 含有 schedule 子串。
		switch {
		case containsAny(lowered, "availab", "free", "busy"):
			return actionPlan{Action: "check_availability", Params: map[string]any{"query": query}}
		case containsAny(lowered, "delete", "cancel", "remove"):
			return actionPlan{Action: "delete_calendar_event", Params: map[string]any{"query": query}}
		case containsAny(lowered, "update", "reschedule", "move", "change"):
			return actionPlan{Action: "update_calendar_event", Params: map[string]any{"query": query}}
		case containsAny(lowered, "create", "schedule", "add", "book", "set up"):
			return actionPlan{Action: "create_calendar_event", Params: map[string]any{"title": query}}
		default:
			// 未指定时间范围时默认查询从现在到当天结束。
			return actionPlan{Action: "list_calendar_events", Params: map[string]any{
				"query":    query,
				"time_min": "now",
				"time_max": "end_of_day",
			}}
		}

	case gateway.ToolEmail:
		switch {
		case containsAny(lowered, "send", "compose", "write"):
			params := map[string]any{"query": query}
			if match := recipientPattern.FindStringSubmatch(query); match != nil {
				params["to"] = match[1]
			}
			return actionPlan{Action: "send_email", Params: params}
		case containsAny(lowered, "search"):
			return actionPlan{Action: "search_emails", Params: emailQueryParams(query)}
		case containsAny(lowered, "read", "open", "show me the"):
			return actionPlan{Action: "read_email", Params: map[string]any{"query": query}}
		case containsAny(lowered, "label", "archive", "mark "):
			return actionPlan{Action: "modify_email_labels", Params: map[string]any{"query": query}}
		default:
			return actionPlan{Action: "list_emails", Params: emailQueryParams(query)}
		}
	}

	return actionPlan{Action: "unknown", Params: map[string]any{"query": query}}
}

// emailQueryParams 构造邮件列表与搜索的参数。
// 结果数固定上限为 10，unread/inbox 等措辞映射为结构化查询词。
func emailQueryParams(query string) map[string]any {
	params := map[string]any{"max_results": 10}
	lowered := strings.ToLower(query)
	switch {
	case strings.Contains(lowered, "unread"):
		params["query"] = "is:unread"
	case strings.Contains(lowered, "inbox"):
		params["query"] = "in:inbox"
	default:
		params["query"] = query
	}
	return params
}

func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

const emailDraftPrompt = `Write a short, polite email based on this request: %q

Recipient: %s

Respond with ONLY valid JSON (no markdown):
{"subject": "...", "body": "..."}`

// draftEmail 在用户未给出正文时生成邮件主题与正文。
// 生成失败时退回到把原始请求作为正文的朴素模板。
func draftEmail(ctx context.Context, client llm.Client, query, recipient string) (subject, body string) {
	if client != nil {
		resp, err := client.Complete(ctx, llm.Request{
			Prompt: fmt.Sprintf(emailDraftPrompt, query, recipient),
		})
		if err == nil {
			var decoded struct {
				Subject string `json:"subject"`
				Body    string `json:"body"`
			}
			if json.Unmarshal([]byte(stripFences(resp.Text)), &decoded) == nil &&
				decoded.Subject != "" && decoded.Body != "" {
				return decoded.Subject, decoded.Body
			}
		}
	}
	return "Message from your assistant", query
}

// gatewayTool 把路由枚举映射到网关工具标识。
func gatewayTool(tool router.Tool) (gateway.ToolID, bool) {
	switch tool {
	case router.ToolCalendar:
		return gateway.ToolCalendar, true
	case router.ToolEmail:
		return gateway.ToolEmail, true
	default:
		return "", false
	}
}
