package router

import "strings"

// Tool 是系统支持的四类处理通道，属于封闭枚举：
// 新增工具需要同时扩展启发式回退表，保持回退逻辑的穷尽性。
type Tool string

const (
	ToolChat     Tool = "chat"
	ToolBrowser  Tool = "browser"
	ToolCalendar Tool = "calendar"
	ToolEmail    Tool = "email"
)

// AllTools 按固定顺序列出全部工具。
func AllTools() []Tool {
	return []Tool{ToolChat, ToolBrowser, ToolCalendar, ToolEmail}
}

// ParseTool 将文本解析为工具枚举。
func ParseTool(raw string) (Tool, bool) {
	switch Tool(strings.ToLower(strings.TrimSpace(raw))) {
	case ToolChat:
		return ToolChat, true
	case ToolBrowser:
		return ToolBrowser, true
	case ToolCalendar:
		return ToolCalendar, true
	case ToolEmail:
		return ToolEmail, true
	default:
		return "", false
	}
}

// IsValidTool 检查给定工具是否为支持的枚举值。
func IsValidTool(tool Tool) bool {
	_, ok := ParseTool(string(tool))
	return ok
}
