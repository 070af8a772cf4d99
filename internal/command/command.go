package command

import (
	"strings"

	"ToolPilot/internal/router"
)

// Intent 是命令解释的结果，为封闭的三选一联合类型。
// 解释过程不调用大模型、不会失败：未命中任何前缀本身就是合法结果。
type Intent interface {
	isIntent()
}

// MetaCommand 表示一条会话控制命令，如 /clear、/status。
type MetaCommand struct {
	Name string
	Args string
}

// ForcedTool 表示用户通过前缀强制指定的工具及剩余文本。
type ForcedTool struct {
	Tool router.Tool
	Text string
}

// Unclassified 表示未命中任何前缀的普通输入，交由路由器分类。
type Unclassified struct {
	Text string
}

func (MetaCommand) isIntent() {}
func (ForcedTool) isIntent() {}
func (Unclassified) isIntent() {}

// metaCommands 是固定的会话控制命令词表。
var metaCommands = map[string]struct{}{
	"help":       {},
	"exit":       {},
	"quit":       {},
	"clear":      {},
	"history":    {},
	"config":     {},
	"status":     {},
	"tools":      {},
	"connect":    {},
	"disconnect": {},
}

// forcedTools 将强制前缀映射到工具枚举，包含常见拼写别名。
var forcedTools = map[string]router.Tool{
	"chat":     router.ToolChat,
	"browser":  router.ToolBrowser,
	"calendar": router.ToolCalendar,
	"calender": router.ToolCalendar,
	"email":    router.ToolEmail,
	"mail":     router.ToolEmail,
}

// Interpret 对原始输入做前缀精确、大小写不敏感的匹配，首个命中生效。
func Interpret(raw string) Intent {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return Unclassified{Text: trimmed}
	}

	head, rest, _ := strings.Cut(trimmed[1:], " ")
	name := strings.ToLower(head)
	rest = strings.TrimSpace(rest)

	if _, ok := metaCommands[name]; ok {
		return MetaCommand{Name: name, Args: rest}
	}
	if tool, ok := forcedTools[name]; ok {
		return ForcedTool{Tool: tool, Text: rest}
	}

	// 未知的斜杠前缀与普通文本同样处理，保证管线总能继续。
	return Unclassified{Text: trimmed}
}
