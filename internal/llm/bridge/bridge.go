package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"ToolPilot/internal/llm"
)

// Client 通过调用本地脚本（如 Ollama 包装脚本）实现大模型推理。
// 每次补全拉起一个一次性子进程，请求通过 stdin 传入，结果从 stdout 读取。
type Client struct {
	executable string
	scriptPath string
	workingDir string
}

// NewClient 创建本地桥接客户端。
func NewClient(executable, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定推理脚本路径")
	}
	if executable == "" {
		executable = "python3"
	}
	return &Client{
		executable: executable,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部脚本，并解析输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	type exchange struct {
		User      string `json:"user"`
		Assistant string `json:"assistant"`
	}
	payload := struct {
		System  string     `json:"system,omitempty"`
		Prompt  string     `json:"prompt"`
		History []exchange `json:"history,omitempty"`
	}{
		System: req.System,
		Prompt: req.Prompt,
	}
	for _, entry := range req.History {
		payload.History = append(payload.History, exchange{User: entry.User, Assistant: entry.Assistant})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化推理请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.executable, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行推理脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析推理脚本输出失败: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, fmt.Errorf("推理脚本返回了空结果")
	}

	return &llm.Response{Text: resp.Text}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
