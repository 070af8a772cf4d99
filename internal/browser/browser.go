package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ToolPilot/internal/anchor"
	apperrors "ToolPilot/internal/errors"
)

// Result 是一次浏览任务的最终产出。
// Completed 为 false 表示步数预算耗尽，FinalText 为截至当时的部分结果。
type Result struct {
	FinalText string
	Completed bool
	Steps     int
}

// Engine 抽象浏览器自动化能力。
type Engine interface {
	Run(ctx context.Context, task string, budget anchor.StepBudget) (*Result, error)
}

// SubprocessEngine 通过一次性子进程驱动浏览器自动化脚本。
// 任务描述与预算走 stdin，脚本在预算内自主执行并从 stdout 返回结果。
type SubprocessEngine struct {
	executable string
	scriptPath string
	args       []string
	workingDir string
}

// NewSubprocessEngine 创建子进程引擎。
func NewSubprocessEngine(executable, scriptPath string, args []string, workingDir string) (*SubprocessEngine, error) {
	if scriptPath == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "未指定浏览器自动化脚本路径")
	}
	if executable == "" {
		executable = "python3"
	}
	return &SubprocessEngine{
		executable: executable,
		scriptPath: scriptPath,
		args:       args,
		workingDir: workingDir,
	}, nil
}

// Run 执行一次浏览任务。整体超时为预算允许的最大总时长。
func (e *SubprocessEngine) Run(ctx context.Context, task string, budget anchor.StepBudget) (*Result, error) {
	payload := struct {
		Task               string `json:"task"`
		SystemSuffix       string `json:"system_suffix"`
		MaxSteps           int    `json:"max_steps"`
		StepTimeoutSeconds int    `json:"step_timeout_seconds"`
	}{
		Task:               anchor.Anchor(task),
		SystemSuffix:       anchor.SystemSuffix(),
		MaxSteps:           budget.MaxSteps,
		StepTimeoutSeconds: int(budget.StepTimeout / time.Second),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化浏览任务失败: %w", err)
	}

	deadline := time.Duration(budget.MaxSteps) * budget.StepTimeout
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	args := append(append([]string{}, e.args...), e.scriptPath)
	command := exec.CommandContext(runCtx, e.executable, args...)
	if e.workingDir != "" {
		command.Dir = e.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.CodeTimeout, runCtx.Err(), "浏览任务超出预算总时长")
		}
		return nil, apperrors.Wrap(apperrors.CodeCapabilityFailure, err,
			fmt.Sprintf("浏览器脚本执行失败: %s", strings.TrimSpace(stderr.String())))
	}

	var decoded struct {
		FinalText string `json:"final_text"`
		Completed bool   `json:"completed"`
		Steps     int    `json:"steps"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityFailure, err, "解析浏览器脚本输出失败")
	}

	return &Result{
		FinalText: decoded.FinalText,
		Completed: decoded.Completed,
		Steps:     decoded.Steps,
	}, nil
}
