package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"ToolPilot/internal/config"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/pkg/logger"
)

// serverProcess 抽象一个已启动的工具服务进程，便于在测试中替换实现。
type serverProcess interface {
	Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
	Ping(ctx context.Context) error
	Stop(grace time.Duration)
}

// wireRequest 与 wireResponse 定义与工具服务的行式 JSON 协议：
// 每行一个 JSON 对象，请求带自增 id，响应按 id 回配。
type wireRequest struct {
	ID     uint64         `json:"id"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

// stdioProcess 管理一个通过 stdin/stdout 通信的子进程。
// 写入由互斥锁串行化，读取由单独的分发协程完成。
type stdioProcess struct {
	tool ToolID
	cmd  *exec.Cmd

	writeMu sync.Mutex
	stdin   io.WriteCloser
	encoder *json.Encoder

	pendingMu sync.Mutex
	pending   map[uint64]chan wireResponse
	nextID    uint64
	closed    bool

	done chan struct{}
}

// launchProcess 启动工具服务进程并挂起读取协程。
func launchProcess(tool ToolID, cfg config.ToolServerConfig) (serverProcess, error) {
	if cfg.Command == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("工具 %s 未配置启动命令", tool))
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 stdin 管道失败: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 stdout 管道失败: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 stderr 管道失败: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动工具服务进程失败: %w", err)
	}

	proc := &stdioProcess{
		tool:    tool,
		cmd:     cmd,
		stdin:   stdin,
		encoder: json.NewEncoder(stdin),
		pending: make(map[uint64]chan wireResponse),
		done:    make(chan struct{}),
	}

	go proc.readLoop(stdout)
	go proc.drainStderr(stderr)

	return proc, nil
}

// readLoop 逐行读取响应并按 id 分发给等待方。进程退出后唤醒所有等待者。
func (p *stdioProcess) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp wireResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logger.L().Warn("工具服务输出了无法解析的行",
				slog.String("tool", string(p.tool)),
				slog.Any("error", err))
			continue
		}
		p.dispatch(resp)
	}

	p.pendingMu.Lock()
	p.closed = true
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
	close(p.done)
}

func (p *stdioProcess) dispatch(resp wireResponse) {
	p.pendingMu.Lock()
	ch, ok := p.pending[resp.ID]
	if ok {
		delete(p.pending, resp.ID)
	}
	p.pendingMu.Unlock()
	if ok {
		ch <- resp
		close(ch)
	}
}

func (p *stdioProcess) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.L().Debug("工具服务 stderr",
			slog.String("tool", string(p.tool)),
			slog.String("line", scanner.Text()))
	}
}

// Invoke 发送一个动作并等待对应响应，受 ctx 超时约束。
func (p *stdioProcess) Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	p.pendingMu.Lock()
	if p.closed {
		p.pendingMu.Unlock()
		return nil, apperrors.New(apperrors.CodeToolUnavailable,
			fmt.Sprintf("工具 %s 的服务进程已退出", p.tool))
	}
	p.nextID++
	id := p.nextID
	ch := make(chan wireResponse, 1)
	p.pending[id] = ch
	p.pendingMu.Unlock()

	p.writeMu.Lock()
	err := p.encoder.Encode(wireRequest{ID: id, Action: action, Params: params})
	p.writeMu.Unlock()
	if err != nil {
		p.abandon(id)
		return nil, apperrors.Wrap(apperrors.CodeToolUnavailable, err,
			fmt.Sprintf("向工具 %s 写入请求失败", p.tool))
	}

	select {
	case <-ctx.Done():
		p.abandon(id)
		return nil, apperrors.Wrap(apperrors.CodeTimeout, ctx.Err(),
			fmt.Sprintf("等待工具 %s 响应超时", p.tool))
	case resp, ok := <-ch:
		if !ok {
			return nil, apperrors.New(apperrors.CodeToolUnavailable,
				fmt.Sprintf("工具 %s 的服务进程在响应前退出", p.tool))
		}
		if resp.Error != nil {
			return nil, mapWireError(p.tool, action, resp.Error)
		}
		return resp.Result, nil
	}
}

func (p *stdioProcess) abandon(id uint64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

// mapWireError 将协议错误码映射为统一错误类型。
// auth_required 单独成类，会话层据此提示用户重新授权而非重试。
func mapWireError(tool ToolID, action string, we *wireError) error {
	message := fmt.Sprintf("工具 %s 执行 %s 失败: %s", tool, action, we.Message)
	switch we.Code {
	case "auth_required", "unauthorized":
		return apperrors.New(apperrors.CodeAuthRequired, message,
			apperrors.WithMetadata("tool", string(tool)))
	case "not_found":
		return apperrors.New(apperrors.CodeNotFound, message)
	case "invalid_params":
		return apperrors.New(apperrors.CodeInvalidArgument, message)
	default:
		return apperrors.New(apperrors.CodeCapabilityFailure, message,
			apperrors.WithMetadata("tool", string(tool)),
			apperrors.WithMetadata("wire_code", we.Code))
	}
}

// Ping 发送健康检查动作。
func (p *stdioProcess) Ping(ctx context.Context) error {
	_, err := p.Invoke(ctx, "ping", nil)
	return err
}

// Stop 先发 SIGTERM 等待宽限期，超时后强制杀死进程。
func (p *stdioProcess) Stop(grace time.Duration) {
	p.writeMu.Lock()
	_ = p.stdin.Close()
	p.writeMu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
	case <-time.After(grace):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	}
	_ = p.cmd.Wait()
}
