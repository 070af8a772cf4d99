package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "ToolPilot/internal/errors"
	"ToolPilot/pkg/logger"
)

// Alert 是一条待分发的告警。
type Alert struct {
	Source    string
	Code      apperrors.Code
	Severity  apperrors.Severity
	Message   string
	Metadata  map[string]string
	Timestamp time.Time
}

// Notifier 抽象告警通知渠道。
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Dispatcher 把告警扇出到全部注册的通知渠道。
// 单个渠道失败只记日志，不影响其它渠道。
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewDispatcher 创建分发器。
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// Register 追加一个通知渠道。
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	d.notifiers = append(d.notifiers, n)
	d.mu.Unlock()
}

// Dispatch 同步扇出一条告警。
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	d.mu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	for _, n := range notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			logger.L().Warn("告警通知发送失败",
				slog.String("source", alert.Source),
				slog.Any("error", err))
		}
	}
}

// FromError 把需要告警的错误转换为告警并分发。不需告警的错误直接忽略。
func (d *Dispatcher) FromError(ctx context.Context, source string, err error) {
	if err == nil || !apperrors.ShouldAlert(err) {
		return
	}
	alert := Alert{
		Source:   source,
		Code:     apperrors.CodeOf(err),
		Severity: apperrors.SeverityOf(err),
		Message:  err.Error(),
	}
	if e, ok := apperrors.From(err); ok {
		alert.Metadata = e.Metadata()
	}
	d.Dispatch(ctx, alert)
}

// LogNotifier 把告警写入审计日志，是默认渠道。
type LogNotifier struct{}

// Notify 实现 Notifier。
func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	attrs := []any{
		slog.String("source", alert.Source),
		slog.String("code", string(alert.Code)),
		slog.String("severity", string(alert.Severity)),
		slog.String("message", alert.Message),
	}
	for key, value := range alert.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, value))
	}
	logger.Audit().Warn("alert", attrs...)
	return nil
}
