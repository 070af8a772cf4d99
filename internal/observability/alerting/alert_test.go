package alerting

import (
	"context"
	"sync"
	"testing"

	apperrors "ToolPilot/internal/errors"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alert Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func TestDispatchFansOut(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	dispatcher := NewDispatcher(first)
	dispatcher.Register(second)

	dispatcher.Dispatch(context.Background(), Alert{Source: "test", Message: "boom"})

	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("fanout counts = %d, %d", first.count(), second.count())
	}
	if first.alerts[0].Timestamp.IsZero() {
		t.Fatalf("timestamp not assigned")
	}
}

func TestFromErrorHonorsAlertFlag(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier)

	// SESSION_BUSY 默认不告警。
	dispatcher.FromError(context.Background(), "session", apperrors.New(apperrors.CodeSessionBusy, ""))
	if notifier.count() != 0 {
		t.Fatalf("non-alerting error was dispatched")
	}

	dispatcher.FromError(context.Background(), "gateway",
		apperrors.New(apperrors.CodeToolUnavailable, "calendar down",
			apperrors.WithMetadata("tool", "calendar")))
	if notifier.count() != 1 {
		t.Fatalf("alerting error not dispatched")
	}
	alert := notifier.alerts[0]
	if alert.Code != apperrors.CodeToolUnavailable || alert.Metadata["tool"] != "calendar" {
		t.Fatalf("alert = %+v", alert)
	}
}

func TestFromErrorIgnoresNil(t *testing.T) {
	notifier := &recordingNotifier{}
	NewDispatcher(notifier).FromError(context.Background(), "x", nil)
	if notifier.count() != 0 {
		t.Fatalf("nil error dispatched")
	}
}
