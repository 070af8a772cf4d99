package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ToolPilot/internal/config"
	apperrors "ToolPilot/internal/errors"
)

type fakeProcess struct {
	mu        sync.Mutex
	pingErr   error
	invokeErr error
	result    json.RawMessage
	invoked   []string
	stopped   bool
}

func (f *fakeProcess) Invoke(_ context.Context, action string, _ map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, action)
	if action == "ping" {
		return nil, f.pingErr
	}
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.result, nil
}

func (f *fakeProcess) Ping(ctx context.Context) error {
	_, err := f.Invoke(ctx, "ping", nil)
	return err
}

func (f *fakeProcess) Stop(time.Duration) {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func newTestGateway(launches *int, proc serverProcess, launchErr error) *Gateway {
	g := New(map[ToolID]config.ToolServerConfig{
		ToolCalendar: {Command: "calendar-server"},
	}, BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}, time.Second)

	g.sleep = func(time.Duration) {}
	g.launch = func(ToolID, config.ToolServerConfig) (serverProcess, error) {
		*launches++
		if launchErr != nil {
			return nil, launchErr
		}
		return proc, nil
	}
	return g
}

func TestEnsureConnectsOnce(t *testing.T) {
	launches := 0
	proc := &fakeProcess{}
	g := newTestGateway(&launches, proc, nil)

	if err := g.Ensure(context.Background(), ToolCalendar); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if err := g.Ensure(context.Background(), ToolCalendar); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	if launches != 1 {
		t.Fatalf("launches = %d, want 1 (second Ensure must do no I/O)", launches)
	}

	statuses := g.Status()
	if len(statuses) != 1 || statuses[0].State != StateConnected || statuses[0].RefCount != 2 {
		t.Fatalf("Status = %+v", statuses)
	}
}

func TestEnsureUnconfiguredTool(t *testing.T) {
	launches := 0
	g := newTestGateway(&launches, &fakeProcess{}, nil)

	err := g.Ensure(context.Background(), ToolEmail)
	if apperrors.CodeOf(err) != apperrors.CodeToolUnavailable {
		t.Fatalf("err = %v, want TOOL_UNAVAILABLE", err)
	}
}

func TestEnsureExhaustsBackoff(t *testing.T) {
	launches := 0
	g := newTestGateway(&launches, nil, errors.New("spawn failed"))

	err := g.Ensure(context.Background(), ToolCalendar)
	if apperrors.CodeOf(err) != apperrors.CodeToolUnavailable {
		t.Fatalf("err = %v, want TOOL_UNAVAILABLE", err)
	}
	if launches != 3 {
		t.Fatalf("launches = %d, want 3 attempts", launches)
	}

	statuses := g.Status()
	if statuses[0].State != StateFailed {
		t.Fatalf("State = %q, want failed", statuses[0].State)
	}
	if statuses[0].Retries != 3 {
		t.Fatalf("Retries = %d, want 3", statuses[0].Retries)
	}
}

func TestEnsureStopsProcessOnHealthFailure(t *testing.T) {
	launches := 0
	proc := &fakeProcess{pingErr: errors.New("not ready")}
	g := newTestGateway(&launches, proc, nil)

	if err := g.Ensure(context.Background(), ToolCalendar); err == nil {
		t.Fatalf("Ensure should fail when health check fails")
	}
	if !proc.stopped {
		t.Fatalf("unhealthy process was not stopped")
	}
}

func TestInvokeFailsFastWhenDisconnected(t *testing.T) {
	launches := 0
	g := newTestGateway(&launches, &fakeProcess{}, nil)

	_, err := g.Invoke(context.Background(), ToolCalendar, "list_calendar_events", nil)
	if apperrors.CodeOf(err) != apperrors.CodeToolUnavailable {
		t.Fatalf("err = %v, want TOOL_UNAVAILABLE", err)
	}
	if launches != 0 {
		t.Fatalf("Invoke must never connect implicitly, launches = %d", launches)
	}
}

func TestInvokeReturnsResult(t *testing.T) {
	launches := 0
	proc := &fakeProcess{result: json.RawMessage(`{"events": []}`)}
	g := newTestGateway(&launches, proc, nil)

	if err := g.Ensure(context.Background(), ToolCalendar); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	result, err := g.Invoke(context.Background(), ToolCalendar, "list_calendar_events", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(result) != `{"events": []}` {
		t.Fatalf("result = %s", result)
	}
}

func TestReleaseStopsAtZeroRefs(t *testing.T) {
	launches := 0
	proc := &fakeProcess{}
	g := newTestGateway(&launches, proc, nil)

	_ = g.Ensure(context.Background(), ToolCalendar)
	_ = g.Ensure(context.Background(), ToolCalendar)

	g.Release(ToolCalendar)
	if proc.stopped {
		t.Fatalf("process stopped while references remain")
	}

	g.Release(ToolCalendar)
	if !proc.stopped {
		t.Fatalf("process not stopped at zero references")
	}
	if g.Status()[0].State != StateDisconnected {
		t.Fatalf("State = %q, want disconnected", g.Status()[0].State)
	}
}

func TestReleaseWithoutEnsureIsNoop(t *testing.T) {
	launches := 0
	g := newTestGateway(&launches, &fakeProcess{}, nil)
	g.Release(ToolCalendar)
	g.Release(ToolEmail)
}

func TestCloseAllIgnoresRefCounts(t *testing.T) {
	launches := 0
	proc := &fakeProcess{}
	g := newTestGateway(&launches, proc, nil)

	_ = g.Ensure(context.Background(), ToolCalendar)
	_ = g.Ensure(context.Background(), ToolCalendar)
	g.CloseAll()

	if !proc.stopped {
		t.Fatalf("CloseAll did not stop the process")
	}
	if status := g.Status()[0]; status.State != StateDisconnected || status.RefCount != 0 {
		t.Fatalf("Status = %+v", status)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	policy := BackoffPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 350 * time.Millisecond}

	if got := policy.DelayFor(1); got != 100*time.Millisecond {
		t.Fatalf("DelayFor(1) = %s", got)
	}
	if got := policy.DelayFor(2); got != 200*time.Millisecond {
		t.Fatalf("DelayFor(2) = %s", got)
	}
	if got := policy.DelayFor(3); got != 350*time.Millisecond {
		t.Fatalf("DelayFor(3) = %s, want capped", got)
	}
}

func TestMapWireErrorAuthRequired(t *testing.T) {
	err := mapWireError(ToolEmail, "list_emails", &wireError{Code: "auth_required", Message: "token expired"})
	if apperrors.CodeOf(err) != apperrors.CodeAuthRequired {
		t.Fatalf("code = %q, want AUTH_REQUIRED", apperrors.CodeOf(err))
	}
}
