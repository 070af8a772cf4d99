package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ToolPilot/internal/anchor"
	"ToolPilot/internal/gateway"
	"ToolPilot/internal/llm"
	"ToolPilot/internal/observability/metrics"
	"ToolPilot/internal/router"
	"ToolPilot/internal/session"
)

type echoLLM struct{}

func (echoLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	if strings.Contains(req.Prompt, "intelligent tool router") {
		return &llm.Response{Text: `{"primary_tool": "chat"}`}, nil
	}
	return &llm.Response{Text: "echo: " + req.Prompt}, nil
}

func newTestServer() (*Server, *gateway.Gateway) {
	client := echoLLM{}
	gw := gateway.New(nil, gateway.BackoffPolicy{MaxAttempts: 1}, time.Second)
	registry := metrics.NewRegistry()
	hub := session.NewHub(func(id string) *session.Manager {
		return session.New(id, client, router.New(client), gw, anchor.BudgetFor(llm.TierLocal),
			session.WithMetrics(registry))
	})
	return NewServer(":0", hub, gw, registry), gw
}

func doJSON(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.httpSrv.Handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHandleRequestProcessesTurn(t *testing.T) {
	server, _ := newTestServer()

	recorder := doJSON(t, server, http.MethodPost, "/api/v1/requests", `{"input": "hello"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body)
	}

	var response struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
		Turn      struct {
			Status string `json:"status"`
		} `json:"turn"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.SessionID == "" {
		t.Fatalf("session id not assigned")
	}
	if response.Turn.Status != "completed" {
		t.Fatalf("turn status = %q", response.Turn.Status)
	}
	if !strings.Contains(response.Text, "echo: hello") {
		t.Fatalf("text = %q", response.Text)
	}
}

func TestHandleRequestReusesSession(t *testing.T) {
	server, _ := newTestServer()

	first := doJSON(t, server, http.MethodPost, "/api/v1/requests", `{"session_id": "abc", "input": "one"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := doJSON(t, server, http.MethodPost, "/api/v1/requests", `{"session_id": "abc", "input": "two"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d", second.Code)
	}

	history := doJSON(t, server, http.MethodGet, "/api/v1/history?session_id=abc", "")
	if history.Code != http.StatusOK {
		t.Fatalf("history status = %d", history.Code)
	}
	var payload struct {
		Turns []struct {
			Sequence int `json:"sequence"`
		} `json:"turns"`
	}
	if err := json.Unmarshal(history.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Turns) != 2 || payload.Turns[1].Sequence != 2 {
		t.Fatalf("turns = %+v", payload.Turns)
	}
}

func TestHandleRequestRejectsEmptyInput(t *testing.T) {
	server, _ := newTestServer()
	recorder := doJSON(t, server, http.MethodPost, "/api/v1/requests", `{"input": ""}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestHandleRequestRejectsBadJSON(t *testing.T) {
	server, _ := newTestServer()
	recorder := doJSON(t, server, http.MethodPost, "/api/v1/requests", `not json`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	server, _ := newTestServer()
	recorder := doJSON(t, server, http.MethodGet, "/api/v1/history?session_id=missing", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestInterruptUnknownSession(t *testing.T) {
	server, _ := newTestServer()
	recorder := doJSON(t, server, http.MethodPost, "/api/v1/interrupt", `{"session_id": "missing"}`)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestToolStatusEndpoint(t *testing.T) {
	server, _ := newTestServer()
	recorder := doJSON(t, server, http.MethodGet, "/api/v1/tools/status", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "tools") {
		t.Fatalf("body = %s", recorder.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer()
	if seed := doJSON(t, server, http.MethodPost, "/api/v1/requests", `{"input": "count me"}`); seed.Code != http.StatusOK {
		t.Fatalf("seed request status = %d", seed.Code)
	}

	recorder := doJSON(t, server, http.MethodGet, "/metrics", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var snap struct {
		TurnsTotal int64 `json:"turns_total"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TurnsTotal < 1 {
		t.Fatalf("turns_total = %d", snap.TurnsTotal)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer()
	recorder := doJSON(t, server, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
}
