package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "ToolPilot/internal/errors"
	"ToolPilot/internal/gateway"
	"ToolPilot/internal/observability/metrics"
	"ToolPilot/internal/session"
	"ToolPilot/pkg/logger"
)

// Server 暴露会话编排能力的 HTTP API。
type Server struct {
	hub      *session.Hub
	gateway  *gateway.Gateway
	registry *metrics.Registry
	httpSrv  *http.Server
}

// NewServer 构建 API 服务。
func NewServer(addr string, hub *session.Hub, gw *gateway.Gateway, registry *metrics.Registry) *Server {
	s := &Server{hub: hub, gateway: gw, registry: registry}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/requests", s.handleRequest)
	mux.HandleFunc("POST /api/v1/interrupt", s.handleInterrupt)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/v1/tools/status", s.handleToolStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if registry != nil {
		mux.Handle("GET /metrics", registry.Handler())
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           logging(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start 启动监听，阻塞直到服务关闭。
func (s *Server) Start() error {
	logger.L().Info("HTTP API 启动", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关停。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// logging 记录每次请求的耗时。
func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.L().Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}

type requestPayload struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

type turnPayload struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
	Input    string `json:"input"`
	Tool     string `json:"tool"`
	Response string `json:"response"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "请求体不是合法 JSON"))
		return
	}
	if payload.Input == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "input 不能为空"))
		return
	}

	manager := s.hub.GetOrCreate(payload.SessionID)
	reply, err := manager.Process(r.Context(), payload.Input)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"session_id": manager.ID(),
		"text":       reply.Text,
	}
	if reply.Turn != nil {
		response["turn"] = toTurnPayload(reply.Turn)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "请求体不是合法 JSON"))
		return
	}

	manager := s.hub.Get(payload.SessionID)
	if manager == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "会话不存在"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  manager.ID(),
		"interrupted": manager.Interrupt(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	manager := s.hub.Get(sessionID)
	if manager == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "会话不存在"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	turns := manager.History()
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	payload := make([]turnPayload, 0, len(turns))
	for _, turn := range turns {
		payload = append(payload, toTurnPayload(turn))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": manager.ID(),
		"turns":      payload,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.hub.Statuses()})
}

func (s *Server) handleToolStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.gateway.Status()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toTurnPayload(turn *session.Turn) turnPayload {
	return turnPayload{
		ID:       turn.ID,
		Sequence: turn.Sequence,
		Input:    turn.Input,
		Tool:     string(turn.Tool),
		Response: turn.Response,
		Status:   string(turn.Status),
		Error:    turn.Error,
	}
}

// writeError 按错误码映射 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeSessionBusy:
		status = http.StatusConflict
	case apperrors.CodeToolUnavailable, apperrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	case apperrors.CodeAuthRequired:
		status = http.StatusForbidden
	case apperrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": err.Error(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}
