package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Registry 聚合进程内的运行计数，供 /metrics 端点渲染。
// 计数器全部为原子量，采样路径无锁。
type Registry struct {
	startedAt time.Time

	turnsTotal       atomic.Int64
	turnsFailed      atomic.Int64
	turnsInterrupted atomic.Int64

	mu         sync.RWMutex
	toolCounts map[string]*atomic.Int64
	latencySum atomic.Int64
}

// NewRegistry 创建计数器集合。
func NewRegistry() *Registry {
	return &Registry{
		startedAt:  time.Now(),
		toolCounts: make(map[string]*atomic.Int64),
	}
}

// ObserveTurn 记录一次回合结果。
func (r *Registry) ObserveTurn(tool, status string, latency time.Duration) {
	r.turnsTotal.Add(1)
	switch status {
	case "failed":
		r.turnsFailed.Add(1)
	case "interrupted":
		r.turnsInterrupted.Add(1)
	}
	r.latencySum.Add(latency.Milliseconds())

	r.mu.RLock()
	counter, ok := r.toolCounts[tool]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if counter, ok = r.toolCounts[tool]; !ok {
			counter = &atomic.Int64{}
			r.toolCounts[tool] = counter
		}
		r.mu.Unlock()
	}
	counter.Add(1)
}

// Snapshot 是对外暴露的指标快照。
type Snapshot struct {
	UptimeSeconds    int64            `json:"uptime_seconds"`
	TurnsTotal       int64            `json:"turns_total"`
	TurnsFailed      int64            `json:"turns_failed"`
	TurnsInterrupted int64            `json:"turns_interrupted"`
	AvgLatencyMS     int64            `json:"avg_latency_ms"`
	TurnsByTool      map[string]int64 `json:"turns_by_tool"`
}

// Snapshot 采集当前指标。
func (r *Registry) Snapshot() Snapshot {
	total := r.turnsTotal.Load()
	snap := Snapshot{
		UptimeSeconds:    int64(time.Since(r.startedAt).Seconds()),
		TurnsTotal:       total,
		TurnsFailed:      r.turnsFailed.Load(),
		TurnsInterrupted: r.turnsInterrupted.Load(),
		TurnsByTool:      make(map[string]int64),
	}
	if total > 0 {
		snap.AvgLatencyMS = r.latencySum.Load() / total
	}

	r.mu.RLock()
	for tool, counter := range r.toolCounts {
		snap.TurnsByTool[tool] = counter.Load()
	}
	r.mu.RUnlock()
	return snap
}

// Handler 返回渲染指标快照的 HTTP 处理器。
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Snapshot())
	})
}
