package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TurnRecord 是一条持久化的会话回合转录。
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Input     string    `json:"input"`
	Tool      string    `json:"tool"`
	Response  string    `json:"response"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRepository 定义会话转录的持久化能力。转录是只追加的：
// 仓库不提供任何更新或删除单条记录的方法。
type TurnRepository interface {
	Append(ctx context.Context, record *TurnRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error)
	ClearSession(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryRepository 是默认的内存实现，适合 REPL 单机使用与测试。
type MemoryRepository struct {
	mu      sync.RWMutex
	records []*TurnRecord
}

// NewMemoryRepository 创建内存仓库。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Append 追加一条转录。
func (r *MemoryRepository) Append(_ context.Context, record *TurnRecord) error {
	clone := *record
	r.mu.Lock()
	r.records = append(r.records, &clone)
	r.mu.Unlock()
	return nil
}

// ListBySession 按序号升序返回指定会话最近的 limit 条转录。
func (r *MemoryRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*TurnRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*TurnRecord
	for _, record := range r.records {
		if record.SessionID == sessionID {
			clone := *record
			matched = append(matched, &clone)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Sequence < matched[j].Sequence
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// ClearSession 删除指定会话的全部转录。对应用户的 /clear 命令，
// 这是转录唯一允许的整体删除入口。
func (r *MemoryRepository) ClearSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	for _, record := range r.records {
		if record.SessionID != sessionID {
			kept = append(kept, record)
		}
	}
	r.records = kept
	return nil
}

// Close 实现 TurnRepository。
func (r *MemoryRepository) Close() error { return nil }
