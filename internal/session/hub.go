package session

import (
	"sync"
)

// Factory 按会话标识构建管理器，由上层注入全部依赖。
type Factory func(id string) *Manager

// Hub 按标识管理多个会话，服务于 HTTP API 的多会话场景。
// REPL 只使用单个 Manager，不经过 Hub。
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Manager
	factory  Factory
}

// NewHub 创建会话集线器。
func NewHub(factory Factory) *Hub {
	return &Hub{
		sessions: make(map[string]*Manager),
		factory:  factory,
	}
}

// GetOrCreate 返回指定会话，不存在时创建。
func (h *Hub) GetOrCreate(id string) *Manager {
	h.mu.RLock()
	m, ok := h.sessions[id]
	h.mu.RUnlock()
	if ok {
		return m
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok = h.sessions[id]; ok {
		return m
	}
	m = h.factory(id)
	h.sessions[m.ID()] = m
	return m
}

// Get 返回指定会话，不存在时返回 nil。
func (h *Hub) Get(id string) *Manager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// Remove 删除指定会话并归还其持有的工具引用。
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	m := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if m != nil {
		m.Close()
	}
}

// Statuses 返回全部会话的状态快照。
func (h *Hub) Statuses() []Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statuses := make([]Status, 0, len(h.sessions))
	for _, m := range h.sessions {
		statuses = append(statuses, m.StatusSnapshot())
	}
	return statuses
}
