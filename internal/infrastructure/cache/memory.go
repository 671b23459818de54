package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryDedupe 进程内 TTL 去重表
type MemoryDedupe struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> 过期时间
	ttl     time.Duration
	now     func() time.Time
	lastGC  time.Time
}

// NewMemoryDedupe 创建进程内去重表
func NewMemoryDedupe(ttl time.Duration) *MemoryDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDedupe{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen 未过期的键视为命中
func (m *MemoryDedupe) Seen(_ context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.gcLocked(now)
	exp, ok := m.entries[DedupeKey(messageID)]
	return ok && now.Before(exp), nil
}

// Mark 写入或续期
func (m *MemoryDedupe) Mark(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[DedupeKey(messageID)] = now.Add(m.ttl)
	m.gcLocked(now)
	return nil
}

// Len 当前键数量（含未清理的过期键）
func (m *MemoryDedupe) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryDedupe) Close() error { return nil }

// gcLocked 每个 TTL 周期最多清理一次
func (m *MemoryDedupe) gcLocked(now time.Time) {
	if now.Sub(m.lastGC) < m.ttl {
		return
	}
	m.lastGC = now
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
}
