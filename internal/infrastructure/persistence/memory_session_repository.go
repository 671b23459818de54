package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/pkg/errors"
)

// MemorySessionRepository 内存实现的会话仓储
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*entity.ChatSession
	active   map[string]string // active key -> session id
}

// NewMemorySessionRepository 创建内存会话仓储
func NewMemorySessionRepository() repository.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entity.ChatSession),
		active:   make(map[string]string),
	}
}

// GetOrCreateActive 获取或创建未关闭会话
func (r *MemorySessionRepository) GetOrCreateActive(ctx context.Context, candidate *entity.ChatSession) (*entity.ChatSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[candidate.ActiveKey()]; ok {
		return cloneSession(r.sessions[id]), false, nil
	}
	r.sessions[candidate.ID()] = cloneSession(candidate)
	r.active[candidate.ActiveKey()] = candidate.ID()
	return candidate, true, nil
}

// FindByID 根据ID查找会话
func (r *MemorySessionRepository) FindByID(ctx context.Context, id string) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError("session not found")
	}
	return cloneSession(s), nil
}

// FindActive 查找未关闭会话
func (r *MemorySessionRepository) FindActive(ctx context.Context, instanceID, fromNumber string) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.active[entity.SessionActiveKey(instanceID, fromNumber)]
	if !ok {
		return nil, errors.NewNotFoundError("active session not found")
	}
	return cloneSession(r.sessions[id]), nil
}

// CompareAndSetStatus 仅当当前状态为 from 时迁移到 to
func (r *MemorySessionRepository) CompareAndSetStatus(ctx context.Context, id string, from, to entity.SessionStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return errors.NewNotFoundError("session not found")
	}
	if s.Status() != from {
		return fmt.Errorf("%w: session %s is no longer %s", entity.ErrInvalidSessionTransition, id, from)
	}
	key := s.ActiveKey()
	if err := s.Transition(to, now); err != nil {
		return err
	}
	if to == entity.SessionClosed {
		delete(r.active, key)
	}
	return nil
}

// AppendContactSummary 追加联系人事实
func (r *MemorySessionRepository) AppendContactSummary(ctx context.Context, id string, facts []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return "", errors.NewNotFoundError("session not found")
	}
	s.MergeContactSummary(facts)
	return s.ContactSummary(), nil
}

// Touch 刷新活跃时间
func (r *MemorySessionRepository) Touch(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && !s.IsClosed() {
		s.Touch(now)
	}
	return nil
}

// ListIdle 列出 before 之前无活动的未关闭会话
func (r *MemorySessionRepository) ListIdle(ctx context.Context, before time.Time, limit int) ([]*entity.ChatSession, error) {
	return r.filter(limit, 0, false, func(s *entity.ChatSession) bool {
		return !s.IsClosed() && s.UpdatedAt().Before(before)
	}), nil
}

// ListByInstance 列出实例的会话; status 为空时不过滤
func (r *MemorySessionRepository) ListByInstance(ctx context.Context, instanceID string, status entity.SessionStatus, limit, offset int) ([]*entity.ChatSession, error) {
	return r.filter(limit, offset, true, func(s *entity.ChatSession) bool {
		return s.InstanceID() == instanceID && (status == "" || s.Status() == status)
	}), nil
}

func (r *MemorySessionRepository) filter(limit, offset int, newestFirst bool, keep func(*entity.ChatSession) bool) []*entity.ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entity.ChatSession, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].UpdatedAt().After(out[j].UpdatedAt())
		}
		return out[i].UpdatedAt().Before(out[j].UpdatedAt())
	})
	if offset >= len(out) {
		return []*entity.ChatSession{}
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneSession(s *entity.ChatSession) *entity.ChatSession {
	return entity.ReconstructChatSession(s.ID(), s.InstanceID(), s.FromNumber(), s.ToNumber(),
		s.Status(), s.ContactSummary(), s.CreatedAt(), s.UpdatedAt(), s.ClosedAt())
}
