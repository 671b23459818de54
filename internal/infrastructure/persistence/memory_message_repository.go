package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/pkg/errors"
)

// MemoryMessageRepository 内存实现的消息仓储（用于开发/测试）
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	nextID   uint
	messages map[string]*entity.MessageRecord
	// 会话ID到消息ID列表的映射
	sessionMessages map[string][]string
}

// NewMemoryMessageRepository 创建内存消息仓储
func NewMemoryMessageRepository() repository.MessageRepository {
	return &MemoryMessageRepository{
		messages:        make(map[string]*entity.MessageRecord),
		sessionMessages: make(map[string][]string),
	}
}

// Create 条件插入
func (r *MemoryMessageRepository) Create(ctx context.Context, message *entity.MessageRecord) (*entity.MessageRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.messages[message.MessageID()]; ok {
		return cloneMessage(existing), false, nil
	}
	r.nextID++
	message.SetID(r.nextID)
	r.messages[message.MessageID()] = cloneMessage(message)
	if sid := message.SessionID(); sid != "" {
		r.sessionMessages[sid] = append(r.sessionMessages[sid], message.MessageID())
	}
	return message, true, nil
}

// FindByMessageID 根据幂等键查找消息
func (r *MemoryMessageRepository) FindByMessageID(ctx context.Context, messageID string) (*entity.MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[messageID]
	if !ok {
		return nil, errors.NewNotFoundError("message not found")
	}
	return cloneMessage(message), nil
}

// Save 更新处理阶段字段
func (r *MemoryMessageRepository) Save(ctx context.Context, message *entity.MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[message.MessageID()]; !ok {
		return errors.NewNotFoundError("message not found")
	}
	r.messages[message.MessageID()] = cloneMessage(message)
	return nil
}

// ListBySession 按接收顺序列出会话消息
func (r *MemoryMessageRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*entity.MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.sessionMessages[sessionID]
	if offset >= len(ids) {
		return []*entity.MessageRecord{}, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*entity.MessageRecord, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, cloneMessage(r.messages[id]))
	}
	return out, nil
}

// ListByStatus 按状态列出消息（最早优先）
func (r *MemoryMessageRepository) ListByStatus(ctx context.Context, status valueobject.ProcessingStatus, limit int) ([]*entity.MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.MessageRecord, 0)
	for _, m := range r.messages {
		if m.ProcessingStatus() == status {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountBySession 统计会话中的消息数量
func (r *MemoryMessageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.sessionMessages[sessionID])), nil
}

func cloneMessage(m *entity.MessageRecord) *entity.MessageRecord {
	var response *string
	if resp, ok := m.Response(); ok {
		response = &resp
	}
	return entity.ReconstructMessageRecord(m.ID(), entity.MessageParams{
		MessageID:             m.MessageID(),
		SessionID:             m.SessionID(),
		InstanceID:            m.InstanceID(),
		FromNumber:            m.FromNumber(),
		SenderName:            m.SenderName(),
		Type:                  m.Type(),
		Content:               m.Content(),
		MediaRef:              m.MediaRef(),
		Source:                m.Source(),
		ReceivedWhileInactive: m.ReceivedWhileInactive(),
		RawPayload:            m.RawPayload(),
		ReceivedAt:            m.ReceivedAt(),
	}, m.ProcessingStatus(), response, m.ErrorKind(), m.UpdatedAt())
}
