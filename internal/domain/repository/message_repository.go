package repository

import (
	"context"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// MessageRepository 消息仓储接口
type MessageRepository interface {
	// Create 条件插入: messageID 已存在时不写入，返回已存储的记录且 created=false
	Create(ctx context.Context, message *entity.MessageRecord) (stored *entity.MessageRecord, created bool, err error)

	// FindByMessageID 根据幂等键查找消息
	FindByMessageID(ctx context.Context, messageID string) (*entity.MessageRecord, error)

	// Save 更新处理状态、回复与错误类型
	Save(ctx context.Context, message *entity.MessageRecord) error

	// ListBySession 按接收顺序列出会话消息
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*entity.MessageRecord, error)

	// ListByStatus 按状态列出消息（最早优先）
	ListByStatus(ctx context.Context, status valueobject.ProcessingStatus, limit int) ([]*entity.MessageRecord, error)

	// CountBySession 统计会话中的消息数量
	CountBySession(ctx context.Context, sessionID string) (int64, error)
}
