package repository

import (
	"context"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// SessionRepository 会话仓储接口
type SessionRepository interface {
	// GetOrCreateActive 原子地获取 (instance, fromNumber) 的未关闭会话，不存在则写入 candidate
	GetOrCreateActive(ctx context.Context, candidate *entity.ChatSession) (session *entity.ChatSession, created bool, err error)

	// FindByID 根据ID查找会话
	FindByID(ctx context.Context, id string) (*entity.ChatSession, error)

	// FindActive 查找未关闭会话
	FindActive(ctx context.Context, instanceID, fromNumber string) (*entity.ChatSession, error)

	// CompareAndSetStatus 仅当当前状态为 from 时迁移到 to
	CompareAndSetStatus(ctx context.Context, id string, from, to entity.SessionStatus, now time.Time) error

	// AppendContactSummary 追加联系人事实，返回合并后的摘要
	AppendContactSummary(ctx context.Context, id string, facts []string) (string, error)

	// Touch 刷新活跃时间
	Touch(ctx context.Context, id string, now time.Time) error

	// ListIdle 列出 before 之前无活动的未关闭会话
	ListIdle(ctx context.Context, before time.Time, limit int) ([]*entity.ChatSession, error)

	// ListByInstance 列出实例的会话
	ListByInstance(ctx context.Context, instanceID string, status entity.SessionStatus, limit, offset int) ([]*entity.ChatSession, error)
}
