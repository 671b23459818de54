package repository

import (
	"context"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// JobRepository 媒体处理任务仓储接口
// 所有状态迁移均为带当前状态条件的原子更新，失败返回 entity.ErrJobStateConflict
type JobRepository interface {
	// Create 写入 pending 任务，同一消息只允许一个任务
	Create(ctx context.Context, job *entity.ImageProcessingJob) error

	// FindByID 根据ID查找任务
	FindByID(ctx context.Context, id string) (*entity.ImageProcessingJob, error)

	// FindByMessageID 根据消息幂等键查找任务
	FindByMessageID(ctx context.Context, messageID string) (*entity.ImageProcessingJob, error)

	// ClaimNext 独占领取最早的 pending 任务; 无任务时返回 nil, nil
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*entity.ImageProcessingJob, error)

	// Complete processing -> completed
	Complete(ctx context.Context, id, result string, now time.Time) (*entity.ImageProcessingJob, error)

	// Fail processing -> failed
	Fail(ctx context.Context, id, reason string, now time.Time) (*entity.ImageProcessingJob, error)

	// Resubmit failed -> pending
	Resubmit(ctx context.Context, id string) (*entity.ImageProcessingJob, error)

	// ListStuck 列出 claimedBefore 之前领取且仍在处理中的任务
	ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]*entity.ImageProcessingJob, error)

	// ListByStatus 按状态列出任务
	ListByStatus(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.ImageProcessingJob, error)
}
