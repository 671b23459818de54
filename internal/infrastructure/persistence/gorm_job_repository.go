package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/wagent/pkg/errors"
)

// claimCandidates 每轮读取的候选任务数
const claimCandidates = 8

// GormJobRepository GORM 实现的任务仓储
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository 创建 GORM 任务仓储
func NewGormJobRepository(db *gorm.DB) repository.JobRepository {
	return &GormJobRepository{db: db}
}

// Create 写入 pending 任务; 同一消息已有任务时返回 AlreadyExists
func (r *GormJobRepository) Create(ctx context.Context, job *entity.ImageProcessingJob) error {
	model := r.toModel(job)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(model)
	if res.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create job", res.Error)
	}
	if res.RowsAffected == 0 {
		return domainErrors.NewAlreadyExistsError("job already exists for message " + job.MessageID())
	}
	return nil
}

// FindByID 根据ID查找任务
func (r *GormJobRepository) FindByID(ctx context.Context, id string) (*entity.ImageProcessingJob, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByMessageID 根据消息幂等键查找任务
func (r *GormJobRepository) FindByMessageID(ctx context.Context, messageID string) (*entity.ImageProcessingJob, error) {
	return r.findOne(ctx, "message_id = ?", messageID)
}

func (r *GormJobRepository) findOne(ctx context.Context, query string, arg interface{}) (*entity.ImageProcessingJob, error) {
	var model models.JobModel
	if err := r.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("job not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find job", err)
	}
	return r.toEntity(&model), nil
}

// ClaimNext 最早的 pending 任务优先; 每个候选用
// UPDATE ... WHERE id=? AND status='pending' 抢占，影响一行者获胜
func (r *GormJobRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*entity.ImageProcessingJob, error) {
	if workerID == "" {
		return nil, entity.ErrInvalidWorkerID
	}
	now = now.UTC()
	for round := 0; round < 3; round++ {
		var ids []string
		err := r.db.WithContext(ctx).
			Model(&models.JobModel{}).
			Where("status = ?", string(entity.JobPending)).
			Order("created_at asc, id asc").
			Limit(claimCandidates).
			Pluck("id", &ids).Error
		if err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to list pending jobs", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}

		for _, id := range ids {
			res := r.db.WithContext(ctx).
				Model(&models.JobModel{}).
				Where("id = ? AND status = ?", id, string(entity.JobPending)).
				Updates(map[string]interface{}{
					"status":     string(entity.JobProcessing),
					"worker_id":  workerID,
					"claimed_at": now,
					"attempts":   gorm.Expr("attempts + 1"),
					"updated_at": now,
				})
			if res.Error != nil {
				return nil, domainErrors.NewInternalErrorWithCause("failed to claim job", res.Error)
			}
			if res.RowsAffected == 1 {
				return r.FindByID(ctx, id)
			}
		}
		// every candidate was taken by another worker; look again
	}
	return nil, nil
}

// Complete processing -> completed
func (r *GormJobRepository) Complete(ctx context.Context, id, result string, now time.Time) (*entity.ImageProcessingJob, error) {
	now = now.UTC()
	return r.casUpdate(ctx, id, entity.JobProcessing, entity.JobCompleted, map[string]interface{}{
		"result":        result,
		"error_message": "",
		"completed_at":  now,
		"updated_at":    now,
	})
}

// Fail processing -> failed
func (r *GormJobRepository) Fail(ctx context.Context, id, reason string, now time.Time) (*entity.ImageProcessingJob, error) {
	now = now.UTC()
	return r.casUpdate(ctx, id, entity.JobProcessing, entity.JobFailed, map[string]interface{}{
		"error_message": reason,
		"completed_at":  now,
		"updated_at":    now,
	})
}

// Resubmit failed -> pending
func (r *GormJobRepository) Resubmit(ctx context.Context, id string) (*entity.ImageProcessingJob, error) {
	return r.casUpdate(ctx, id, entity.JobFailed, entity.JobPending, map[string]interface{}{
		"worker_id":     "",
		"result":        "",
		"error_message": "",
		"claimed_at":    nil,
		"completed_at":  nil,
		"updated_at":    time.Now().UTC(),
	})
}

func (r *GormJobRepository) casUpdate(ctx context.Context, id string, from, to entity.JobStatus, fields map[string]interface{}) (*entity.ImageProcessingJob, error) {
	fields["status"] = string(to)
	res := r.db.WithContext(ctx).
		Model(&models.JobModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(fields)
	if res.Error != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to update job", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s is %s, want %s", entity.ErrJobStateConflict, id, current.Status(), from)
	}
	return r.FindByID(ctx, id)
}

// ListStuck 列出 claimedBefore 之前领取且仍在处理中的任务
func (r *GormJobRepository) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]*entity.ImageProcessingJob, error) {
	var rows []models.JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", string(entity.JobProcessing), claimedBefore.UTC()).
		Order("claimed_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list stuck jobs", err)
	}
	return r.toEntities(rows), nil
}

// ListByStatus 按状态列出任务
func (r *GormJobRepository) ListByStatus(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.ImageProcessingJob, error) {
	var rows []models.JobModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list jobs", err)
	}
	return r.toEntities(rows), nil
}

func (r *GormJobRepository) toModel(j *entity.ImageProcessingJob) *models.JobModel {
	s := j.Snapshot()
	return &models.JobModel{
		ID:            s.ID,
		MessageID:     s.MessageID,
		ProcessorType: string(s.ProcessorType),
		Status:        string(s.Status),
		WorkerID:      s.WorkerID,
		Result:        s.Result,
		ErrorMessage:  s.ErrorMessage,
		Attempts:      s.Attempts,
		CreatedAt:     s.CreatedAt.UTC(),
		ClaimedAt:     s.ClaimedAt,
		CompletedAt:   s.CompletedAt,
	}
}

func (r *GormJobRepository) toEntity(m *models.JobModel) *entity.ImageProcessingJob {
	return entity.ReconstructImageProcessingJob(entity.JobSnapshot{
		ID:            m.ID,
		MessageID:     m.MessageID,
		ProcessorType: valueobject.ProcessorType(m.ProcessorType),
		Status:        entity.JobStatus(m.Status),
		WorkerID:      m.WorkerID,
		Result:        m.Result,
		ErrorMessage:  m.ErrorMessage,
		Attempts:      m.Attempts,
		CreatedAt:     m.CreatedAt,
		ClaimedAt:     m.ClaimedAt,
		CompletedAt:   m.CompletedAt,
	})
}

func (r *GormJobRepository) toEntities(rows []models.JobModel) []*entity.ImageProcessingJob {
	out := make([]*entity.ImageProcessingJob, 0, len(rows))
	for i := range rows {
		out = append(out, r.toEntity(&rows[i]))
	}
	return out
}
