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
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/wagent/pkg/errors"
)

const (
	getOrCreateAttempts = 3
	summaryCASAttempts  = 5
)

// GormSessionRepository GORM 实现的会话仓储
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓储
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{db: db}
}

// GetOrCreateActive 在 active_key 唯一索引上条件插入，冲突时读取已有会话
func (r *GormSessionRepository) GetOrCreateActive(ctx context.Context, candidate *entity.ChatSession) (*entity.ChatSession, bool, error) {
	key := candidate.ActiveKey()
	for attempt := 0; attempt < getOrCreateAttempts; attempt++ {
		model := r.toModel(candidate)
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "active_key"}},
				DoNothing: true,
			}).
			Create(model)
		if res.Error != nil {
			return nil, false, domainErrors.NewInternalErrorWithCause("failed to create session", res.Error)
		}
		if res.RowsAffected == 1 {
			return candidate, true, nil
		}

		var existing models.SessionModel
		err := r.db.WithContext(ctx).First(&existing, "active_key = ?", key).Error
		if err == nil {
			return r.toEntity(&existing), false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, domainErrors.NewInternalErrorWithCause("failed to load session", err)
		}
		// the holder was closed between our insert and select; try again
	}
	return nil, false, domainErrors.NewConflictError("session get-or-create did not settle", nil)
}

// FindByID 根据ID查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*entity.ChatSession, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("session not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find session", err)
	}
	return r.toEntity(&model), nil
}

// FindActive 查找未关闭会话
func (r *GormSessionRepository) FindActive(ctx context.Context, instanceID, fromNumber string) (*entity.ChatSession, error) {
	var model models.SessionModel
	err := r.db.WithContext(ctx).First(&model, "active_key = ?", entity.SessionActiveKey(instanceID, fromNumber)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("no active session")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find session", err)
	}
	return r.toEntity(&model), nil
}

// CompareAndSetStatus 带当前状态条件的迁移; 关闭时同一条语句释放 active_key
func (r *GormSessionRepository) CompareAndSetStatus(ctx context.Context, id string, from, to entity.SessionStatus, now time.Time) error {
	if !entity.CanTransitionSession(from, to) {
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidSessionTransition, from, to)
	}
	now = now.UTC()
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": now,
	}
	if to == entity.SessionClosed {
		updates["active_key"] = nil
		updates["closed_at"] = now
	}

	res := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update session status", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: session %s is no longer %s", entity.ErrInvalidSessionTransition, id, from)
}

// AppendContactSummary 乐观并发合并: 以读取到的摘要为条件写回，冲突则重读重试
func (r *GormSessionRepository) AppendContactSummary(ctx context.Context, id string, facts []string) (string, error) {
	for attempt := 0; attempt < summaryCASAttempts; attempt++ {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return "", err
		}
		merged, changed := entity.MergeSummaryFacts(current.ContactSummary(), facts)
		if !changed {
			return merged, nil
		}

		res := r.db.WithContext(ctx).
			Model(&models.SessionModel{}).
			Where("id = ? AND contact_summary = ?", id, current.ContactSummary()).
			Update("contact_summary", merged)
		if res.Error != nil {
			return "", domainErrors.NewInternalErrorWithCause("failed to update contact summary", res.Error)
		}
		if res.RowsAffected == 1 {
			return merged, nil
		}
	}
	return "", domainErrors.NewConflictError("contact summary kept changing", nil)
}

// Touch 刷新活跃时间
func (r *GormSessionRepository) Touch(ctx context.Context, id string, now time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.SessionModel{}).
		Where("id = ? AND status <> ?", id, string(entity.SessionClosed)).
		Update("updated_at", now.UTC()).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to touch session", err)
	}
	return nil
}

// ListIdle 列出 before 之前无活动的未关闭会话
func (r *GormSessionRepository) ListIdle(ctx context.Context, before time.Time, limit int) ([]*entity.ChatSession, error) {
	var rows []models.SessionModel
	err := r.db.WithContext(ctx).
		Where("status <> ? AND updated_at < ?", string(entity.SessionClosed), before.UTC()).
		Order("updated_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list idle sessions", err)
	}
	return r.toEntities(rows), nil
}

// ListByInstance 列出实例会话; status 为空时不过滤
func (r *GormSessionRepository) ListByInstance(ctx context.Context, instanceID string, status entity.SessionStatus, limit, offset int) ([]*entity.ChatSession, error) {
	q := r.db.WithContext(ctx).Where("instance_id = ?", instanceID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []models.SessionModel
	if err := q.Order("updated_at desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list sessions", err)
	}
	return r.toEntities(rows), nil
}

func (r *GormSessionRepository) toModel(s *entity.ChatSession) *models.SessionModel {
	model := &models.SessionModel{
		ID:             s.ID(),
		InstanceID:     s.InstanceID(),
		FromNumber:     s.FromNumber(),
		ToNumber:       s.ToNumber(),
		Status:         string(s.Status()),
		ContactSummary: s.ContactSummary(),
		CreatedAt:      s.CreatedAt().UTC(),
		UpdatedAt:      s.UpdatedAt().UTC(),
		ClosedAt:       s.ClosedAt(),
	}
	if key := s.ActiveKey(); key != "" {
		model.ActiveKey = &key
	}
	return model
}

func (r *GormSessionRepository) toEntity(m *models.SessionModel) *entity.ChatSession {
	return entity.ReconstructChatSession(
		m.ID, m.InstanceID, m.FromNumber, m.ToNumber,
		entity.SessionStatus(m.Status),
		m.ContactSummary,
		m.CreatedAt, m.UpdatedAt, m.ClosedAt,
	)
}

func (r *GormSessionRepository) toEntities(rows []models.SessionModel) []*entity.ChatSession {
	out := make([]*entity.ChatSession, 0, len(rows))
	for i := range rows {
		out = append(out, r.toEntity(&rows[i]))
	}
	return out
}
