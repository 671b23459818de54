package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/wagent/pkg/errors"
)

// GormMessageRepository GORM 实现的消息仓储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GORM 消息仓储
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{
		db: db,
	}
}

// Create 条件插入; message_id 冲突时不写入并返回已有记录
func (r *GormMessageRepository) Create(ctx context.Context, message *entity.MessageRecord) (*entity.MessageRecord, bool, error) {
	model := r.toModel(message)

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(model)
	if res.Error != nil {
		return nil, false, domainErrors.NewInternalErrorWithCause("failed to insert message", res.Error)
	}
	if res.RowsAffected == 1 {
		message.SetID(model.ID)
		return message, true, nil
	}

	existing, err := r.FindByMessageID(ctx, message.MessageID())
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindByMessageID 根据幂等键查找消息
func (r *GormMessageRepository) FindByMessageID(ctx context.Context, messageID string) (*entity.MessageRecord, error) {
	var model models.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "message_id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("message not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find message", err)
	}
	return r.toEntity(&model), nil
}

// Save 更新处理阶段字段; 其余字段创建后不可变
func (r *GormMessageRepository) Save(ctx context.Context, message *entity.MessageRecord) error {
	var responseCol interface{}
	if resp, ok := message.Response(); ok {
		responseCol = resp
	}

	res := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("message_id = ?", message.MessageID()).
		Updates(map[string]interface{}{
			"processing_status": string(message.ProcessingStatus()),
			"response":          responseCol,
			"error_kind":        message.ErrorKind(),
			"updated_at":        message.UpdatedAt(),
		})
	if res.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to save message", res.Error)
	}
	if res.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("message not found")
	}
	return nil
}

// ListBySession 按接收顺序列出会话消息
func (r *GormMessageRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*entity.MessageRecord, error) {
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("received_at asc, id asc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list messages", err)
	}
	return r.toEntities(rows), nil
}

// ListByStatus 按状态列出消息（最早优先）
func (r *GormMessageRepository) ListByStatus(ctx context.Context, status valueobject.ProcessingStatus, limit int) ([]*entity.MessageRecord, error) {
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("processing_status = ?", string(status)).
		Order("received_at asc, id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list messages", err)
	}
	return r.toEntities(rows), nil
}

// CountBySession 统计会话中的消息数量
func (r *GormMessageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count messages", err)
	}
	return count, nil
}

func (r *GormMessageRepository) toModel(m *entity.MessageRecord) *models.MessageModel {
	model := &models.MessageModel{
		ID:                    m.ID(),
		MessageID:             m.MessageID(),
		InstanceID:            m.InstanceID(),
		FromNumber:            m.FromNumber(),
		SenderName:            m.SenderName(),
		Type:                  string(m.Type()),
		Content:               m.Content(),
		MediaRef:              m.MediaRef(),
		ProcessingStatus:      string(m.ProcessingStatus()),
		ErrorKind:             m.ErrorKind(),
		Source:                string(m.Source()),
		ReceivedWhileInactive: m.ReceivedWhileInactive(),
		RawPayload:            m.RawPayload(),
		ReceivedAt:            m.ReceivedAt().UTC(),
		UpdatedAt:             m.UpdatedAt().UTC(),
	}
	if sid := m.SessionID(); sid != "" {
		model.SessionID = &sid
	}
	if resp, ok := m.Response(); ok {
		model.Response = &resp
	}
	return model
}

func (r *GormMessageRepository) toEntity(model *models.MessageModel) *entity.MessageRecord {
	sessionID := ""
	if model.SessionID != nil {
		sessionID = *model.SessionID
	}
	return entity.ReconstructMessageRecord(
		model.ID,
		entity.MessageParams{
			MessageID:             model.MessageID,
			SessionID:             sessionID,
			InstanceID:            model.InstanceID,
			FromNumber:            model.FromNumber,
			SenderName:            model.SenderName,
			Type:                  valueobject.MessageType(model.Type),
			Content:               model.Content,
			MediaRef:              model.MediaRef,
			Source:                valueobject.MessageSource(model.Source),
			ReceivedWhileInactive: model.ReceivedWhileInactive,
			RawPayload:            model.RawPayload,
			ReceivedAt:            model.ReceivedAt,
		},
		valueobject.ProcessingStatus(model.ProcessingStatus),
		model.Response,
		model.ErrorKind,
		model.UpdatedAt,
	)
}

func (r *GormMessageRepository) toEntities(rows []models.MessageModel) []*entity.MessageRecord {
	out := make([]*entity.MessageRecord, 0, len(rows))
	for i := range rows {
		out = append(out, r.toEntity(&rows[i]))
	}
	return out
}
