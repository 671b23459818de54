package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/wagent/pkg/errors"
)

// GormContactRepository GORM 实现的联系人仓储
type GormContactRepository struct {
	db *gorm.DB
}

// NewGormContactRepository 创建 GORM 联系人仓储
func NewGormContactRepository(db *gorm.DB) repository.ContactRepository {
	return &GormContactRepository{db: db}
}

// RecordMessage upsert on (instance_id, phone_number); the counter is
// incremented by the database so concurrent writers never lose a message.
func (r *GormContactRepository) RecordMessage(ctx context.Context, instanceID, phone, profileName string, now time.Time) (*entity.Contact, error) {
	clean := valueobject.NormalizeNumber(phone)
	if clean == "" {
		return nil, entity.ErrInvalidNumber
	}

	updates := map[string]interface{}{
		"total_messages": gorm.Expr("total_messages + 1"),
		"last_seen_at":   now,
		"updated_at":     now,
	}
	if profileName != "" {
		updates["profile_name"] = profileName
	}

	model := &models.ContactModel{
		ID:            uuid.New().String(),
		InstanceID:    instanceID,
		PhoneNumber:   clean,
		ProfileName:   profileName,
		TotalMessages: 1,
		LastSeenAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}, {Name: "phone_number"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(model).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to record contact", err)
	}
	return r.FindByPhone(ctx, instanceID, clean)
}

// FindByPhone 根据号码查找
func (r *GormContactRepository) FindByPhone(ctx context.Context, instanceID, phone string) (*entity.Contact, error) {
	var model models.ContactModel
	err := r.db.WithContext(ctx).
		First(&model, "instance_id = ? AND phone_number = ?", instanceID, valueobject.NormalizeNumber(phone)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("contact not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find contact", err)
	}
	return entity.ReconstructContact(model.ID, model.InstanceID, model.PhoneNumber,
		model.ProfileName, model.TotalMessages, model.LastSeenAt), nil
}
