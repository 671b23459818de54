package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/wagent/pkg/errors"
)

// GormConnectorRepository GORM 实现的连接实例仓储
type GormConnectorRepository struct {
	db *gorm.DB
}

// NewGormConnectorRepository 创建 GORM 连接实例仓储
func NewGormConnectorRepository(db *gorm.DB) repository.ConnectorRepository {
	return &GormConnectorRepository{db: db}
}

// Save 保存连接实例（按主键 upsert）
func (r *GormConnectorRepository) Save(ctx context.Context, connector *entity.ConnectorInstance) error {
	model, err := r.toModel(connector)
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to encode connector", err)
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id", "name", "external_instance_id", "api_url", "api_key",
				"phone_number", "profile_name", "authorized_numbers",
				"ignore_own_messages", "status", "is_active", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to save connector", err)
	}
	return nil
}

// FindByID 根据ID查找
func (r *GormConnectorRepository) FindByID(ctx context.Context, id string) (*entity.ConnectorInstance, error) {
	var model models.ConnectorModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("connector not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find connector", err)
	}
	return r.toEntity(&model), nil
}

// FindByExternalID 渠道侧实例ID优先，其次实例名
func (r *GormConnectorRepository) FindByExternalID(ctx context.Context, externalID string) (*entity.ConnectorInstance, error) {
	if externalID == "" {
		return nil, domainErrors.NewNotFoundError("connector not found")
	}
	var model models.ConnectorModel
	err := r.db.WithContext(ctx).
		Where("external_instance_id = ?", externalID).
		Or("name = ?", externalID).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:  "CASE WHEN external_instance_id = ? THEN 0 ELSE 1 END, created_at",
			Vars: []interface{}{externalID},
		}}).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("connector not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find connector", err)
	}
	return r.toEntity(&model), nil
}

// List 列出全部实例
func (r *GormConnectorRepository) List(ctx context.Context) ([]*entity.ConnectorInstance, error) {
	var rows []models.ConnectorModel
	if err := r.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list connectors", err)
	}
	out := make([]*entity.ConnectorInstance, 0, len(rows))
	for i := range rows {
		out = append(out, r.toEntity(&rows[i]))
	}
	return out, nil
}

// UpdateStatus 单列原子写入连接状态
func (r *GormConnectorRepository) UpdateStatus(ctx context.Context, id string, status entity.ConnectorStatus) error {
	return r.updateColumn(ctx, id, "status", string(status))
}

// SetActive 单列原子写入启用标记
func (r *GormConnectorRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.updateColumn(ctx, id, "is_active", active)
}

func (r *GormConnectorRepository) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.ConnectorModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update connector", res.Error)
	}
	if res.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("connector not found")
	}
	return nil
}

func (r *GormConnectorRepository) toModel(c *entity.ConnectorInstance) (*models.ConnectorModel, error) {
	numbers := c.AuthorizedNumbers()
	if numbers == nil {
		numbers = []string{}
	}
	encoded, err := json.Marshal(numbers)
	if err != nil {
		return nil, err
	}
	return &models.ConnectorModel{
		ID:                 c.ID(),
		TenantID:           c.TenantID(),
		Name:               c.Name(),
		ExternalInstanceID: c.ExternalInstanceID(),
		APIURL:             c.APIURL(),
		APIKey:             c.APIKey(),
		PhoneNumber:        c.PhoneNumber(),
		ProfileName:        c.ProfileName(),
		AuthorizedNumbers:  string(encoded),
		IgnoreOwnMessages:  c.IgnoreOwnMessages(),
		Status:             string(c.Status()),
		IsActive:           c.IsActive(),
		CreatedAt:          c.CreatedAt(),
		UpdatedAt:          c.UpdatedAt(),
	}, nil
}

func (r *GormConnectorRepository) toEntity(m *models.ConnectorModel) *entity.ConnectorInstance {
	var numbers []string
	if m.AuthorizedNumbers != "" {
		// 损坏的白名单按空处理会放行所有号码，这里保留原始值以便排查
		if err := json.Unmarshal([]byte(m.AuthorizedNumbers), &numbers); err != nil {
			numbers = []string{m.AuthorizedNumbers}
		}
	}
	return entity.ReconstructConnectorInstance(entity.ConnectorParams{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Name:               m.Name,
		ExternalInstanceID: m.ExternalInstanceID,
		APIURL:             m.APIURL,
		APIKey:             m.APIKey,
		PhoneNumber:        m.PhoneNumber,
		ProfileName:        m.ProfileName,
		AuthorizedNumbers:  numbers,
		IgnoreOwnMessages:  m.IgnoreOwnMessages,
		Status:             entity.ConnectorStatus(m.Status),
		IsActive:           m.IsActive,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	})
}
