package repository

import (
	"context"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// ConnectorRepository 连接实例仓储接口
type ConnectorRepository interface {
	// Save 保存连接实例（创建或更新）
	Save(ctx context.Context, connector *entity.ConnectorInstance) error

	// FindByID 根据ID查找
	FindByID(ctx context.Context, id string) (*entity.ConnectorInstance, error)

	// FindByExternalID 根据渠道侧实例ID或实例名查找
	FindByExternalID(ctx context.Context, externalID string) (*entity.ConnectorInstance, error)

	// List 列出全部实例
	List(ctx context.Context) ([]*entity.ConnectorInstance, error)

	// UpdateStatus 单列原子写入连接状态
	UpdateStatus(ctx context.Context, id string, status entity.ConnectorStatus) error

	// SetActive 单列原子写入启用标记
	SetActive(ctx context.Context, id string, active bool) error
}
