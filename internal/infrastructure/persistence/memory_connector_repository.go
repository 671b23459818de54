package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/pkg/errors"
)

// MemoryConnectorRepository 内存实现的连接实例仓储
type MemoryConnectorRepository struct {
	mu         sync.RWMutex
	connectors map[string]*entity.ConnectorInstance
}

// NewMemoryConnectorRepository 创建内存连接实例仓储
func NewMemoryConnectorRepository() repository.ConnectorRepository {
	return &MemoryConnectorRepository{
		connectors: make(map[string]*entity.ConnectorInstance),
	}
}

// Save 保存连接实例
func (r *MemoryConnectorRepository) Save(ctx context.Context, connector *entity.ConnectorInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[connector.ID()] = cloneConnector(connector)
	return nil
}

// FindByID 根据ID查找
func (r *MemoryConnectorRepository) FindByID(ctx context.Context, id string) (*entity.ConnectorInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[id]
	if !ok {
		return nil, errors.NewNotFoundError("connector not found")
	}
	return cloneConnector(c), nil
}

// FindByExternalID 渠道侧实例ID优先，其次实例名
func (r *MemoryConnectorRepository) FindByExternalID(ctx context.Context, externalID string) (*entity.ConnectorInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if externalID != "" {
		for _, c := range r.connectors {
			if c.ExternalInstanceID() == externalID {
				return cloneConnector(c), nil
			}
		}
		for _, c := range r.connectors {
			if c.Name() == externalID {
				return cloneConnector(c), nil
			}
		}
	}
	return nil, errors.NewNotFoundError("connector not found")
}

// List 列出全部实例
func (r *MemoryConnectorRepository) List(ctx context.Context) ([]*entity.ConnectorInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.ConnectorInstance, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, cloneConnector(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

// UpdateStatus 写入连接状态
func (r *MemoryConnectorRepository) UpdateStatus(ctx context.Context, id string, status entity.ConnectorStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connectors[id]
	if !ok {
		return errors.NewNotFoundError("connector not found")
	}
	c.SetStatus(status)
	return nil
}

// SetActive 写入启用标记
func (r *MemoryConnectorRepository) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connectors[id]
	if !ok {
		return errors.NewNotFoundError("connector not found")
	}
	c.SetActive(active)
	return nil
}

func cloneConnector(c *entity.ConnectorInstance) *entity.ConnectorInstance {
	return entity.ReconstructConnectorInstance(entity.ConnectorParams{
		ID:                 c.ID(),
		TenantID:           c.TenantID(),
		Name:               c.Name(),
		ExternalInstanceID: c.ExternalInstanceID(),
		APIURL:             c.APIURL(),
		APIKey:             c.APIKey(),
		PhoneNumber:        c.PhoneNumber(),
		ProfileName:        c.ProfileName(),
		AuthorizedNumbers:  c.AuthorizedNumbers(),
		IgnoreOwnMessages:  c.IgnoreOwnMessages(),
		Status:             c.Status(),
		IsActive:           c.IsActive(),
		CreatedAt:          c.CreatedAt(),
		UpdatedAt:          c.UpdatedAt(),
	})
}
