package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/pkg/errors"
)

// MemoryContactRepository 内存实现的联系人仓储
type MemoryContactRepository struct {
	mu       sync.Mutex
	contacts map[string]*entity.Contact // instanceID|phone
}

// NewMemoryContactRepository 创建内存联系人仓储
func NewMemoryContactRepository() repository.ContactRepository {
	return &MemoryContactRepository{
		contacts: make(map[string]*entity.Contact),
	}
}

// RecordMessage 新建或更新联系人
func (r *MemoryContactRepository) RecordMessage(ctx context.Context, instanceID, phone, profileName string, now time.Time) (*entity.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entity.SessionActiveKey(instanceID, phone)
	c, ok := r.contacts[key]
	if !ok {
		created, err := entity.NewContact(uuid.New().String(), instanceID, phone, profileName)
		if err != nil {
			return nil, err
		}
		c = created
		r.contacts[key] = c
	}
	c.RecordMessage(profileName, now)
	return cloneContact(c), nil
}

// FindByPhone 根据号码查找
func (r *MemoryContactRepository) FindByPhone(ctx context.Context, instanceID, phone string) (*entity.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contacts[entity.SessionActiveKey(instanceID, valueobject.NormalizeNumber(phone))]
	if !ok {
		return nil, errors.NewNotFoundError("contact not found")
	}
	return cloneContact(c), nil
}

func cloneContact(c *entity.Contact) *entity.Contact {
	return entity.ReconstructContact(c.ID(), c.InstanceID(), c.PhoneNumber(), c.ProfileName(), c.TotalMessages(), c.LastSeenAt())
}
