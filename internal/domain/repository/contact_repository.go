package repository

import (
	"context"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// ContactRepository 联系人仓储接口
type ContactRepository interface {
	// RecordMessage 新建或更新联系人并原子递增消息计数
	RecordMessage(ctx context.Context, instanceID, phone, profileName string, now time.Time) (*entity.Contact, error)

	// FindByPhone 根据号码查找
	FindByPhone(ctx context.Context, instanceID, phone string) (*entity.Contact, error)
}
