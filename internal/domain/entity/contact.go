package entity

import (
	"time"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// Contact 联系人（冗余展示数据，不参与状态机）
type Contact struct {
	id            string
	instanceID    string
	phoneNumber   string
	profileName   string
	totalMessages int64
	lastSeenAt    time.Time
}

// NewContact 创建联系人
func NewContact(id, instanceID, phone, profileName string) (*Contact, error) {
	if id == "" {
		return nil, ErrInvalidContactID
	}
	if instanceID == "" {
		return nil, ErrInvalidInstanceID
	}
	clean := valueobject.NormalizeNumber(phone)
	if clean == "" {
		return nil, ErrInvalidNumber
	}
	return &Contact{
		id:          id,
		instanceID:  instanceID,
		phoneNumber: clean,
		profileName: profileName,
		lastSeenAt:  time.Now(),
	}, nil
}

// ReconstructContact 重建联系人
func ReconstructContact(id, instanceID, phone, profileName string, total int64, lastSeen time.Time) *Contact {
	return &Contact{
		id:            id,
		instanceID:    instanceID,
		phoneNumber:   phone,
		profileName:   profileName,
		totalMessages: total,
		lastSeenAt:    lastSeen,
	}
}

func (c *Contact) ID() string           { return c.id }
func (c *Contact) InstanceID() string   { return c.instanceID }
func (c *Contact) PhoneNumber() string  { return c.phoneNumber }
func (c *Contact) ProfileName() string  { return c.profileName }
func (c *Contact) TotalMessages() int64 { return c.totalMessages }
func (c *Contact) LastSeenAt() time.Time { return c.lastSeenAt }

// RecordMessage 累计消息数，非空昵称覆盖旧值
func (c *Contact) RecordMessage(profileName string, now time.Time) {
	c.totalMessages++
	if profileName != "" {
		c.profileName = profileName
	}
	c.lastSeenAt = now
}
