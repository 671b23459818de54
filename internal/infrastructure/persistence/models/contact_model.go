package models

import "time"

// ContactModel 联系人表
type ContactModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	InstanceID    string `gorm:"size:64;not null;uniqueIndex:idx_contact_instance_phone"`
	PhoneNumber   string `gorm:"size:32;not null;uniqueIndex:idx_contact_instance_phone"`
	ProfileName   string `gorm:"size:128"`
	TotalMessages int64
	LastSeenAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定表名
func (ContactModel) TableName() string {
	return "contacts"
}
