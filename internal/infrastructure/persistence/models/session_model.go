package models

import "time"

// SessionModel 会话表
// active_key 在会话未关闭时为 "instance|number"，关闭后置 NULL;
// 唯一索引保证每个 (instance, number) 至多一个未关闭会话
type SessionModel struct {
	ID             string          `gorm:"primaryKey;size:64"`
	InstanceID     string          `gorm:"size:64;not null;index"`
	Instance       *ConnectorModel `gorm:"foreignKey:InstanceID;references:ID;constraint:OnDelete:CASCADE"`
	FromNumber     string          `gorm:"size:32;not null;index"`
	ToNumber       string          `gorm:"size:32"`
	Status         string          `gorm:"size:16;not null;index"`
	ActiveKey      *string         `gorm:"size:160;uniqueIndex"`
	ContactSummary string          `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
	ClosedAt       *time.Time
}

// TableName 指定表名
func (SessionModel) TableName() string {
	return "chat_sessions"
}
