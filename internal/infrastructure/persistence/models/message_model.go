package models

import (
	"time"
)

// MessageModel 数据库消息模型
// message_id 唯一约束是入站幂等的最终保证
type MessageModel struct {
	ID                    uint          `gorm:"primaryKey;autoIncrement"`
	MessageID             string        `gorm:"size:128;not null;uniqueIndex"`
	SessionID             *string       `gorm:"size:64;index"`
	Session               *SessionModel `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:SET NULL"`
	InstanceID            string        `gorm:"size:64;not null;index"`
	FromNumber            string        `gorm:"size:32;index"`
	SenderName            string        `gorm:"size:128"`
	Type                  string        `gorm:"size:16;not null"`
	Content               string        `gorm:"type:text"`
	MediaRef              string        `gorm:"type:text"`
	ProcessingStatus      string        `gorm:"size:16;not null;index"`
	Response              *string       `gorm:"type:text"`
	ErrorKind             string        `gorm:"size:32"`
	Source                string        `gorm:"size:16;not null"`
	ReceivedWhileInactive bool
	RawPayload            []byte
	ReceivedAt            time.Time `gorm:"index"`
	UpdatedAt             time.Time
}

// TableName 指定表名
func (MessageModel) TableName() string {
	return "messages"
}
