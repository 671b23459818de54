package models

import "time"

// JobModel 媒体处理任务表，与消息一一对应
type JobModel struct {
	ID            string        `gorm:"primaryKey;size:64"`
	MessageID     string        `gorm:"size:128;not null;uniqueIndex"`
	Message       *MessageModel `gorm:"foreignKey:MessageID;references:MessageID;constraint:OnDelete:CASCADE"`
	ProcessorType string        `gorm:"size:32;not null"`
	Status        string        `gorm:"size:16;not null;index:idx_job_status_created,priority:1"`
	WorkerID      string        `gorm:"size:128"`
	Result        string        `gorm:"type:text"`
	ErrorMessage  string        `gorm:"type:text"`
	Attempts      int
	CreatedAt     time.Time `gorm:"index:idx_job_status_created,priority:2"`
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// TableName 指定表名
func (JobModel) TableName() string {
	return "image_jobs"
}
