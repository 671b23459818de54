package models

import "time"

// ConnectorModel 连接实例表
type ConnectorModel struct {
	ID                 string `gorm:"primaryKey;size:64"`
	TenantID           string `gorm:"size:64;not null;uniqueIndex:idx_connector_tenant_name"`
	Name               string `gorm:"size:128;not null;uniqueIndex:idx_connector_tenant_name"`
	ExternalInstanceID string `gorm:"size:128;index"`
	APIURL             string `gorm:"size:255"`
	APIKey             string `gorm:"size:255"`
	PhoneNumber        string `gorm:"size:32"`
	ProfileName        string `gorm:"size:128"`
	AuthorizedNumbers  string `gorm:"type:text"` // JSON encoded []string
	IgnoreOwnMessages  bool
	Status             string `gorm:"size:16;not null"`
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName 指定表名
func (ConnectorModel) TableName() string {
	return "connector_instances"
}
