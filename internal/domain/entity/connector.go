package entity

import (
	"strings"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// ConnectorStatus 连接状态，由外部轮询器维护
type ConnectorStatus string

const (
	ConnectorDisconnected ConnectorStatus = "disconnected"
	ConnectorConnecting   ConnectorStatus = "connecting"
	ConnectorConnected    ConnectorStatus = "connected"
	ConnectorError        ConnectorStatus = "error"
)

// ParseConnectorStatus 校验并返回连接状态
func ParseConnectorStatus(s string) (ConnectorStatus, error) {
	switch ConnectorStatus(s) {
	case ConnectorDisconnected, ConnectorConnecting, ConnectorConnected, ConnectorError:
		return ConnectorStatus(s), nil
	}
	return "", ErrInvalidStatus
}

// ConnectorInstance 渠道连接实例（每个租户一个或多个）
type ConnectorInstance struct {
	id                 string
	tenantID           string
	name               string
	externalInstanceID string
	apiURL             string
	apiKey             string
	phoneNumber        string
	profileName        string
	authorizedNumbers  map[string]struct{}
	ignoreOwnMessages  bool
	status             ConnectorStatus
	isActive           bool
	createdAt          time.Time
	updatedAt          time.Time
}

// ConnectorParams 创建连接实例的参数
type ConnectorParams struct {
	ID                 string
	TenantID           string
	Name               string
	ExternalInstanceID string
	APIURL             string
	APIKey             string
	PhoneNumber        string
	ProfileName        string
	AuthorizedNumbers  []string
	IgnoreOwnMessages  bool
	Status             ConnectorStatus
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewConnectorInstance 创建连接实例（工厂方法）
func NewConnectorInstance(p ConnectorParams) (*ConnectorInstance, error) {
	if p.ID == "" {
		return nil, ErrInvalidInstanceID
	}
	if p.TenantID == "" {
		return nil, ErrInvalidTenantID
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, ErrInvalidInstanceName
	}
	if p.Status == "" {
		p.Status = ConnectorDisconnected
	}
	if _, err := ParseConnectorStatus(string(p.Status)); err != nil {
		return nil, err
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return ReconstructConnectorInstance(p), nil
}

// ReconstructConnectorInstance 重建连接实例（用于从持久化层恢复）
func ReconstructConnectorInstance(p ConnectorParams) *ConnectorInstance {
	allow := make(map[string]struct{}, len(p.AuthorizedNumbers))
	for _, n := range p.AuthorizedNumbers {
		if clean := valueobject.NormalizeNumber(n); clean != "" {
			allow[clean] = struct{}{}
		}
	}
	return &ConnectorInstance{
		id:                 p.ID,
		tenantID:           p.TenantID,
		name:               p.Name,
		externalInstanceID: p.ExternalInstanceID,
		apiURL:             p.APIURL,
		apiKey:             p.APIKey,
		phoneNumber:        valueobject.NormalizeNumber(p.PhoneNumber),
		profileName:        p.ProfileName,
		authorizedNumbers:  allow,
		ignoreOwnMessages:  p.IgnoreOwnMessages,
		status:             p.Status,
		isActive:           p.IsActive,
		createdAt:          p.CreatedAt,
		updatedAt:          p.UpdatedAt,
	}
}

func (c *ConnectorInstance) ID() string                 { return c.id }
func (c *ConnectorInstance) TenantID() string           { return c.tenantID }
func (c *ConnectorInstance) Name() string               { return c.name }
func (c *ConnectorInstance) ExternalInstanceID() string { return c.externalInstanceID }
func (c *ConnectorInstance) APIURL() string             { return c.apiURL }
func (c *ConnectorInstance) APIKey() string             { return c.apiKey }
func (c *ConnectorInstance) PhoneNumber() string        { return c.phoneNumber }
func (c *ConnectorInstance) ProfileName() string        { return c.profileName }
func (c *ConnectorInstance) IgnoreOwnMessages() bool    { return c.ignoreOwnMessages }
func (c *ConnectorInstance) Status() ConnectorStatus    { return c.status }
func (c *ConnectorInstance) IsActive() bool             { return c.isActive }
func (c *ConnectorInstance) CreatedAt() time.Time       { return c.createdAt }
func (c *ConnectorInstance) UpdatedAt() time.Time       { return c.updatedAt }

// AuthorizedNumbers 返回白名单副本（已排序无保证）
func (c *ConnectorInstance) AuthorizedNumbers() []string {
	out := make([]string, 0, len(c.authorizedNumbers))
	for n := range c.authorizedNumbers {
		out = append(out, n)
	}
	return out
}

// IsAuthorized 白名单为空时放行所有号码（业务规则）
func (c *ConnectorInstance) IsAuthorized(number string) bool {
	if len(c.authorizedNumbers) == 0 {
		return true
	}
	_, ok := c.authorizedNumbers[valueobject.NormalizeNumber(number)]
	return ok
}

// IsConnected 是否处于已连接状态
func (c *ConnectorInstance) IsConnected() bool {
	return c.status == ConnectorConnected
}

// IsOwnNumber 号码是否为实例自身号码
func (c *ConnectorInstance) IsOwnNumber(number string) bool {
	return c.phoneNumber != "" && valueobject.NormalizeNumber(number) == c.phoneNumber
}

// SetActive 启用/停用实例
func (c *ConnectorInstance) SetActive(active bool) {
	c.isActive = active
	c.updatedAt = time.Now()
}

// SetStatus 更新连接状态
func (c *ConnectorInstance) SetStatus(status ConnectorStatus) {
	c.status = status
	c.updatedAt = time.Now()
}
