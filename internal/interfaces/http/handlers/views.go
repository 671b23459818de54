package handlers

import (
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// JobView 任务 JSON 视图
type JobView struct {
	ID            string     `json:"id"`
	MessageID     string     `json:"message_id"`
	ProcessorType string     `json:"processor_type"`
	Status        string     `json:"status"`
	WorkerID      string     `json:"worker_id,omitempty"`
	Result        string     `json:"result,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toJobView(j *entity.ImageProcessingJob) JobView {
	return JobView{
		ID:            j.ID(),
		MessageID:     j.MessageID(),
		ProcessorType: string(j.ProcessorType()),
		Status:        string(j.Status()),
		WorkerID:      j.WorkerID(),
		Result:        j.Result(),
		ErrorMessage:  j.ErrorMessage(),
		Attempts:      j.Attempts(),
		CreatedAt:     j.CreatedAt(),
		ClaimedAt:     j.ClaimedAt(),
		CompletedAt:   j.CompletedAt(),
	}
}

// SessionView 会话 JSON 视图
type SessionView struct {
	ID             string     `json:"id"`
	InstanceID     string     `json:"instance_id"`
	FromNumber     string     `json:"from_number"`
	ToNumber       string     `json:"to_number"`
	Status         string     `json:"status"`
	ContactSummary string     `json:"contact_summary,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

func toSessionView(s *entity.ChatSession) SessionView {
	return SessionView{
		ID:             s.ID(),
		InstanceID:     s.InstanceID(),
		FromNumber:     s.FromNumber(),
		ToNumber:       s.ToNumber(),
		Status:         string(s.Status()),
		ContactSummary: s.ContactSummary(),
		CreatedAt:      s.CreatedAt(),
		UpdatedAt:      s.UpdatedAt(),
		ClosedAt:       s.ClosedAt(),
	}
}

// MessageView 消息 JSON 视图
type MessageView struct {
	MessageID             string    `json:"message_id"`
	SessionID             string    `json:"session_id,omitempty"`
	InstanceID            string    `json:"instance_id"`
	FromNumber            string    `json:"from_number"`
	SenderName            string    `json:"sender_name,omitempty"`
	Type                  string    `json:"type"`
	Content               string    `json:"content,omitempty"`
	MediaRef              string    `json:"media_ref,omitempty"`
	Source                string    `json:"source"`
	ProcessingStatus      string    `json:"processing_status"`
	Response              *string   `json:"response"`
	ErrorKind             string    `json:"error_kind,omitempty"`
	ReceivedWhileInactive bool      `json:"received_while_inactive"`
	ReceivedAt            time.Time `json:"received_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func toMessageView(m *entity.MessageRecord) MessageView {
	v := MessageView{
		MessageID:             m.MessageID(),
		SessionID:             m.SessionID(),
		InstanceID:            m.InstanceID(),
		FromNumber:            m.FromNumber(),
		SenderName:            m.SenderName(),
		Type:                  string(m.Type()),
		Content:               m.Content(),
		MediaRef:              m.MediaRef(),
		Source:                string(m.Source()),
		ProcessingStatus:      string(m.ProcessingStatus()),
		ErrorKind:             m.ErrorKind(),
		ReceivedWhileInactive: m.ReceivedWhileInactive(),
		ReceivedAt:            m.ReceivedAt(),
		UpdatedAt:             m.UpdatedAt(),
	}
	if resp, ok := m.Response(); ok {
		v.Response = &resp
	}
	return v
}

// ConnectorView 连接实例 JSON 视图（不含密钥）
type ConnectorView struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Name               string    `json:"name"`
	ExternalInstanceID string    `json:"external_instance_id"`
	PhoneNumber        string    `json:"phone_number,omitempty"`
	ProfileName        string    `json:"profile_name,omitempty"`
	AuthorizedNumbers  []string  `json:"authorized_numbers"`
	IgnoreOwnMessages  bool      `json:"ignore_own_messages"`
	Status             string    `json:"status"`
	IsActive           bool      `json:"is_active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toConnectorView(c *entity.ConnectorInstance) ConnectorView {
	return ConnectorView{
		ID:                 c.ID(),
		TenantID:           c.TenantID(),
		Name:               c.Name(),
		ExternalInstanceID: c.ExternalInstanceID(),
		PhoneNumber:        c.PhoneNumber(),
		ProfileName:        c.ProfileName(),
		AuthorizedNumbers:  c.AuthorizedNumbers(),
		IgnoreOwnMessages:  c.IgnoreOwnMessages(),
		Status:             string(c.Status()),
		IsActive:           c.IsActive(),
		UpdatedAt:          c.UpdatedAt(),
	}
}
