package entity

import (
	"time"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// MessageRecord 入站消息记录，messageID 为全局幂等键
type MessageRecord struct {
	id                    uint
	messageID             string
	sessionID             string
	instanceID            string
	fromNumber            string
	senderName            string
	msgType               valueobject.MessageType
	content               string
	mediaRef              string
	processingStatus      valueobject.ProcessingStatus
	response              *string
	errorKind             string
	source                valueobject.MessageSource
	receivedWhileInactive bool
	rawPayload            []byte
	receivedAt            time.Time
	updatedAt             time.Time
}

// MessageParams 创建消息的参数
type MessageParams struct {
	MessageID             string
	SessionID             string
	InstanceID            string
	FromNumber            string
	SenderName            string
	Type                  valueobject.MessageType
	Content               string
	MediaRef              string
	Source                valueobject.MessageSource
	ReceivedWhileInactive bool
	RawPayload            []byte
	ReceivedAt            time.Time
}

// NewMessageRecord 创建新消息（工厂方法），初始状态 pending
func NewMessageRecord(p MessageParams) (*MessageRecord, error) {
	if p.MessageID == "" {
		return nil, ErrInvalidMessageID
	}
	if p.InstanceID == "" {
		return nil, ErrInvalidInstanceID
	}
	if p.Type == "" {
		return nil, ErrInvalidMessageType
	}
	if p.Source == "" {
		p.Source = valueobject.SourceContact
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}
	raw := make([]byte, len(p.RawPayload))
	copy(raw, p.RawPayload)

	return &MessageRecord{
		messageID:             p.MessageID,
		sessionID:             p.SessionID,
		instanceID:            p.InstanceID,
		fromNumber:            valueobject.NormalizeNumber(p.FromNumber),
		senderName:            p.SenderName,
		msgType:               p.Type,
		content:               p.Content,
		mediaRef:              p.MediaRef,
		processingStatus:      valueobject.ProcessingPending,
		source:                p.Source,
		receivedWhileInactive: p.ReceivedWhileInactive,
		rawPayload:            raw,
		receivedAt:            p.ReceivedAt,
		updatedAt:             p.ReceivedAt,
	}, nil
}

// ReconstructMessageRecord 重建消息（用于从持久化层恢复）
func ReconstructMessageRecord(
	id uint,
	p MessageParams,
	status valueobject.ProcessingStatus,
	response *string,
	errorKind string,
	updatedAt time.Time,
) *MessageRecord {
	return &MessageRecord{
		id:                    id,
		messageID:             p.MessageID,
		sessionID:             p.SessionID,
		instanceID:            p.InstanceID,
		fromNumber:            p.FromNumber,
		senderName:            p.SenderName,
		msgType:               p.Type,
		content:               p.Content,
		mediaRef:              p.MediaRef,
		processingStatus:      status,
		response:              response,
		errorKind:             errorKind,
		source:                p.Source,
		receivedWhileInactive: p.ReceivedWhileInactive,
		rawPayload:            p.RawPayload,
		receivedAt:            p.ReceivedAt,
		updatedAt:             updatedAt,
	}
}

// ID 存储层自增主键
func (m *MessageRecord) ID() uint                                       { return m.id }
func (m *MessageRecord) MessageID() string                              { return m.messageID }
func (m *MessageRecord) SessionID() string                              { return m.sessionID }
func (m *MessageRecord) InstanceID() string                             { return m.instanceID }
func (m *MessageRecord) FromNumber() string                             { return m.fromNumber }
func (m *MessageRecord) SenderName() string                             { return m.senderName }
func (m *MessageRecord) Type() valueobject.MessageType                  { return m.msgType }
func (m *MessageRecord) Content() string                                { return m.content }
func (m *MessageRecord) MediaRef() string                               { return m.mediaRef }
func (m *MessageRecord) ProcessingStatus() valueobject.ProcessingStatus { return m.processingStatus }
func (m *MessageRecord) ErrorKind() string                              { return m.errorKind }
func (m *MessageRecord) Source() valueobject.MessageSource              { return m.source }
func (m *MessageRecord) ReceivedWhileInactive() bool                    { return m.receivedWhileInactive }
func (m *MessageRecord) ReceivedAt() time.Time                          { return m.receivedAt }
func (m *MessageRecord) UpdatedAt() time.Time                           { return m.updatedAt }

// SetID 由仓储回填主键
func (m *MessageRecord) SetID(id uint) { m.id = id }

// Response 返回最终回复，未完成时为空
func (m *MessageRecord) Response() (string, bool) {
	if m.response == nil {
		return "", false
	}
	return *m.response, true
}

// RawPayload 返回原始载荷副本
func (m *MessageRecord) RawPayload() []byte {
	out := make([]byte, len(m.rawPayload))
	copy(out, m.rawPayload)
	return out
}

// MarkProcessing 进入处理中
func (m *MessageRecord) MarkProcessing(now time.Time) error {
	if m.processingStatus.IsTerminal() {
		return ErrMessageTerminal
	}
	m.processingStatus = valueobject.ProcessingProcessing
	m.updatedAt = now
	return nil
}

// Complete 写入回复并完成；空回复不允许进入 completed
func (m *MessageRecord) Complete(response string, now time.Time) error {
	if response == "" {
		return ErrMissingResponse
	}
	r := response
	m.response = &r
	m.processingStatus = valueobject.ProcessingCompleted
	m.errorKind = ""
	m.updatedAt = now
	return nil
}

// Fail 标记失败；已有回复保留，便于人工重发
func (m *MessageRecord) Fail(kind string, now time.Time) {
	m.processingStatus = valueobject.ProcessingFailed
	m.errorKind = kind
	m.updatedAt = now
}

// FailWithResponse 记录回复后标记失败（发送失败场景）
func (m *MessageRecord) FailWithResponse(response, kind string, now time.Time) {
	if response != "" {
		r := response
		m.response = &r
	}
	m.Fail(kind, now)
}

// Reopen 人工重新提交后回到处理中，仅 failed 可重开; 已有回复保留
func (m *MessageRecord) Reopen(now time.Time) error {
	if m.processingStatus != valueobject.ProcessingFailed {
		return ErrMessageTerminal
	}
	m.processingStatus = valueobject.ProcessingProcessing
	m.errorKind = ""
	m.updatedAt = now
	return nil
}

// IsFromContact 是否来自联系人
func (m *MessageRecord) IsFromContact() bool {
	return m.source == valueobject.SourceContact
}
