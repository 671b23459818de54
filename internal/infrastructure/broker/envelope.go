package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// Producer 事件来源标识
const Producer = "wagent-gateway"

// Meta 事件元数据
type Meta struct {
	// 关联ID，取触发事件的消息幂等键
	CorrelationID *string `json:"correlation_id,omitempty"`
	// 事件唯一ID
	ID       string    `json:"id"`
	Producer *string   `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
	// 事件类型，带版本，如 message.answered.v1
	Type string `json:"type"`
}

// Envelope 发布到交换机的消息体
type Envelope struct {
	Meta Meta               `json:"meta"`
	Data entity.DomainEvent `json:"data"`
}

// RoutingKey 事件对应的路由键
func RoutingKey(event entity.DomainEvent) string {
	return string(event.Type) + ".v1"
}

// NewEnvelope 包装领域事件
func NewEnvelope(event entity.DomainEvent) Envelope {
	producer := Producer
	meta := Meta{
		ID:       uuid.NewString(),
		Producer: &producer,
		Time:     event.Timestamp,
		Type:     RoutingKey(event),
	}
	if meta.Time.IsZero() {
		meta.Time = time.Now()
	}
	if event.MessageID != "" {
		cid := event.MessageID
		meta.CorrelationID = &cid
	}
	return Envelope{Meta: meta, Data: event}
}
