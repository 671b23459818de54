package entity

import "time"

// EventType defines the type of a domain event emitted by the pipeline.
type EventType string

const (
	EventMessageReceived   EventType = "message.received"
	EventMessageDuplicate  EventType = "message.duplicate"
	EventMessageDropped    EventType = "message.dropped"
	EventMessageAnswered   EventType = "message.answered"
	EventMessageFailed     EventType = "message.failed"
	EventSendFailed        EventType = "message.send_failed"
	EventSessionCreated    EventType = "session.created"
	EventSessionTransition EventType = "session.transition"
	EventJobEnqueued       EventType = "job.enqueued"
	EventJobClaimed        EventType = "job.claimed"
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
	EventJobTimeout        EventType = "job.timeout"
	EventConnectorStatus   EventType = "connector.status"
)

// AttrLatencyMs 事件属性: 从接收到回复的耗时（毫秒）
const AttrLatencyMs = "latency_ms"

// DomainEvent is a single fact published to the event bus.
// Consumers (websocket feed, broker, alert notifier) subscribe to these.
type DomainEvent struct {
	Type       EventType         `json:"type"`
	InstanceID string            `json:"instance_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	JobID      string            `json:"job_id,omitempty"`
	Number     string            `json:"number,omitempty"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// IsAlert reports whether operators should be notified about the event.
func (e DomainEvent) IsAlert() bool {
	switch e.Type {
	case EventSendFailed, EventJobTimeout, EventMessageFailed:
		return true
	}
	return false
}
