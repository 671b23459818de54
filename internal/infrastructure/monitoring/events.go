package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/infrastructure/eventbus"
)

// Observe 订阅事件总线并累加对应计数器，返回取消订阅函数
func (m *Monitor) Observe(bus eventbus.Bus) func() {
	return bus.Subscribe(eventbus.Wildcard, m.HandleEvent)
}

// HandleEvent 将单个领域事件映射到计数器
func (m *Monitor) HandleEvent(_ context.Context, event entity.DomainEvent) {
	switch event.Type {
	case entity.EventMessageReceived:
		m.IncMessageReceived()
	case entity.EventMessageDuplicate:
		m.IncMessageDuplicate()
	case entity.EventMessageDropped:
		m.IncMessageDropped()
	case entity.EventMessageAnswered:
		m.IncAnswer()
		if ms, err := strconv.ParseInt(event.Attributes[entity.AttrLatencyMs], 10, 64); err == nil {
			m.RecordAnswerLatency(time.Duration(ms) * time.Millisecond)
		}
	case entity.EventMessageFailed:
		m.IncAnswerFailed()
	case entity.EventSendFailed:
		m.IncSendFailure()
	case entity.EventSessionCreated:
		m.IncSessionCreated()
	case entity.EventJobEnqueued:
		m.IncJobEnqueued()
	case entity.EventJobCompleted:
		m.IncJobCompleted()
	case entity.EventJobFailed:
		m.IncJobFailed()
	case entity.EventJobTimeout:
		m.IncJobTimedOut()
	}
}
