package service

import (
	"context"

	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// MessageSender 出站发送通道（外部传输客户端实现）
type MessageSender interface {
	// SendText 通过实例向号码发送文本
	SendText(ctx context.Context, instance *entity.ConnectorInstance, to, text string) error
}

// TextFormatter 发送前的文本整形（如去除 markdown）
type TextFormatter interface {
	Format(text string) string
}

// EventPublisher 领域事件发布接口，由事件总线实现
type EventPublisher interface {
	Publish(ctx context.Context, event entity.DomainEvent)
}

// OperatorNotifier 运维告警通道
type OperatorNotifier interface {
	Notify(ctx context.Context, event entity.DomainEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, entity.DomainEvent) {}

// PlainFormatter returns text unchanged.
type PlainFormatter struct{}

func (PlainFormatter) Format(text string) string { return text }
