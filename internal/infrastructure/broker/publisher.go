package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
	"github.com/ngoclaw/wagent/internal/infrastructure/eventbus"
)

// DefaultExchange 默认 topic 交换机
const DefaultExchange = "wagent.events"

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// RabbitPublisher 基于 RabbitMQ topic 交换机的发布者
// 每次发布使用独立 channel 并等待 broker 确认
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// NewRabbitPublisher 连接 broker 并声明交换机
func NewRabbitPublisher(cfg config.RabbitMQConfig, logger *zap.Logger) (*RabbitPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is empty")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("RabbitMQ publisher initialized", zap.String("exchange", exchange))
	return &RabbitPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With(zap.String("component", "rabbitmq")),
	}, nil
}

// Publish 发布一条消息并等待确认
func (p *RabbitPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	cid := ""
	if env.Meta.CorrelationID != nil {
		cid = *env.Meta.CorrelationID
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, env.Meta.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: cid,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", env.Meta.Type)
	}

	p.logger.Debug("Event published", zap.String("key", env.Meta.Type), zap.String("id", env.Meta.ID))
	return nil
}

// Close 关闭连接
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Forwarder 把事件总线上的领域事件转发到 broker
type Forwarder struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewForwarder 创建转发器
func NewForwarder(publisher Publisher, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger.With(zap.String("component", "event_forwarder")),
	}
}

// Attach 订阅全部事件，返回取消订阅函数
func (f *Forwarder) Attach(bus eventbus.Bus) func() {
	return bus.Subscribe(eventbus.Wildcard, f.Handle)
}

// Handle 转发单个事件，失败只记录日志
func (f *Forwarder) Handle(ctx context.Context, event entity.DomainEvent) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	env := NewEnvelope(event)
	if err := f.publisher.Publish(ctx, env); err != nil {
		f.logger.Warn("Forward event failed",
			zap.String("type", string(event.Type)),
			zap.String("message_id", event.MessageID),
			zap.Error(err),
		)
	}
}
