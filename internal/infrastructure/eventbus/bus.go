package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
)

// Wildcard 订阅全部事件类型
const Wildcard entity.EventType = "*"

// Handler 事件处理函数
type Handler func(ctx context.Context, event entity.DomainEvent)

// Bus 事件总线接口
type Bus interface {
	service.EventPublisher
	// Subscribe 订阅事件，返回取消订阅函数
	Subscribe(eventType entity.EventType, handler Handler) (unsubscribe func())
	// Close 关闭事件总线，等待已入队事件分发完毕
	Close()
}

type subscription struct {
	id      uint64
	handler Handler
}

// InMemoryBus 内存事件总线
// 发布不阻塞调用方: 缓冲满时丢弃并计数
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[entity.EventType][]subscription
	eventChan chan eventWrapper
	closed    bool
	nextID    uint64
	dropped   atomic.Int64
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event entity.DomainEvent
}

var _ Bus = (*InMemoryBus)(nil)

// NewInMemoryBus 创建内存事件总线
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	bus := &InMemoryBus{
		handlers:  make(map[entity.EventType][]subscription),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger.With(zap.String("component", "eventbus")),
	}

	// 启动事件分发协程
	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish 发布事件
func (b *InMemoryBus) Publish(ctx context.Context, event entity.DomainEvent) {
	// 持读锁发送，保证 Close 之后不会向已关闭的通道写入
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	// handlers outlive the request that produced the event
	ctx = context.WithoutCancel(ctx)
	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("Event published", zap.String("type", string(event.Type)))
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event buffer full, dropping event", zap.String("type", string(event.Type)))
	}
}

// Subscribe 订阅事件
func (b *InMemoryBus) Subscribe(eventType entity.EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	b.logger.Debug("Handler subscribed", zap.String("event_type", string(eventType)))
	return func() { b.unsubscribe(eventType, id) }
}

func (b *InMemoryBus) unsubscribe(eventType entity.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Dropped 因缓冲满丢弃的事件数
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭事件总线
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

// dispatch 事件分发循环
func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

// dispatchEvent 分发单个事件
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event entity.DomainEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0)
	for _, s := range b.handlers[event.Type] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.handlers[Wildcard] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	// 并行执行处理器
	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Handler panicked",
						zap.String("event_type", string(event.Type)),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}
