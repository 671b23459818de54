package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/pkg/safego"
)

var (
	// ErrQueueFull 队列已满，任务未被接收
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task 池中执行的任务
type Task = func(ctx context.Context)

// Pool 固定数量 worker 加有界队列
// Submit 从不阻塞: 队列满时直接返回 ErrQueueFull
type Pool struct {
	name    string
	tasks   chan Task
	workers int
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	inFlight  atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

// New 创建并启动 worker 池
func New(name string, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    name,
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  logger.With(zap.String("component", "workerpool"), zap.String("pool", name)),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	p.logger.Info("Worker pool started", zap.Int("workers", workers), zap.Int("queue_size", queueSize))
	return p
}

// Submit 提交任务
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	name := fmt.Sprintf("%s-%d", p.name, id)
	for task := range p.tasks {
		p.inFlight.Add(1)
		err := safego.Run(p.logger, name, func() { task(p.ctx) })
		p.inFlight.Add(-1)
		if err != nil {
			p.panicked.Add(1)
			continue
		}
		p.completed.Add(1)
	}
}

// Depth 排队中的任务数
func (p *Pool) Depth() int { return len(p.tasks) }

// Name 池名称
func (p *Pool) Name() string { return p.name }

// InFlight 执行中的任务数
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Stats 统计
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"queued":    int64(p.Depth()),
		"in_flight": p.inFlight.Load(),
		"completed": p.completed.Load(),
		"panicked":  p.panicked.Load(),
	}
}

// Stop 停止接收新任务，等待已排队任务执行完毕; ctx 到期时取消运行中任务的 context
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool drained", zap.Int64("completed", p.completed.Load()))
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
