package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// ErrNoProcessor 没有注册对应能力的处理器
var ErrNoProcessor = errors.New("no media processor registered")

// MediaRequest 媒体处理输入
type MediaRequest struct {
	JobID     string
	MessageID string
	Type      valueobject.MessageType
	MediaRef  string
	Caption   string
}

// MediaProcessor 媒体分析能力（OCR / 图像描述 / 语音转写）
type MediaProcessor interface {
	Process(ctx context.Context, req MediaRequest) (string, error)
}

// MediaProcessorFunc adapts a function to MediaProcessor.
type MediaProcessorFunc func(ctx context.Context, req MediaRequest) (string, error)

func (f MediaProcessorFunc) Process(ctx context.Context, req MediaRequest) (string, error) {
	return f(ctx, req)
}

// MediaProcessorRegistry 按能力变体注册处理器
type MediaProcessorRegistry struct {
	mu         sync.RWMutex
	processors map[valueobject.ProcessorType]MediaProcessor
}

// NewMediaProcessorRegistry 创建处理器注册表
func NewMediaProcessorRegistry() *MediaProcessorRegistry {
	return &MediaProcessorRegistry{
		processors: make(map[valueobject.ProcessorType]MediaProcessor),
	}
}

// Register 注册（覆盖同名）
func (r *MediaProcessorRegistry) Register(t valueobject.ProcessorType, p MediaProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[t] = p
}

// Get 获取处理器
func (r *MediaProcessorRegistry) Get(t valueobject.ProcessorType) (MediaProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[t]
	return p, ok
}

// Types 已注册的能力列表
func (r *MediaProcessorRegistry) Types() []valueobject.ProcessorType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]valueobject.ProcessorType, 0, len(r.processors))
	for t := range r.processors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Process 分派到对应处理器
func (r *MediaProcessorRegistry) Process(ctx context.Context, t valueobject.ProcessorType, req MediaRequest) (string, error) {
	p, ok := r.Get(t)
	if !ok {
		return "", ErrNoProcessor
	}
	return p.Process(ctx, req)
}
