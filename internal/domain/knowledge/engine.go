package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// DefaultTopK 检索切片数
const DefaultTopK = 3

const stuffPrompt = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s`

// Engine 检索增强问答引擎，进程启动时构建一次并注入使用方
type Engine struct {
	retriever Retriever
	llm       service.LLMClient
	gen       valueobject.GenerationConfig
	topK      int
	logger    *zap.Logger
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithTopK 覆盖 k
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// NewEngine 创建问答引擎
func NewEngine(retriever Retriever, llm service.LLMClient, gen valueobject.GenerationConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		retriever: retriever,
		llm:       llm,
		gen:       gen,
		topK:      DefaultTopK,
		logger:    logger.With(zap.String("component", "knowledge_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TopK 当前 k
func (e *Engine) TopK() int { return e.topK }

// BuildContext 按相似度排名拼接切片（stuff 策略）
func BuildContext(entries []*Entry) string {
	parts := make([]string, 0, len(entries))
	for _, en := range entries {
		if t := strings.TrimSpace(en.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Ask 检索 top-k 切片并以温度 0 调用模型，原样返回模型输出。
// 失败不在内部重试: 检索失败为 ErrRetrievalUnavailable，模型失败或超时为 ErrGenerationFailed。
func (e *Engine) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", ErrGenerationFailed)
	}

	entries, err := e.retriever.Retrieve(ctx, question, e.topK)
	if err != nil {
		if !errors.Is(err, ErrRetrievalUnavailable) {
			err = fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
		}
		return "", err
	}

	req := &service.LLMRequest{
		Messages: []service.LLMMessage{
			service.SystemMessage(fmt.Sprintf(stuffPrompt, BuildContext(entries))),
			service.UserMessage(question),
		},
		Model:       e.gen.Model(),
		MaxTokens:   e.gen.MaxTokens(),
		Temperature: 0,
	}

	start := time.Now()
	resp, err := e.generate(ctx, req)
	if err != nil {
		e.logger.Warn("Generation failed",
			zap.Int("chunks", len(entries)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}
	e.logger.Debug("Question answered",
		zap.Int("chunks", len(entries)),
		zap.String("model", resp.ModelUsed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.Content, nil
}

// generate bounds the model call by the configured timeout. A client that
// ignores its context is abandoned when the deadline passes.
func (e *Engine) generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	if timeout := e.gen.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		resp *service.LLMResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.llm.Generate(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.resp == nil {
			return nil, fmt.Errorf("nil response")
		}
		return r.resp, r.err
	case <-ctx.Done():
		if ctx.Err() != context.DeadlineExceeded {
			return nil, ctx.Err()
		}
		return nil, &service.LLMError{
			Kind:    service.ErrKindTimeout,
			Message: "request timed out",
			Model:   req.Model,
			Cause:   ctx.Err(),
		}
	}
}
