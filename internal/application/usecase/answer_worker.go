package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
)

// AnswerWorker 文本消息的异步问答，运行在有界工作池上
type AnswerWorker struct {
	answerer   Answerer
	dispatcher *ResponseDispatcher
	messages   repository.MessageRepository
	pool       Submitter
	facts      *ContactFacts
	logger     *zap.Logger
}

// NewAnswerWorker 创建问答工作者
func NewAnswerWorker(answerer Answerer, dispatcher *ResponseDispatcher, messages repository.MessageRepository, pool Submitter, logger *zap.Logger) *AnswerWorker {
	return &AnswerWorker{
		answerer:   answerer,
		dispatcher: dispatcher,
		messages:   messages,
		pool:       pool,
		logger:     logger.With(zap.String("component", "answer_worker")),
	}
}

// SetContactFacts 回答后抽取联系人事实
func (w *AnswerWorker) SetContactFacts(f *ContactFacts) {
	w.facts = f
}

// Schedule 提交问答任务; 队列满时立即返回错误，不阻塞入站路径
// 任务执行时重新加载消息，调用方持有的实体不会被并发修改
func (w *AnswerWorker) Schedule(msg *entity.MessageRecord) error {
	messageID := msg.MessageID()
	return w.pool.Submit(func(ctx context.Context) {
		current, err := w.messages.FindByMessageID(ctx, messageID)
		if err != nil {
			w.logger.Error("Scheduled message vanished", zap.String("message_id", messageID), zap.Error(err))
			return
		}
		w.Answer(ctx, current)
	})
}

// Pending 排队中的任务数
func (w *AnswerWorker) Pending() int {
	return w.pool.Depth()
}

// Answer 同步执行一次问答并分发结果
func (w *AnswerWorker) Answer(ctx context.Context, msg *entity.MessageRecord) {
	answer, err := w.answerer.Ask(ctx, msg.Content())
	if err != nil {
		if derr := w.dispatcher.DispatchFailure(ctx, msg, FailureKind(err), err); derr != nil {
			w.logger.Error("Failed to record answer failure", zap.String("message_id", msg.MessageID()), zap.Error(derr))
		}
		return
	}
	sent, err := w.dispatcher.DispatchReply(ctx, msg, answer)
	if err != nil {
		w.logger.Warn("Answer dispatch failed", zap.String("message_id", msg.MessageID()), zap.Error(err))
		return
	}
	if sent && w.facts != nil && msg.SessionID() != "" {
		if err := w.facts.Extract(ctx, msg.SessionID(), msg.Content(), answer); err != nil {
			w.logger.Debug("Contact fact extraction skipped", zap.String("session_id", msg.SessionID()), zap.Error(err))
		}
	}
}
