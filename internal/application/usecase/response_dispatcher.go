package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// ResponseDispatcher 把回答或任务结果写回消息并交给发送通道
// 发送失败时消息置为 failed，但保留 response 以便人工重发
type ResponseDispatcher struct {
	messages   repository.MessageRepository
	connectors *service.ConnectorRegistry
	sessions   *service.SessionManager
	sender     service.MessageSender
	formatter  service.TextFormatter
	events     service.EventPublisher
	answerer   Answerer
	logger     *zap.Logger
	now        func() time.Time
}

// NewResponseDispatcher 创建响应分发器
func NewResponseDispatcher(
	messages repository.MessageRepository,
	connectors *service.ConnectorRegistry,
	sessions *service.SessionManager,
	sender service.MessageSender,
	formatter service.TextFormatter,
	events service.EventPublisher,
	logger *zap.Logger,
) *ResponseDispatcher {
	if formatter == nil {
		formatter = service.PlainFormatter{}
	}
	if events == nil {
		events = service.NopPublisher{}
	}
	return &ResponseDispatcher{
		messages:   messages,
		connectors: connectors,
		sessions:   sessions,
		sender:     sender,
		formatter:  formatter,
		events:     events,
		logger:     logger.With(zap.String("component", "dispatcher")),
		now:        time.Now,
	}
}

// SetTranscriptionAnswerer 开启后，转写结果会作为问题交给问答引擎
func (d *ResponseDispatcher) SetTranscriptionAnswerer(a Answerer) {
	d.answerer = a
}

// FailureKind 把问答错误映射为消息错误类型
func FailureKind(err error) string {
	switch {
	case errors.Is(err, knowledge.ErrRetrievalUnavailable):
		return valueobject.ErrorKindRetrieval
	case service.IsTimeout(err):
		return valueobject.ErrorKindTimeout
	default:
		return valueobject.ErrorKindGeneration
	}
}

// DispatchAnswer 发送回答并完成消息
func (d *ResponseDispatcher) DispatchAnswer(ctx context.Context, msg *entity.MessageRecord, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return d.DispatchFailure(ctx, msg, valueobject.ErrorKindGeneration, errors.New("empty answer"))
	}

	sendErr := d.send(ctx, msg, answer)
	now := d.now()
	if sendErr != nil {
		msg.FailWithResponse(answer, valueobject.ErrorKindSendFailed, now)
		if err := d.messages.Save(ctx, msg); err != nil {
			return fmt.Errorf("save message %s after send failure: %w", msg.MessageID(), err)
		}
		d.logger.Error("Send failed, response retained for resend",
			zap.String("message_id", msg.MessageID()),
			zap.String("instance_id", msg.InstanceID()),
			zap.String("to", msg.FromNumber()),
			zap.Error(sendErr),
		)
		d.events.Publish(ctx, entity.DomainEvent{
			Type:       entity.EventSendFailed,
			InstanceID: msg.InstanceID(),
			SessionID:  msg.SessionID(),
			MessageID:  msg.MessageID(),
			Number:     msg.FromNumber(),
			Reason:     sendErr.Error(),
			Timestamp:  now,
		})
		return sendErr
	}

	if err := msg.Complete(answer, now); err != nil {
		return err
	}
	if err := d.messages.Save(ctx, msg); err != nil {
		return fmt.Errorf("save answered message %s: %w", msg.MessageID(), err)
	}
	latency := now.Sub(msg.ReceivedAt())
	d.logger.Info("Message answered",
		zap.String("message_id", msg.MessageID()),
		zap.String("instance_id", msg.InstanceID()),
		zap.Duration("latency", latency),
	)
	d.events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventMessageAnswered,
		InstanceID: msg.InstanceID(),
		SessionID:  msg.SessionID(),
		MessageID:  msg.MessageID(),
		Number:     msg.FromNumber(),
		Attributes: map[string]string{entity.AttrLatencyMs: strconv.FormatInt(latency.Milliseconds(), 10)},
		Timestamp:  now,
	})
	return nil
}

func (d *ResponseDispatcher) send(ctx context.Context, msg *entity.MessageRecord, answer string) error {
	if d.sender == nil {
		return errors.New("no message sender configured")
	}
	inst, err := d.connectors.Resolve(ctx, msg.InstanceID())
	if err != nil {
		return fmt.Errorf("resolve instance %s: %w", msg.InstanceID(), err)
	}
	return d.sender.SendText(ctx, inst, msg.FromNumber(), d.formatter.Format(answer))
}

// DispatchFailure 记录处理失败; 不影响其他消息
func (d *ResponseDispatcher) DispatchFailure(ctx context.Context, msg *entity.MessageRecord, kind string, cause error) error {
	now := d.now()
	msg.Fail(kind, now)
	if err := d.messages.Save(ctx, msg); err != nil {
		return fmt.Errorf("save failed message %s: %w", msg.MessageID(), err)
	}
	reason := kind
	if cause != nil {
		reason = cause.Error()
	}
	d.logger.Warn("Message processing failed",
		zap.String("message_id", msg.MessageID()),
		zap.String("error_kind", kind),
		zap.String("reason", reason),
	)
	d.events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventMessageFailed,
		InstanceID: msg.InstanceID(),
		SessionID:  msg.SessionID(),
		MessageID:  msg.MessageID(),
		Number:     msg.FromNumber(),
		Reason:     reason,
		Attributes: map[string]string{"error_kind": kind},
		Timestamp:  now,
	})
	return nil
}

// DispatchJob 处理进入终态的媒体任务
// 完成的任务结果成为消息回复; 会话已转人工或关闭时只记录不发送
func (d *ResponseDispatcher) DispatchJob(ctx context.Context, job *entity.ImageProcessingJob) error {
	msg, err := d.messages.FindByMessageID(ctx, job.MessageID())
	if err != nil {
		return fmt.Errorf("job %s: load message: %w", job.ID(), err)
	}

	if job.Status() == entity.JobFailed {
		return d.DispatchFailure(ctx, msg, jobFailureKind(job.ErrorMessage()), errors.New(job.ErrorMessage()))
	}
	if job.Status() != entity.JobCompleted {
		return fmt.Errorf("%w: job %s is %s", entity.ErrJobStateConflict, job.ID(), job.Status())
	}

	response := strings.TrimSpace(job.Result())
	if response == "" {
		return d.DispatchFailure(ctx, msg, valueobject.ErrorKindJobFailed, errors.New("job returned an empty result"))
	}

	if !d.sessionAcceptsReplies(ctx, msg) {
		return d.recordWithoutReply(ctx, msg, response)
	}

	if job.ProcessorType() == valueobject.ProcessorAudioTranscription && d.answerer != nil {
		answer, err := d.answerer.Ask(ctx, response)
		if err != nil {
			return d.DispatchFailure(ctx, msg, FailureKind(err), err)
		}
		response = answer
	}
	return d.DispatchAnswer(ctx, msg, response)
}

// DispatchReply 自动回复入口: 会话在生成期间转人工或关闭时只记录不发送
func (d *ResponseDispatcher) DispatchReply(ctx context.Context, msg *entity.MessageRecord, answer string) (sent bool, err error) {
	if strings.TrimSpace(answer) != "" && !d.sessionAcceptsReplies(ctx, msg) {
		return false, d.recordWithoutReply(ctx, msg, answer)
	}
	if err := d.DispatchAnswer(ctx, msg, answer); err != nil {
		return false, err
	}
	return true, nil
}

func (d *ResponseDispatcher) recordWithoutReply(ctx context.Context, msg *entity.MessageRecord, response string) error {
	if err := msg.Complete(response, d.now()); err != nil {
		return err
	}
	d.logger.Info("Response recorded without reply",
		zap.String("message_id", msg.MessageID()),
		zap.String("session_id", msg.SessionID()),
	)
	return d.messages.Save(ctx, msg)
}

func (d *ResponseDispatcher) sessionAcceptsReplies(ctx context.Context, msg *entity.MessageRecord) bool {
	if msg.SessionID() == "" || d.sessions == nil {
		return true
	}
	session, err := d.sessions.Get(ctx, msg.SessionID())
	if err != nil {
		d.logger.Warn("Session lookup failed, replying anyway",
			zap.String("session_id", msg.SessionID()),
			zap.Error(err),
		)
		return true
	}
	return session.IsAIHandled()
}

func jobFailureKind(reason string) string {
	switch {
	case reason == ReasonTimeout:
		return valueobject.ErrorKindTimeout
	case strings.HasPrefix(reason, valueobject.ErrorKindNoProcessor):
		return valueobject.ErrorKindNoProcessor
	default:
		return valueobject.ErrorKindJobFailed
	}
}

// Resend 人工重发已保留的回复
func (d *ResponseDispatcher) Resend(ctx context.Context, messageID string) (*entity.MessageRecord, error) {
	msg, err := d.messages.FindByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	response, ok := msg.Response()
	if !ok {
		return msg, apperrors.NewInvalidInputError("message " + messageID + " has no response to resend")
	}
	if err := d.DispatchAnswer(ctx, msg, response); err != nil {
		return msg, err
	}
	return msg, nil
}
