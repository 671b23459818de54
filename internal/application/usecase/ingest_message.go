package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// IngestOutcome 入站处理结果分类
type IngestOutcome string

const (
	IngestAccepted  IngestOutcome = "accepted"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestDropped   IngestOutcome = "dropped"
	IngestCommand   IngestOutcome = "command"
)

// Route / drop reasons reported in IngestResult.Reason.
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonOwnMessage     = "own_message"
	ReasonRecentlySeen   = "recently_seen"
	ReasonInactive       = "instance_inactive"
	ReasonHumanSession   = "human_session"
	ReasonNoMedia        = "no_media"
	ReasonAnswerQueued   = "answer_queued"
	ReasonJobEnqueued    = "job_enqueued"
	ReasonRoutingFailure = "routing_failed"
)

// IngestResult Ingest 的返回值
type IngestResult struct {
	Outcome IngestOutcome
	Reason  string
	Message *entity.MessageRecord
	Session *entity.ChatSession
	Job     *entity.ImageProcessingJob
	Reply   string
}

// IngestDeps 入站流水线依赖
type IngestDeps struct {
	Connectors *service.ConnectorRegistry
	Sessions   *service.SessionManager
	Messages   repository.MessageRepository
	Contacts   repository.ContactRepository
	Policy     service.HandoffPolicy
	Admin      *AdminCommands
	Answers    *AnswerWorker
	Jobs       *JobQueue
	Dispatcher *ResponseDispatcher
	Dedupe     DedupeCache
	Events     service.EventPublisher
	PreferOCR  bool
}

// IngestMessageUseCase 入站消息流水线: 校验 -> 去重 -> 授权 -> 会话 -> 持久化 -> 路由
// 去重与会话创建都落在存储层的条件写入上，并发重复投递只会有一条记录
type IngestMessageUseCase struct {
	deps   IngestDeps
	logger *zap.Logger
	now    func() time.Time
}

// NewIngestMessageUseCase 创建入站流水线
func NewIngestMessageUseCase(deps IngestDeps, logger *zap.Logger) *IngestMessageUseCase {
	if deps.Dedupe == nil {
		deps.Dedupe = nopDedupe{}
	}
	if deps.Events == nil {
		deps.Events = service.NopPublisher{}
	}
	if deps.Policy == nil {
		deps.Policy = service.CommandHandoffPolicy{}
	}
	return &IngestMessageUseCase{
		deps:   deps,
		logger: logger.With(zap.String("component", "ingest")),
		now:    time.Now,
	}
}

// Execute 处理一个入站事件
// 只有校验失败、未知实例与持久化失败会返回错误; 重复、未授权与路由失败都不是错误
func (uc *IngestMessageUseCase) Execute(ctx context.Context, ev InboundEvent) (*IngestResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	d := uc.deps

	// 1. idempotency
	if res, err := uc.checkDuplicate(ctx, ev); res != nil || err != nil {
		return res, err
	}

	// 2. instance
	inst, err := d.Connectors.Resolve(ctx, ev.InstanceID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("unknown instance %q", ev.InstanceID))
		}
		return nil, err
	}

	// 3. owner commands, then authorization
	decision := d.Policy.Evaluate(inst, service.HandoffInput{
		FromNumber: ev.FromNumber,
		Content:    ev.Content,
		FromMe:     ev.FromMe,
	})
	if decision.Command {
		return uc.handleCommand(ctx, ev, inst, decision)
	}
	if !d.Connectors.IsAuthorized(inst, ev.FromNumber) {
		return uc.drop(ctx, ev, inst, ReasonUnauthorized), nil
	}
	if d.Connectors.ShouldIgnore(inst, service.SenderInfo{FromMe: ev.FromMe, FromNumber: ev.FromNumber, SenderName: ev.SenderName}) {
		return uc.drop(ctx, ev, inst, ReasonOwnMessage), nil
	}

	// 4. session
	to := ev.ToNumber
	if to == "" {
		to = inst.PhoneNumber()
	}
	session, _, err := d.Sessions.GetOrCreateSession(ctx, inst.ID(), ev.FromNumber, to)
	if err != nil {
		return nil, err
	}

	// 5. persist
	msg, err := entity.NewMessageRecord(entity.MessageParams{
		MessageID:             ev.MessageID,
		SessionID:             session.ID(),
		InstanceID:            inst.ID(),
		FromNumber:            ev.FromNumber,
		SenderName:            ev.SenderName,
		Type:                  ev.MessageType(),
		Content:               ev.Content,
		MediaRef:              ev.MediaRef,
		Source:                valueobject.SourceContact,
		ReceivedWhileInactive: !inst.IsActive() || !inst.IsConnected(),
		RawPayload:            ev.RawPayload,
		ReceivedAt:            ev.ReceivedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	stored, created, err := d.Messages.Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("persist message %s: %w", ev.MessageID, err)
	}
	if !created {
		return uc.duplicate(ctx, stored), nil
	}
	uc.afterPersist(ctx, stored, session, ev)

	// keyword policy hands the session over before routing
	if decision.Action == service.HandoffToHuman && session.IsAIHandled() {
		if s, err := d.Sessions.TransitionToHuman(ctx, session.ID()); err == nil {
			session = s
		} else {
			uc.logger.Warn("Keyword handoff failed", zap.String("session_id", session.ID()), zap.Error(err))
		}
	}

	// 6. route
	res := &IngestResult{Outcome: IngestAccepted, Message: stored, Session: session}
	uc.route(ctx, inst, res, ev.Type)
	return res, nil
}

func (uc *IngestMessageUseCase) checkDuplicate(ctx context.Context, ev InboundEvent) (*IngestResult, error) {
	d := uc.deps
	seen, err := d.Dedupe.Seen(ctx, ev.MessageID)
	if err != nil {
		uc.logger.Warn("Dedupe cache unavailable, falling back to store", zap.Error(err))
	}

	existing, err := d.Messages.FindByMessageID(ctx, ev.MessageID)
	switch {
	case err == nil:
		if !seen {
			_ = d.Dedupe.Mark(ctx, ev.MessageID)
		}
		return uc.duplicate(ctx, existing), nil
	case !apperrors.IsNotFound(err):
		return nil, fmt.Errorf("lookup message %s: %w", ev.MessageID, err)
	case seen:
		// 近期已处理但未持久化（被丢弃的事件）
		uc.logger.Debug("Recently seen event skipped", zap.String("message_id", ev.MessageID))
		return &IngestResult{Outcome: IngestDuplicate, Reason: ReasonRecentlySeen}, nil
	}
	return nil, nil
}

func (uc *IngestMessageUseCase) duplicate(ctx context.Context, existing *entity.MessageRecord) *IngestResult {
	uc.logger.Info("Duplicate message ignored",
		zap.String("message_id", existing.MessageID()),
		zap.String("status", string(existing.ProcessingStatus())),
	)
	uc.deps.Events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventMessageDuplicate,
		InstanceID: existing.InstanceID(),
		SessionID:  existing.SessionID(),
		MessageID:  existing.MessageID(),
		Number:     existing.FromNumber(),
		Timestamp:  uc.now(),
	})
	return &IngestResult{Outcome: IngestDuplicate, Message: existing}
}

func (uc *IngestMessageUseCase) drop(ctx context.Context, ev InboundEvent, inst *entity.ConnectorInstance, reason string) *IngestResult {
	uc.logger.Info("Message dropped",
		zap.String("message_id", ev.MessageID),
		zap.String("instance_id", inst.ID()),
		zap.String("from", ev.FromNumber),
		zap.String("reason", reason),
	)
	_ = uc.deps.Dedupe.Mark(ctx, ev.MessageID)
	uc.deps.Events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventMessageDropped,
		InstanceID: inst.ID(),
		MessageID:  ev.MessageID,
		Number:     ev.FromNumber,
		Reason:     reason,
		Timestamp:  uc.now(),
	})
	return &IngestResult{Outcome: IngestDropped, Reason: reason}
}

func (uc *IngestMessageUseCase) afterPersist(ctx context.Context, msg *entity.MessageRecord, session *entity.ChatSession, ev InboundEvent) {
	d := uc.deps
	if err := d.Dedupe.Mark(ctx, msg.MessageID()); err != nil {
		uc.logger.Debug("Dedupe mark failed", zap.Error(err))
	}
	if d.Contacts != nil {
		if _, err := d.Contacts.RecordMessage(ctx, msg.InstanceID(), msg.FromNumber(), ev.SenderName, msg.ReceivedAt()); err != nil {
			uc.logger.Warn("Contact update failed", zap.String("from", msg.FromNumber()), zap.Error(err))
		}
	}
	if err := d.Sessions.Touch(ctx, session.ID()); err != nil {
		uc.logger.Debug("Session touch failed", zap.String("session_id", session.ID()), zap.Error(err))
	}

	uc.logger.Info("Message received",
		zap.String("message_id", msg.MessageID()),
		zap.String("instance_id", msg.InstanceID()),
		zap.String("session_id", session.ID()),
		zap.String("type", string(msg.Type())),
		zap.Bool("received_while_inactive", msg.ReceivedWhileInactive()),
	)
	d.Events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventMessageReceived,
		InstanceID: msg.InstanceID(),
		SessionID:  session.ID(),
		MessageID:  msg.MessageID(),
		Number:     msg.FromNumber(),
		Attributes: map[string]string{"type": string(msg.Type())},
		Timestamp:  uc.now(),
	})
}

// route 路由失败只标记本条消息失败，不向调用方返回错误
// variant 为渠道原始类型，用于选择 other 消息的处理变体
func (uc *IngestMessageUseCase) route(ctx context.Context, inst *entity.ConnectorInstance, res *IngestResult, variant string) {
	d := uc.deps
	msg := res.Message

	if !inst.IsActive() {
		res.Reason = ReasonInactive
		return
	}
	if msg.Type().IsText() && !res.Session.IsAIHandled() {
		res.Reason = ReasonHumanSession
		return
	}
	// 位置、表情回应等没有可下载内容，保持 pending
	if !msg.Type().IsText() && (!msg.Type().IsMedia() || msg.MediaRef() == "") {
		res.Reason = ReasonNoMedia
		return
	}

	if err := msg.MarkProcessing(uc.now()); err != nil {
		res.Reason = ReasonRoutingFailure
		return
	}
	if err := d.Messages.Save(ctx, msg); err != nil {
		uc.routingFailed(ctx, res, valueobject.ErrorKindEnqueue, err)
		return
	}

	if msg.Type().IsText() {
		if err := d.Answers.Schedule(msg); err != nil {
			uc.routingFailed(ctx, res, valueobject.ErrorKindQueueFull, err)
			return
		}
		res.Reason = ReasonAnswerQueued
		return
	}

	processor := valueobject.DefaultProcessorFor(msg.Type(), variant, d.PreferOCR)
	job, err := d.Jobs.Enqueue(ctx, msg.MessageID(), processor)
	if err != nil {
		uc.routingFailed(ctx, res, valueobject.ErrorKindEnqueue, err)
		return
	}
	res.Job = job
	res.Reason = ReasonJobEnqueued
}

func (uc *IngestMessageUseCase) routingFailed(ctx context.Context, res *IngestResult, kind string, cause error) {
	res.Reason = ReasonRoutingFailure
	if err := uc.deps.Dispatcher.DispatchFailure(ctx, res.Message, kind, cause); err != nil {
		uc.logger.Error("Failed to record routing failure",
			zap.String("message_id", res.Message.MessageID()),
			zap.Error(err),
		)
	}
}

// handleCommand 所有者命令: 记录为 system 消息，不进入问答或任务路由
func (uc *IngestMessageUseCase) handleCommand(ctx context.Context, ev InboundEvent, inst *entity.ConnectorInstance, decision service.HandoffDecision) (*IngestResult, error) {
	d := uc.deps
	msg, err := entity.NewMessageRecord(entity.MessageParams{
		MessageID:             ev.MessageID,
		InstanceID:            inst.ID(),
		FromNumber:            ev.FromNumber,
		SenderName:            ev.SenderName,
		Type:                  ev.MessageType(),
		Content:               ev.Content,
		Source:                valueobject.SourceSystem,
		ReceivedWhileInactive: !inst.IsActive() || !inst.IsConnected(),
		RawPayload:            ev.RawPayload,
		ReceivedAt:            ev.ReceivedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	stored, created, err := d.Messages.Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("persist command %s: %w", ev.MessageID, err)
	}
	if !created {
		return uc.duplicate(ctx, stored), nil
	}
	_ = d.Dedupe.Mark(ctx, stored.MessageID())

	res := &IngestResult{Outcome: IngestCommand, Reason: string(decision.Action), Message: stored}
	reply, err := d.Admin.Execute(ctx, inst, decision)
	if err != nil {
		if ferr := d.Dispatcher.DispatchFailure(ctx, stored, valueobject.ErrorKindCommand, err); ferr != nil {
			uc.logger.Error("Failed to record command failure", zap.Error(ferr))
		}
		return res, nil
	}
	res.Reply = reply
	if err := d.Dispatcher.DispatchAnswer(ctx, stored, reply); err != nil {
		uc.logger.Warn("Command reply not delivered", zap.String("message_id", stored.MessageID()), zap.Error(err))
	}
	return res, nil
}
