package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// Job failure reasons written by workers and sweeps.
const (
	ReasonTimeout        = "timeout"
	ReasonWorkerShutdown = "worker_shutdown"
)

// JobQueue 媒体处理任务队列
// 状态迁移交给仓储的条件更新; 终态任务同步交给完成回调（响应分发）
type JobQueue struct {
	jobs     repository.JobRepository
	messages repository.MessageRepository
	events   service.EventPublisher
	handler  JobCompletionHandler
	logger   *zap.Logger
	now      func() time.Time
}

// NewJobQueue 创建任务队列
func NewJobQueue(jobs repository.JobRepository, messages repository.MessageRepository, events service.EventPublisher, logger *zap.Logger) *JobQueue {
	if events == nil {
		events = service.NopPublisher{}
	}
	return &JobQueue{
		jobs:     jobs,
		messages: messages,
		events:   events,
		logger:   logger.With(zap.String("component", "job_queue")),
		now:      time.Now,
	}
}

// SetCompletionHandler 设置终态回调
func (q *JobQueue) SetCompletionHandler(h JobCompletionHandler) {
	q.handler = h
}

// Enqueue 为消息创建 pending 任务; 同一消息重复入队返回已有任务
func (q *JobQueue) Enqueue(ctx context.Context, messageID string, processor valueobject.ProcessorType) (*entity.ImageProcessingJob, error) {
	if _, err := q.messages.FindByMessageID(ctx, messageID); err != nil {
		return nil, err
	}
	job, err := entity.NewImageProcessingJob(uuid.New().String(), messageID, processor)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		if apperrors.IsAlreadyExists(err) {
			return q.jobs.FindByMessageID(ctx, messageID)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	q.logger.Info("Job enqueued",
		zap.String("job_id", job.ID()),
		zap.String("message_id", messageID),
		zap.String("processor", string(processor)),
	)
	q.events.Publish(ctx, entity.DomainEvent{
		Type:      entity.EventJobEnqueued,
		JobID:     job.ID(),
		MessageID: messageID,
		Reason:    string(processor),
		Timestamp: q.now(),
	})
	return job, nil
}

// ClaimNext 独占领取最早的 pending 任务; 无任务时返回 nil, nil
func (q *JobQueue) ClaimNext(ctx context.Context, workerID string) (*entity.ImageProcessingJob, error) {
	job, err := q.jobs.ClaimNext(ctx, workerID, q.now())
	if err != nil || job == nil {
		return nil, err
	}
	q.events.Publish(ctx, entity.DomainEvent{
		Type:       entity.EventJobClaimed,
		JobID:      job.ID(),
		MessageID:  job.MessageID(),
		Attributes: map[string]string{"worker_id": workerID},
		Timestamp:  q.now(),
	})
	return job, nil
}

// Complete processing -> completed，并把结果交给完成回调
// 非 processing 状态返回 entity.ErrJobStateConflict，调用方视为无操作
func (q *JobQueue) Complete(ctx context.Context, jobID, result string) (*entity.ImageProcessingJob, error) {
	job, err := q.jobs.Complete(ctx, jobID, result, q.now())
	if err != nil {
		return nil, err
	}
	q.events.Publish(ctx, entity.DomainEvent{
		Type:      entity.EventJobCompleted,
		JobID:     job.ID(),
		MessageID: job.MessageID(),
		Timestamp: q.now(),
	})
	q.dispatch(ctx, job)
	return job, nil
}

// Fail processing -> failed; reason 为 "timeout" 时发布超时事件
func (q *JobQueue) Fail(ctx context.Context, jobID, reason string) (*entity.ImageProcessingJob, error) {
	job, err := q.jobs.Fail(ctx, jobID, reason, q.now())
	if err != nil {
		return nil, err
	}
	evType := entity.EventJobFailed
	if reason == ReasonTimeout {
		evType = entity.EventJobTimeout
	}
	q.logger.Warn("Job failed",
		zap.String("job_id", job.ID()),
		zap.String("message_id", job.MessageID()),
		zap.String("reason", reason),
	)
	q.events.Publish(ctx, entity.DomainEvent{
		Type:      evType,
		JobID:     job.ID(),
		MessageID: job.MessageID(),
		Reason:    reason,
		Timestamp: q.now(),
	})
	q.dispatch(ctx, job)
	return job, nil
}

func (q *JobQueue) dispatch(ctx context.Context, job *entity.ImageProcessingJob) {
	if q.handler == nil {
		return
	}
	if err := q.handler.DispatchJob(ctx, job); err != nil {
		q.logger.Error("Job result dispatch failed",
			zap.String("job_id", job.ID()),
			zap.String("message_id", job.MessageID()),
			zap.Error(err),
		)
	}
}

// Resubmit 人工重新提交: failed -> pending，消息回到处理中
func (q *JobQueue) Resubmit(ctx context.Context, jobID string) (*entity.ImageProcessingJob, error) {
	job, err := q.jobs.Resubmit(ctx, jobID)
	if err != nil {
		return nil, err
	}

	msg, err := q.messages.FindByMessageID(ctx, job.MessageID())
	if err != nil {
		return job, fmt.Errorf("job %s resubmitted but message lookup failed: %w", jobID, err)
	}
	if err := msg.Reopen(q.now()); err != nil {
		q.logger.Warn("Message not reopened on resubmit",
			zap.String("message_id", msg.MessageID()),
			zap.String("status", string(msg.ProcessingStatus())),
		)
	} else if err := q.messages.Save(ctx, msg); err != nil {
		return job, fmt.Errorf("reopen message %s: %w", msg.MessageID(), err)
	}

	q.logger.Info("Job resubmitted", zap.String("job_id", jobID), zap.String("message_id", job.MessageID()))
	q.events.Publish(ctx, entity.DomainEvent{
		Type:      entity.EventJobEnqueued,
		JobID:     job.ID(),
		MessageID: job.MessageID(),
		Reason:    "resubmit",
		Timestamp: q.now(),
	})
	return job, nil
}

// SweepStuck 将领取超过 timeout 仍在处理中的任务标记为超时失败，返回处理数量
func (q *JobQueue) SweepStuck(ctx context.Context, timeout time.Duration, limit int) (int, error) {
	stuck, err := q.jobs.ListStuck(ctx, q.now().Add(-timeout), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, job := range stuck {
		if _, err := q.Fail(ctx, job.ID(), ReasonTimeout); err != nil {
			if errors.Is(err, entity.ErrJobStateConflict) {
				// 工作者刚好完成
				continue
			}
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		q.logger.Warn("Stuck jobs timed out", zap.Int("count", swept), zap.Duration("timeout", timeout))
	}
	return swept, nil
}

// Get 按ID获取任务
func (q *JobQueue) Get(ctx context.Context, jobID string) (*entity.ImageProcessingJob, error) {
	return q.jobs.FindByID(ctx, jobID)
}

// List 按状态列出任务
func (q *JobQueue) List(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.ImageProcessingJob, error) {
	return q.jobs.ListByStatus(ctx, status, limit)
}

// LocalJobSource 进程内任务来源，领取时附带消息上下文
type LocalJobSource struct {
	queue *JobQueue
}

var _ JobSource = (*LocalJobSource)(nil)

// NewLocalJobSource 创建本地任务来源
func NewLocalJobSource(queue *JobQueue) *LocalJobSource {
	return &LocalJobSource{queue: queue}
}

// Claim 领取任务并组装 JobTask
func (s *LocalJobSource) Claim(ctx context.Context, workerID string) (*JobTask, error) {
	job, err := s.queue.ClaimNext(ctx, workerID)
	if err != nil || job == nil {
		return nil, err
	}
	task, err := s.queue.Describe(ctx, job)
	if err != nil {
		_, _ = s.queue.Fail(ctx, job.ID(), err.Error())
		return nil, err
	}
	return task, nil
}

// Complete 提交结果
func (s *LocalJobSource) Complete(ctx context.Context, jobID, result string) error {
	_, err := s.queue.Complete(ctx, jobID, result)
	return err
}

// Fail 提交失败原因
func (s *LocalJobSource) Fail(ctx context.Context, jobID, reason string) error {
	_, err := s.queue.Fail(ctx, jobID, reason)
	return err
}

// Describe 把任务与所属消息组装为工作者视图
func (q *JobQueue) Describe(ctx context.Context, job *entity.ImageProcessingJob) (*JobTask, error) {
	msg, err := q.messages.FindByMessageID(ctx, job.MessageID())
	if err != nil {
		return nil, fmt.Errorf("job %s: load message: %w", job.ID(), err)
	}
	task := &JobTask{
		JobID:         job.ID(),
		MessageID:     job.MessageID(),
		ProcessorType: job.ProcessorType(),
		MessageType:   msg.Type(),
		MediaRef:      msg.MediaRef(),
		Attempts:      job.Attempts(),
	}
	if msg.Type().IsMedia() {
		task.Caption = msg.Content()
	}
	return task, nil
}
