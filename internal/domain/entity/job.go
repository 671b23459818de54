package entity

import (
	"fmt"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// JobStatus 媒体处理任务状态
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// validJobTransitions defines the allowed job state changes.
// failed -> pending is only reachable through Resubmit.
var validJobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {
		JobProcessing: true,
	},
	JobProcessing: {
		JobCompleted: true,
		JobFailed:    true,
	},
	JobFailed: {
		JobPending: true,
	},
	// Terminal
	JobCompleted: {},
}

// ParseJobStatus 校验任务状态
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrJobStateConflict, s)
}

// CanTransitionJob 判断任务状态迁移是否合法
func CanTransitionJob(from, to JobStatus) bool {
	allowed, ok := validJobTransitions[from]
	return ok && allowed[to]
}

// ImageProcessingJob 媒体处理任务，与一条 MessageRecord 一一对应
type ImageProcessingJob struct {
	id            string
	messageID     string
	processorType valueobject.ProcessorType
	status        JobStatus
	workerID      string
	result        string
	errorMessage  string
	attempts      int
	createdAt     time.Time
	claimedAt     *time.Time
	completedAt   *time.Time
}

// NewImageProcessingJob 创建待处理任务
func NewImageProcessingJob(id, messageID string, processor valueobject.ProcessorType) (*ImageProcessingJob, error) {
	if id == "" {
		return nil, ErrInvalidJobID
	}
	if messageID == "" {
		return nil, ErrInvalidMessageID
	}
	switch processor {
	case valueobject.ProcessorOCR, valueobject.ProcessorVisionCaption, valueobject.ProcessorAudioTranscription:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProcessor, processor)
	}
	return &ImageProcessingJob{
		id:            id,
		messageID:     messageID,
		processorType: processor,
		status:        JobPending,
		createdAt:     time.Now(),
	}, nil
}

// JobSnapshot 持久化层恢复任务用的字段集合
type JobSnapshot struct {
	ID            string
	MessageID     string
	ProcessorType valueobject.ProcessorType
	Status        JobStatus
	WorkerID      string
	Result        string
	ErrorMessage  string
	Attempts      int
	CreatedAt     time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
}

// ReconstructImageProcessingJob 重建任务（用于从持久化层恢复）
func ReconstructImageProcessingJob(s JobSnapshot) *ImageProcessingJob {
	return &ImageProcessingJob{
		id:            s.ID,
		messageID:     s.MessageID,
		processorType: s.ProcessorType,
		status:        s.Status,
		workerID:      s.WorkerID,
		result:        s.Result,
		errorMessage:  s.ErrorMessage,
		attempts:      s.Attempts,
		createdAt:     s.CreatedAt,
		claimedAt:     s.ClaimedAt,
		completedAt:   s.CompletedAt,
	}
}

// Snapshot 导出字段
func (j *ImageProcessingJob) Snapshot() JobSnapshot {
	return JobSnapshot{
		ID:            j.id,
		MessageID:     j.messageID,
		ProcessorType: j.processorType,
		Status:        j.status,
		WorkerID:      j.workerID,
		Result:        j.result,
		ErrorMessage:  j.errorMessage,
		Attempts:      j.attempts,
		CreatedAt:     j.createdAt,
		ClaimedAt:     j.claimedAt,
		CompletedAt:   j.completedAt,
	}
}

func (j *ImageProcessingJob) ID() string                               { return j.id }
func (j *ImageProcessingJob) MessageID() string                        { return j.messageID }
func (j *ImageProcessingJob) ProcessorType() valueobject.ProcessorType { return j.processorType }
func (j *ImageProcessingJob) Status() JobStatus                        { return j.status }
func (j *ImageProcessingJob) WorkerID() string                         { return j.workerID }
func (j *ImageProcessingJob) Result() string                           { return j.result }
func (j *ImageProcessingJob) ErrorMessage() string                     { return j.errorMessage }
func (j *ImageProcessingJob) Attempts() int                            { return j.attempts }
func (j *ImageProcessingJob) CreatedAt() time.Time                     { return j.createdAt }
func (j *ImageProcessingJob) ClaimedAt() *time.Time                    { return j.claimedAt }
func (j *ImageProcessingJob) CompletedAt() *time.Time                  { return j.completedAt }

// IsTerminal 是否终态
func (j *ImageProcessingJob) IsTerminal() bool {
	return j.status == JobCompleted || j.status == JobFailed
}

func (j *ImageProcessingJob) transition(to JobStatus) error {
	if !CanTransitionJob(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrJobStateConflict, j.status, to)
	}
	j.status = to
	return nil
}

// Claim pending -> processing
func (j *ImageProcessingJob) Claim(workerID string, now time.Time) error {
	if workerID == "" {
		return ErrInvalidWorkerID
	}
	if j.status != JobPending {
		return fmt.Errorf("%w: %s -> %s", ErrJobStateConflict, j.status, JobProcessing)
	}
	if err := j.transition(JobProcessing); err != nil {
		return err
	}
	j.workerID = workerID
	j.attempts++
	claimed := now
	j.claimedAt = &claimed
	return nil
}

// Complete processing -> completed
func (j *ImageProcessingJob) Complete(result string, now time.Time) error {
	if j.status != JobProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrJobStateConflict, j.status, JobCompleted)
	}
	if err := j.transition(JobCompleted); err != nil {
		return err
	}
	j.result = result
	j.errorMessage = ""
	done := now
	j.completedAt = &done
	return nil
}

// Fail processing -> failed
func (j *ImageProcessingJob) Fail(reason string, now time.Time) error {
	if j.status != JobProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrJobStateConflict, j.status, JobFailed)
	}
	if err := j.transition(JobFailed); err != nil {
		return err
	}
	j.errorMessage = reason
	done := now
	j.completedAt = &done
	return nil
}

// Resubmit failed -> pending (manual only)
func (j *ImageProcessingJob) Resubmit() error {
	if j.status != JobFailed {
		return fmt.Errorf("%w: %s -> %s", ErrJobStateConflict, j.status, JobPending)
	}
	if err := j.transition(JobPending); err != nil {
		return err
	}
	j.workerID = ""
	j.result = ""
	j.errorMessage = ""
	j.claimedAt = nil
	j.completedAt = nil
	return nil
}
