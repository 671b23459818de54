package usecase

import (
	"context"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
)

// Answerer 检索增强问答能力（knowledge.Engine 实现）
type Answerer interface {
	Ask(ctx context.Context, question string) (string, error)
}

// DedupeCache 入站消息快速去重缓存; 数据库唯一约束仍是最终判定
type DedupeCache interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string) error
}

// Submitter 有界工作池，队列满时立即返回错误
type Submitter interface {
	Submit(task func(ctx context.Context)) error
	Depth() int
}

// JobTask 工作者领取到的任务及其消息上下文
type JobTask struct {
	JobID         string                    `json:"job_id"`
	MessageID     string                    `json:"message_id"`
	ProcessorType valueobject.ProcessorType `json:"processor_type"`
	MessageType   valueobject.MessageType   `json:"message_type"`
	MediaRef      string                    `json:"media_ref"`
	Caption       string                    `json:"caption,omitempty"`
	Attempts      int                       `json:"attempts"`
}

// JobSource 任务领取协议，本地队列与远程网关客户端各有一份实现
type JobSource interface {
	// Claim 独占领取下一个任务; 无任务时返回 nil, nil
	Claim(ctx context.Context, workerID string) (*JobTask, error)
	Complete(ctx context.Context, jobID, result string) error
	Fail(ctx context.Context, jobID, reason string) error
}

// JobCompletionHandler 任务进入终态后的回调
type JobCompletionHandler interface {
	DispatchJob(ctx context.Context, job *entity.ImageProcessingJob) error
}

type nopDedupe struct{}

func (nopDedupe) Seen(context.Context, string) (bool, error) { return false, nil }
func (nopDedupe) Mark(context.Context, string) error         { return nil }
