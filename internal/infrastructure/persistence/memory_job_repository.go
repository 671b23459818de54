package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/pkg/errors"
)

// MemoryJobRepository 内存实现的任务仓储，单锁保证领取互斥
type MemoryJobRepository struct {
	mu        sync.Mutex
	jobs      map[string]*entity.ImageProcessingJob
	byMessage map[string]string
}

// NewMemoryJobRepository 创建内存任务仓储
func NewMemoryJobRepository() repository.JobRepository {
	return &MemoryJobRepository{
		jobs:      make(map[string]*entity.ImageProcessingJob),
		byMessage: make(map[string]string),
	}
}

// Create 写入 pending 任务
func (r *MemoryJobRepository) Create(ctx context.Context, job *entity.ImageProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMessage[job.MessageID()]; ok {
		return errors.NewAlreadyExistsError("job already exists for message " + job.MessageID())
	}
	r.jobs[job.ID()] = cloneJob(job)
	r.byMessage[job.MessageID()] = job.ID()
	return nil
}

// FindByID 根据ID查找任务
func (r *MemoryJobRepository) FindByID(ctx context.Context, id string) (*entity.ImageProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job not found")
	}
	return cloneJob(j), nil
}

// FindByMessageID 根据消息幂等键查找任务
func (r *MemoryJobRepository) FindByMessageID(ctx context.Context, messageID string) (*entity.ImageProcessingJob, error) {
	r.mu.Lock()
	id, ok := r.byMessage[messageID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("job not found")
	}
	return r.FindByID(ctx, id)
}

// ClaimNext 独占领取最早的 pending 任务
func (r *MemoryJobRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*entity.ImageProcessingJob, error) {
	if workerID == "" {
		return nil, entity.ErrInvalidWorkerID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.sorted(func(j *entity.ImageProcessingJob) bool { return j.Status() == entity.JobPending })
	if len(pending) == 0 {
		return nil, nil
	}
	j := pending[0]
	if err := j.Claim(workerID, now); err != nil {
		return nil, err
	}
	return cloneJob(j), nil
}

// Complete processing -> completed
func (r *MemoryJobRepository) Complete(ctx context.Context, id, result string, now time.Time) (*entity.ImageProcessingJob, error) {
	return r.apply(id, func(j *entity.ImageProcessingJob) error { return j.Complete(result, now) })
}

// Fail processing -> failed
func (r *MemoryJobRepository) Fail(ctx context.Context, id, reason string, now time.Time) (*entity.ImageProcessingJob, error) {
	return r.apply(id, func(j *entity.ImageProcessingJob) error { return j.Fail(reason, now) })
}

// Resubmit failed -> pending
func (r *MemoryJobRepository) Resubmit(ctx context.Context, id string) (*entity.ImageProcessingJob, error) {
	return r.apply(id, func(j *entity.ImageProcessingJob) error { return j.Resubmit() })
}

func (r *MemoryJobRepository) apply(id string, fn func(*entity.ImageProcessingJob) error) (*entity.ImageProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError("job not found")
	}
	// 在副本上迁移，失败时不污染存储
	next := cloneJob(j)
	if err := fn(next); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	r.jobs[id] = next
	return cloneJob(next), nil
}

// ListStuck 列出 claimedBefore 之前领取且仍在处理中的任务
func (r *MemoryJobRepository) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]*entity.ImageProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.sorted(func(j *entity.ImageProcessingJob) bool {
		return j.Status() == entity.JobProcessing && j.ClaimedAt() != nil && j.ClaimedAt().Before(claimedBefore)
	})
	return cloneJobs(out, limit), nil
}

// ListByStatus 按状态列出任务
func (r *MemoryJobRepository) ListByStatus(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.ImageProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.sorted(func(j *entity.ImageProcessingJob) bool { return j.Status() == status })
	return cloneJobs(out, limit), nil
}

// sorted 返回存储内对象（调用方持锁）
func (r *MemoryJobRepository) sorted(keep func(*entity.ImageProcessingJob) bool) []*entity.ImageProcessingJob {
	out := make([]*entity.ImageProcessingJob, 0)
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt().Equal(out[k].CreatedAt()) {
			return out[i].ID() < out[k].ID()
		}
		return out[i].CreatedAt().Before(out[k].CreatedAt())
	})
	return out
}

func cloneJobs(jobs []*entity.ImageProcessingJob, limit int) []*entity.ImageProcessingJob {
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	out := make([]*entity.ImageProcessingJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, cloneJob(j))
	}
	return out
}

func cloneJob(j *entity.ImageProcessingJob) *entity.ImageProcessingJob {
	return entity.ReconstructImageProcessingJob(j.Snapshot())
}
