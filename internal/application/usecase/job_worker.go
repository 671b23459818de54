package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/pkg/safego"
)

// JobWorkerConfig 工作者参数
type JobWorkerConfig struct {
	PollInterval  time.Duration
	Timeout       time.Duration
	SettleTimeout time.Duration // 提交结果的超时，独立于工作者生命周期
}

// JobWorker 轮询任务来源，领取后调用媒体处理器并提交结果
// 处理超时后直接放弃外部调用，任务以 "timeout" 失败
type JobWorker struct {
	id         string
	source     JobSource
	processors *service.MediaProcessorRegistry
	cfg        JobWorkerConfig
	logger     *zap.Logger
}

// NewJobWorker 创建工作者
func NewJobWorker(id string, source JobSource, processors *service.MediaProcessorRegistry, cfg JobWorkerConfig, logger *zap.Logger) *JobWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 10 * time.Second
	}
	return &JobWorker{
		id:         id,
		source:     source,
		processors: processors,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "job_worker"), zap.String("worker_id", id)),
	}
}

// ID 工作者标识
func (w *JobWorker) ID() string { return w.id }

// Run 循环领取直到 ctx 取消
func (w *JobWorker) Run(ctx context.Context) {
	w.logger.Info("Job worker started", zap.Duration("poll_interval", w.cfg.PollInterval))
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// 有任务时连续领取，队列空了再等下一个周期
		for {
			processed, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("Job poll failed", zap.Error(err))
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Job worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce 领取并处理一个任务; 没有任务时 processed 为 false
func (w *JobWorker) RunOnce(ctx context.Context) (processed bool, err error) {
	task, err := w.source.Claim(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if task == nil {
		return false, nil
	}

	start := time.Now()
	result, perr := w.process(ctx, task)

	// 结果提交不跟随 ctx: 停机时已领取的任务仍要落到终态
	settleCtx, cancel := context.WithTimeout(context.Background(), w.cfg.SettleTimeout)
	defer cancel()

	if perr != nil {
		reason := perr.Error()
		switch {
		case errors.Is(perr, context.DeadlineExceeded):
			reason = ReasonTimeout
		case errors.Is(perr, context.Canceled) && ctx.Err() != nil:
			reason = ReasonWorkerShutdown
		case errors.Is(perr, service.ErrNoProcessor):
			reason = fmt.Sprintf("%s: %s", valueobject.ErrorKindNoProcessor, task.ProcessorType)
		}
		w.logger.Warn("Job processing failed",
			zap.String("job_id", task.JobID),
			zap.String("processor", string(task.ProcessorType)),
			zap.String("reason", reason),
		)
		return true, w.settle(w.source.Fail(settleCtx, task.JobID, reason), task.JobID)
	}

	w.logger.Info("Job processed",
		zap.String("job_id", task.JobID),
		zap.String("processor", string(task.ProcessorType)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true, w.settle(w.source.Complete(settleCtx, task.JobID, result), task.JobID)
}

// settle 状态冲突说明任务已被清扫或他人处理，视为无操作
func (w *JobWorker) settle(err error, jobID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, entity.ErrJobStateConflict) {
		w.logger.Info("Job already settled elsewhere", zap.String("job_id", jobID))
		return nil
	}
	return err
}

func (w *JobWorker) process(ctx context.Context, task *JobTask) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		if err := safego.Run(w.logger, "media-processor", func() {
			out.result, out.err = w.processors.Process(ctx, task.ProcessorType, service.MediaRequest{
				JobID:     task.JobID,
				MessageID: task.MessageID,
				Type:      task.MessageType,
				MediaRef:  task.MediaRef,
				Caption:   task.Caption,
			})
		}); err != nil {
			out.err = err
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// WorkerID 生成 主机名-进程号-序号 形式的工作者标识
func WorkerID(index int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), index)
}

// RunWorkers 启动 n 个工作者并阻塞到全部退出
func RunWorkers(ctx context.Context, n int, source JobSource, processors *service.MediaProcessorRegistry, cfg JobWorkerConfig, logger *zap.Logger) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := NewJobWorker(WorkerID(i), source, processors, cfg, logger)
		wg.Add(1)
		safego.Go(logger, "job-worker-"+w.ID(), func() {
			defer wg.Done()
			w.Run(ctx)
		})
	}
	wg.Wait()
}
