package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

func ingestImage(t *testing.T, f *fixture, id string) *entity.ImageProcessingJob {
	t.Helper()
	res, err := f.ingest.Execute(context.Background(), mediaEvent(id, contactNumber, valueobject.MessageTypeImage))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Job == nil {
		t.Fatalf("no job for %s (reason %s)", id, res.Reason)
	}
	return res.Job
}

func TestJobQueue_MediaScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")

	claimed, err := f.queue.ClaimNext(ctx, "worker-a")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v, %v", claimed, err)
	}
	if claimed.ID() != job.ID() || claimed.Status() != entity.JobProcessing || claimed.WorkerID() != "worker-a" {
		t.Fatalf("claimed = %+v", claimed.Snapshot())
	}

	done, err := f.queue.Complete(ctx, job.ID(), "Foto de um tênis azul, tamanho 42.")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status() != entity.JobCompleted || done.CompletedAt() == nil {
		t.Errorf("job = %+v", done.Snapshot())
	}

	msg := f.message(t, "IMG-1")
	if msg.ProcessingStatus() != valueobject.ProcessingCompleted {
		t.Fatalf("message status = %s", msg.ProcessingStatus())
	}
	if r, _ := msg.Response(); r != "Foto de um tênis azul, tamanho 42." {
		t.Errorf("response = %q", r)
	}
	if len(f.sender.Sent()) != 1 {
		t.Errorf("sent = %v", f.sender.Sent())
	}
}

func TestJobQueue_EnqueueIdempotentPerMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")

	again, err := f.queue.Enqueue(ctx, "IMG-1", valueobject.ProcessorOCR)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID() != job.ID() {
		t.Error("second enqueue for the same message must return the existing job")
	}
	if _, err := f.queue.Enqueue(ctx, "missing", valueobject.ProcessorOCR); !apperrors.IsNotFound(err) {
		t.Errorf("enqueue for unknown message: %v", err)
	}
}

func TestJobQueue_ExclusiveClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		ingestImage(t, f, id)
	}

	var (
		mu     sync.Mutex
		owners = map[string]string{}
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			worker := usecase.WorkerID(w)
			for {
				job, err := f.queue.ClaimNext(ctx, worker)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, ok := owners[job.ID()]; ok {
					t.Errorf("job %s claimed by %s and %s", job.ID(), prev, worker)
				}
				owners[job.ID()] = worker
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	if len(owners) != 3 {
		t.Errorf("claimed %d jobs, want 3", len(owners))
	}
}

func TestJobQueue_StateConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")

	if _, err := f.queue.Complete(ctx, job.ID(), "x"); !errors.Is(err, entity.ErrJobStateConflict) {
		t.Errorf("complete from pending: %v", err)
	}
	if _, err := f.queue.Resubmit(ctx, job.ID()); !errors.Is(err, entity.ErrJobStateConflict) {
		t.Errorf("resubmit from pending: %v", err)
	}
	if _, err := f.queue.ClaimNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.Fail(ctx, job.ID(), "boom"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.Complete(ctx, job.ID(), "late"); !errors.Is(err, entity.ErrJobStateConflict) {
		t.Errorf("complete after fail: %v", err)
	}
}

func TestJobQueue_FailAndResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")

	if _, err := f.queue.ClaimNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.Fail(ctx, job.ID(), "download failed"); err != nil {
		t.Fatal(err)
	}
	msg := f.message(t, "IMG-1")
	if msg.ProcessingStatus() != valueobject.ProcessingFailed || msg.ErrorKind() != valueobject.ErrorKindJobFailed {
		t.Fatalf("status=%s kind=%s", msg.ProcessingStatus(), msg.ErrorKind())
	}

	resubmitted, err := f.queue.Resubmit(ctx, job.ID())
	if err != nil {
		t.Fatal(err)
	}
	if resubmitted.Status() != entity.JobPending {
		t.Errorf("job status = %s", resubmitted.Status())
	}
	if got := f.message(t, "IMG-1").ProcessingStatus(); got != valueobject.ProcessingProcessing {
		t.Errorf("message status after resubmit = %s", got)
	}
}

func TestJobQueue_SweepStuck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")
	if _, err := f.queue.ClaimNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}

	// nothing is older than an hour yet
	if n, err := f.queue.SweepStuck(ctx, time.Hour, 10); err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v", n, err)
	}
	n, err := f.queue.SweepStuck(ctx, -time.Second, 10)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	got, _ := f.queue.Get(ctx, job.ID())
	if got.Status() != entity.JobFailed || got.ErrorMessage() != usecase.ReasonTimeout {
		t.Errorf("job = %+v", got.Snapshot())
	}
	if kind := f.message(t, "IMG-1").ErrorKind(); kind != valueobject.ErrorKindTimeout {
		t.Errorf("message error kind = %s", kind)
	}
	if f.events.Count(entity.EventJobTimeout) != 1 {
		t.Error("expected a job.timeout event")
	}
}

func TestJobQueue_HumanSessionRecordsResultWithoutReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")

	if _, err := f.sessions.TransitionByNumber(ctx, "inst-1", contactNumber, entity.SessionHuman, "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.ClaimNext(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.Complete(ctx, job.ID(), "um recibo"); err != nil {
		t.Fatal(err)
	}
	if got := f.message(t, "IMG-1").ProcessingStatus(); got != valueobject.ProcessingCompleted {
		t.Errorf("status = %s", got)
	}
	if len(f.sender.Sent()) != 0 {
		t.Error("no reply should be sent while a human handles the session")
	}
}

// === JobWorker ===

func TestJobWorker_ProcessesWithRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ingestImage(t, f, "IMG-1")

	registry := service.NewMediaProcessorRegistry()
	registry.Register(valueobject.ProcessorVisionCaption, service.MediaProcessorFunc(
		func(_ context.Context, req service.MediaRequest) (string, error) {
			return "descrição de " + req.MediaRef, nil
		}))
	w := usecase.NewJobWorker("w-1", usecase.NewLocalJobSource(f.queue), registry, usecase.JobWorkerConfig{Timeout: time.Second}, zap.NewNop())

	processed, err := w.RunOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("RunOnce = %v, %v", processed, err)
	}
	r, _ := f.message(t, "IMG-1").Response()
	if !strings.HasPrefix(r, "descrição de https://cdn.example.com/IMG-1") {
		t.Errorf("response = %q", r)
	}

	processed, err = w.RunOnce(ctx)
	if err != nil || processed {
		t.Errorf("empty queue: %v, %v", processed, err)
	}
}

func TestJobWorker_TimeoutAbandonsProcessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := ingestImage(t, f, "IMG-1")

	registry := service.NewMediaProcessorRegistry()
	release := make(chan struct{})
	defer close(release)
	registry.Register(valueobject.ProcessorVisionCaption, service.MediaProcessorFunc(
		func(context.Context, service.MediaRequest) (string, error) {
			<-release // ignores cancellation
			return "too late", nil
		}))
	w := usecase.NewJobWorker("w-1", usecase.NewLocalJobSource(f.queue), registry, usecase.JobWorkerConfig{Timeout: 20 * time.Millisecond}, zap.NewNop())

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := f.queue.Get(ctx, job.ID())
	if got.Status() != entity.JobFailed || got.ErrorMessage() != usecase.ReasonTimeout {
		t.Errorf("job = %+v", got.Snapshot())
	}
}

func TestJobWorker_NoProcessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ingestImage(t, f, "IMG-1")

	w := usecase.NewJobWorker("w-1", usecase.NewLocalJobSource(f.queue), service.NewMediaProcessorRegistry(), usecase.JobWorkerConfig{}, zap.NewNop())
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if kind := f.message(t, "IMG-1").ErrorKind(); kind != valueobject.ErrorKindNoProcessor {
		t.Errorf("error kind = %s", kind)
	}
}

// strictSource 拒绝在已取消的 ctx 上提交结果，与数据库驱动行为一致
type strictSource struct {
	usecase.JobSource
}

func (s strictSource) Complete(ctx context.Context, jobID, result string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.JobSource.Complete(ctx, jobID, result)
}

func (s strictSource) Fail(ctx context.Context, jobID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.JobSource.Fail(ctx, jobID, reason)
}

func TestJobWorker_ShutdownSettlesClaimedJob(t *testing.T) {
	f := newFixture(t)
	job := ingestImage(t, f, "IMG-1")
	ctx, cancel := context.WithCancel(context.Background())

	registry := service.NewMediaProcessorRegistry()
	registry.Register(valueobject.ProcessorVisionCaption, service.MediaProcessorFunc(
		func(pctx context.Context, _ service.MediaRequest) (string, error) {
			cancel()
			<-pctx.Done()
			return "", pctx.Err()
		}))
	source := strictSource{usecase.NewLocalJobSource(f.queue)}
	w := usecase.NewJobWorker("w-1", source, registry, usecase.JobWorkerConfig{Timeout: time.Minute}, zap.NewNop())

	processed, err := w.RunOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("RunOnce = %v, %v", processed, err)
	}
	got, _ := f.queue.Get(context.Background(), job.ID())
	if got.Status() != entity.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status())
	}
	if got.ErrorMessage() != usecase.ReasonWorkerShutdown {
		t.Errorf("reason = %q, want %q", got.ErrorMessage(), usecase.ReasonWorkerShutdown)
	}
}
