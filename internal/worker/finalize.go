// Package worker runs setup handshakes in the background so HTTP requests
// return immediately with a job id that clients poll.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/mtlprog/agentdeploy/internal/service"
)

// DefaultMaxConcurrent bounds simultaneous handshakes.
const DefaultMaxConcurrent = 4

// Finalizer runs the setup handshake in two phases. *service.AgentService satisfies it.
type Finalizer interface {
	PrepareFinalize(ctx context.Context, ownerID, agentID string) (*service.FinalizePlan, error)
	RunFinalize(ctx context.Context, plan *service.FinalizePlan) (*domain.Agent, error)
}

// JobRecorder observes finished jobs. *metrics.Metrics satisfies it.
type JobRecorder interface {
	FinalizeJob(status string, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) FinalizeJob(string, time.Duration) {}

// FinalizeWorker runs finalize jobs on goroutines bound to its own lifetime,
// not to the request that submitted them.
type FinalizeWorker struct {
	finalizer Finalizer
	jobs      JobStore
	sem       *semaphore.Weighted
	metrics   JobRecorder
	now       func() time.Time

	// submitMu serializes the active-job check with job creation.
	submitMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFinalizeWorker creates a FinalizeWorker. recorder may be nil.
func NewFinalizeWorker(finalizer Finalizer, jobs JobStore, maxConcurrent int, recorder JobRecorder) *FinalizeWorker {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FinalizeWorker{
		finalizer: finalizer,
		jobs:      jobs,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		metrics:   recorder,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit validates the agent synchronously and starts a finalize job.
// If the agent already has an active job, that job is returned instead.
func (w *FinalizeWorker) Submit(ctx context.Context, ownerID, agentID string) (*domain.FinalizeJob, error) {
	plan, err := w.finalizer.PrepareFinalize(ctx, ownerID, agentID)
	if err != nil {
		return nil, err
	}

	w.submitMu.Lock()
	defer w.submitMu.Unlock()

	if err := w.ctx.Err(); err != nil {
		return nil, fmt.Errorf("finalize worker stopped: %w", err)
	}

	active, err := w.jobs.ActiveForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("check active job: %w", err)
	}
	if active != nil {
		slog.Info("finalize job already active", "job_id", active.ID, "agent_id", agentID)
		return active, nil
	}

	now := w.now().UTC()
	job := &domain.FinalizeJob{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		OwnerID:   ownerID,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	w.wg.Add(1)
	submitted := *job
	go w.run(job, plan)

	slog.Info("finalize job submitted", "job_id", job.ID, "agent_id", agentID)
	return &submitted, nil
}

// Get returns one of the owner's jobs.
func (w *FinalizeWorker) Get(ctx context.Context, ownerID, jobID string) (*domain.FinalizeJob, error) {
	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (w *FinalizeWorker) run(job *domain.FinalizeJob, plan *service.FinalizePlan) {
	defer w.wg.Done()
	start := w.now()

	if err := w.sem.Acquire(w.ctx, 1); err != nil {
		w.finish(job, nil, fmt.Errorf("finalize worker stopped: %w", err), start)
		return
	}
	defer w.sem.Release(1)

	job.Status = domain.JobRunning
	w.save(job)

	agent, err := w.finalizer.RunFinalize(w.ctx, plan)
	w.finish(job, agent, err, start)
}

func (w *FinalizeWorker) finish(job *domain.FinalizeJob, agent *domain.Agent, err error, start time.Time) {
	took := w.now().Sub(start)
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		slog.Error("finalize job failed",
			"job_id", job.ID,
			"agent_id", job.AgentID,
			"duration", took,
			"error", err,
		)
	} else {
		job.Status = domain.JobSucceeded
		if agent != nil && agent.Endpoint != nil {
			job.Endpoint = *agent.Endpoint
		}
		slog.Info("finalize job succeeded",
			"job_id", job.ID,
			"agent_id", job.AgentID,
			"duration", took,
		)
	}
	w.save(job)
	w.metrics.FinalizeJob(string(job.Status), took)
}

// save stores job progress even after shutdown began.
func (w *FinalizeWorker) save(job *domain.FinalizeJob) {
	job.UpdatedAt = w.now().UTC()
	if err := w.jobs.Save(context.WithoutCancel(w.ctx), job); err != nil {
		slog.Error("failed to save finalize job", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

// Shutdown cancels running handshakes and waits for their goroutines to exit.
func (w *FinalizeWorker) Shutdown(ctx context.Context) error {
	w.submitMu.Lock()
	w.cancel()
	w.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for finalize jobs: %w", ctx.Err())
	}
}
