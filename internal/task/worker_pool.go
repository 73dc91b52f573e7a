package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/store"
	"github.com/google/uuid"
)

// CompletionFunc is invoked once per task reaching a terminal state, with a
// snapshot of the final record. outcome is only meaningful for Succeeded
// tasks.
type CompletionFunc func(ctx context.Context, rec *domain.TaskRecord, outcome domain.Outcome)

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, defaults to 1.
	WorkerCount int

	// SoftTimeout is logged when exceeded; the execution continues.
	SoftTimeout time.Duration

	// HardTimeout aborts the execution and counts as a transient failure.
	HardTimeout time.Duration

	// LeaseDuration bounds conversation lock ownership.
	LeaseDuration time.Duration

	// ContentionDelay is how long a task parks before re-enqueueing when its
	// conversation lock is held by another task.
	ContentionDelay time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:     4,
		SoftTimeout:     240 * time.Second,
		HardTimeout:     300 * time.Second,
		LeaseDuration:   5 * time.Minute,
		ContentionDelay: 100 * time.Millisecond,
	}
}

// WorkerPool manages a fixed pool of worker goroutines that dequeue tasks,
// serialize them per conversation, execute them with retry accounting, and
// finalize their records.
type WorkerPool struct {
	queue      Queue
	taskStore  Store
	locks      *LockManager
	executor   Executor
	backoff    Backoff
	config     WorkerPoolConfig
	metrics    Metrics
	onComplete CompletionFunc

	logger *slog.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// timerWG tracks pending retry/contention timers so Stop can wait for
	// their re-enqueues instead of racing them.
	timerWG sync.WaitGroup
}

// NewWorkerPool creates a worker pool. metrics and onComplete may be nil.
func NewWorkerPool(
	queue Queue,
	taskStore Store,
	locks *LockManager,
	executor Executor,
	backoff Backoff,
	config WorkerPoolConfig,
	metrics Metrics,
	onComplete CompletionFunc,
	logger *slog.Logger,
) *WorkerPool {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.ContentionDelay <= 0 {
		config.ContentionDelay = 100 * time.Millisecond
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if onComplete == nil {
		onComplete = func(context.Context, *domain.TaskRecord, domain.Outcome) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:      queue,
		taskStore:  taskStore,
		locks:      locks,
		executor:   executor,
		backoff:    backoff,
		config:     config,
		metrics:    metrics,
		onComplete: onComplete,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight tasks and pending retry
// timers to settle.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.timerWG.Wait()
}

// worker pulls tasks from the queue until the pool shuts down.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		rec, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		}

		p.processTask(rec, id)
	}
}

// processTask handles one dequeued task through to a terminal state, a
// retry park, or a contention re-enqueue.
func (p *WorkerPool) processTask(queued *domain.TaskRecord, workerID int) {
	ctx := p.ctx
	logger := p.logger.With(
		"task_id", queued.ID,
		"queue", queued.Queue,
		"worker_id", workerID,
	)

	// The queued record may be stale; the store holds the truth. A task
	// cancelled while waiting in the queue is skipped here, never executed.
	rec, err := p.taskStore.GetByID(ctx, queued.ID)
	if err != nil {
		logger.Error("failed to load task before execution", "error", err)
		return
	}
	if rec.State != domain.TaskStateQueued && rec.State != domain.TaskStateRetrying {
		// A retrying task keeps its conversation lease across the backoff;
		// if it was cancelled while parked, the lease must not linger until
		// expiry. Release is owner-checked, so this is a no-op for tasks
		// that never held the lease.
		p.releaseLock(rec)
		logger.Debug("skipping task no longer runnable", "state", rec.State)
		return
	}

	if rec.ConversationKey.Valid {
		if !p.locks.TryAcquire(rec.ConversationKey.UUID, rec.ID, p.config.LeaseDuration) {
			logger.Debug("conversation lock contended, re-enqueueing",
				"conversation_key", rec.ConversationKey.UUID)
			p.metrics.LockContended(rec.Queue)
			p.requeueAfter(rec, p.config.ContentionDelay)
			return
		}
	}

	running, err := p.taskStore.MarkRunning(ctx, rec.ID)
	if err != nil {
		// Raced with a cancellation; drop the lock and move on.
		if errors.Is(err, store.ErrStaleState) {
			p.releaseLock(rec)
			logger.Debug("task state changed before execution", "error", err)
			return
		}
		p.releaseLock(rec)
		logger.Error("failed to mark task running", "error", err)
		return
	}
	p.metrics.TaskStateChanged(domain.TaskStateRunning)

	logger.Info("processing task", "attempt", running.Attempt, "max_attempts", running.MaxAttempts)

	result, outcome, execErr := p.execute(running)

	if execErr == nil {
		if err := p.taskStore.MarkSucceeded(ctx, running.ID, result); err != nil {
			logger.Error("failed to mark task succeeded", "error", err)
		}
		p.metrics.TaskStateChanged(domain.TaskStateSucceeded)
		p.releaseLock(running)
		logger.Info("task completed successfully", "outcome", outcome)
		p.complete(ctx, running.ID, outcome)
		return
	}

	p.handleFailure(ctx, running, execErr, logger)
}

// execute runs the executor under the soft/hard timeout wrapper. The hard
// limit is enforced here with a deadline and a watchdog select, never by
// killing the worker goroutine: a call that ignores its context keeps
// running but its eventual result is discarded.
func (p *WorkerPool) execute(rec *domain.TaskRecord) (string, domain.Outcome, error) {
	execCtx, cancel := context.WithTimeout(p.ctx, p.config.HardTimeout)
	defer cancel()

	soft := time.AfterFunc(p.config.SoftTimeout, func() {
		p.logger.Warn("task exceeded soft timeout, allowing it to continue",
			"task_id", rec.ID,
			"soft_timeout", p.config.SoftTimeout)
	})
	defer soft.Stop()

	type execResult struct {
		result  string
		outcome domain.Outcome
		err     error
	}

	done := make(chan execResult, 1)
	go func() {
		result, outcome, err := p.executor.Execute(execCtx, rec)
		done <- execResult{result: result, outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return "", "", fmt.Errorf("%w: %v", ErrHardTimeout, r.err)
		}
		return r.result, r.outcome, r.err
	case <-execCtx.Done():
		return "", "", fmt.Errorf("%w after %s", ErrHardTimeout, p.config.HardTimeout)
	}
}

// handleFailure applies the retry policy to a failed execution.
func (p *WorkerPool) handleFailure(ctx context.Context, rec *domain.TaskRecord, execErr error, logger *slog.Logger) {
	class := Classify(execErr)
	if class == ClassTimeout {
		p.metrics.TaskTimedOut(rec.Queue)
	}

	retryable := class != ClassPermanent && rec.Attempt < rec.MaxAttempts
	if !retryable {
		if err := p.taskStore.MarkDeadLettered(ctx, rec.ID, execErr.Error()); err != nil {
			logger.Error("failed to dead-letter task", "error", err)
		}
		p.metrics.TaskStateChanged(domain.TaskStateDeadLettered)
		p.releaseLock(rec)
		logger.Error("task dead-lettered",
			"error", execErr,
			"attempt", rec.Attempt,
			"permanent", class == ClassPermanent)
		p.complete(ctx, rec.ID, "")
		return
	}

	if err := p.taskStore.MarkRetrying(ctx, rec.ID, execErr.Error()); err != nil {
		logger.Error("failed to mark task retrying", "error", err)
		p.releaseLock(rec)
		return
	}
	p.metrics.TaskStateChanged(domain.TaskStateRetrying)
	p.metrics.TaskRetried(rec.Queue)

	delay := p.backoff.Next(rec.Attempt)
	logger.Warn("task failed transiently, scheduling retry",
		"error", execErr,
		"attempt", rec.Attempt,
		"max_attempts", rec.MaxAttempts,
		"retry_in", delay)

	// The conversation lease is deliberately retained across the backoff:
	// releasing it would let a later task for the same conversation overtake
	// this one. Re-entry on the next attempt renews it.
	p.requeueAfter(rec, delay)
}

// requeueAfter parks the task on a timer and re-enqueues it. The worker
// returns to the pool immediately; the delay suspends only the task.
func (p *WorkerPool) requeueAfter(rec *domain.TaskRecord, delay time.Duration) {
	p.timerWG.Add(1)
	time.AfterFunc(delay, func() {
		defer p.timerWG.Done()
		if err := p.queue.Enqueue(rec); err != nil {
			p.logger.Error("failed to re-enqueue task",
				"task_id", rec.ID,
				"error", err)
		}
	})
}

func (p *WorkerPool) releaseLock(rec *domain.TaskRecord) {
	if rec.ConversationKey.Valid {
		p.locks.Release(rec.ConversationKey.UUID, rec.ID)
	}
}

func (p *WorkerPool) complete(ctx context.Context, id uuid.UUID, outcome domain.Outcome) {
	final, err := p.taskStore.GetByID(ctx, id)
	if err != nil {
		p.logger.Error("failed to load task for completion callback",
			"task_id", id,
			"error", err)
		return
	}
	p.onComplete(ctx, final, outcome)
}
