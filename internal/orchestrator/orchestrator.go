// Package orchestrator wires the task engine together: it accepts
// conversation events, serializes them per conversation, dispatches them to
// the worker pool, and advances the dialogue phase machine when tasks
// complete. The only surface a thin HTTP layer needs is Submit, GetStatus
// and Cancel.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/engageai/engage-api/internal/config"
	"github.com/engageai/engage-api/internal/conversation"
	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/events"
	"github.com/engageai/engage-api/internal/store"
	"github.com/engageai/engage-api/internal/task"
	"github.com/google/uuid"
)

// ErrValidation is returned synchronously by Submit for malformed events.
// It is the only error surfaced at submission; everything later is recorded
// on the task record and observed via GetStatus.
var ErrValidation = errors.New("invalid event")

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	QueueDepths map[domain.QueueName]int `json:"queue_depths"`
	TaskStates  map[domain.TaskState]int `json:"task_states"`
}

// Orchestrator is the explicitly constructed engine instance: queue, store,
// lock manager and worker pool injected, so tests can run many independent
// instances.
type Orchestrator struct {
	taskCfg config.TaskConfig
	machine conversation.Machine

	taskStore task.Store
	convStore store.ConversationStore
	queue     task.Queue
	locks     *task.LockManager
	pool      *task.WorkerPool

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Orchestrator. metrics may be nil.
func New(
	cfg *config.Config,
	taskStore task.Store,
	convStore store.ConversationStore,
	queue task.Queue,
	executor task.Executor,
	metrics task.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	locks := task.NewLockManager()

	o := &Orchestrator{
		taskCfg:   cfg.Task,
		machine:   conversation.NewMachine(cfg.Conversation.DisengagedThreshold),
		taskStore: taskStore,
		convStore: convStore,
		queue:     queue,
		locks:     locks,
		logger:    logger.With("component", "orchestrator"),
	}

	o.pool = task.NewWorkerPool(
		queue,
		taskStore,
		locks,
		executor,
		task.Backoff{Base: cfg.Task.BackoffBase, Cap: cfg.Task.BackoffCap},
		task.WorkerPoolConfig{
			WorkerCount:     cfg.Task.WorkerCount,
			SoftTimeout:     cfg.Task.SoftTimeout,
			HardTimeout:     cfg.Task.HardTimeout,
			LeaseDuration:   cfg.Task.LeaseDuration,
			ContentionDelay: cfg.Task.BackoffBase,
		},
		metrics,
		o.onTaskComplete,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	o.ctx = ctx
	o.cancel = cancel

	return o
}

// Start recovers unfinished tasks from the store, launches the worker pool,
// and begins the maintenance loops.
func (o *Orchestrator) Start() error {
	if err := o.recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	o.pool.Start()

	o.wg.Add(2)
	go o.watchdog()
	go o.pruner()

	return nil
}

// Stop gracefully shuts the engine down.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.queue.Close()
	o.pool.Stop()
	o.wg.Wait()
}

// Submit validates the event, resolves its conversation, persists a task
// record, enqueues it at the lane for the event's category, and returns the
// task id without waiting for execution.
func (o *Orchestrator) Submit(ctx context.Context, ev *events.ConversationEvent) (uuid.UUID, error) {
	if err := o.validate(ev); err != nil {
		return uuid.Nil, err
	}

	key := uuid.NullUUID{}
	if ev.Kind != events.KindAnalyticsReport {
		conv, err := o.resolveConversation(ctx, ev)
		if err != nil {
			return uuid.Nil, err
		}
		// Stamp the resolved context into the payload so the executor
		// knows which strategy and phase apply.
		ev.ConversationID = conv.ID
		ev.Branch = conv.Branch
		ev.Phase = conv.Phase
		key = uuid.NullUUID{UUID: conv.ID, Valid: true}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: unserializable event: %v", ErrValidation, err)
	}

	rec, err := domain.NewTaskRecord(ev.Queue(), key, payload, o.taskCfg.MaxAttempts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := o.taskStore.Save(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save task: %w", err)
	}

	if err := o.queue.Enqueue(rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	o.logger.Info("task submitted",
		"task_id", rec.ID,
		"queue", rec.Queue,
		"event_kind", ev.Kind,
		"conversation_id", ev.ConversationID)

	return rec.ID, nil
}

// GetStatus returns a read-only snapshot of the task record, safe to poll.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID uuid.UUID) (*domain.TaskRecord, error) {
	return o.taskStore.GetByID(ctx, taskID)
}

// Cancel marks the task Cancelled if it has not started running. Returns
// whether cancellation took effect; cancelling a Running or terminal task is
// a no-op that returns false.
func (o *Orchestrator) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	cancelled, err := o.taskStore.MarkCancelled(ctx, taskID)
	if err != nil {
		return false, err
	}
	if cancelled {
		o.logger.Info("task cancelled", "task_id", taskID)
	}
	return cancelled, nil
}

// GetConversation returns a snapshot of the conversation.
func (o *Orchestrator) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return o.convStore.GetByID(ctx, id)
}

// Stats reports per-lane queue depths and per-state task counts.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	states, err := o.taskStore.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		QueueDepths: o.queue.Depths(),
		TaskStates:  states,
	}, nil
}

// HandleEvent implements events.EventHandler so upstream ingestion layers
// can feed the orchestrator through an emitter.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *events.ConversationEvent) error {
	_, err := o.Submit(ctx, ev)
	return err
}

func (o *Orchestrator) validate(ev *events.ConversationEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if !events.IsValidKind(ev.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, ev.Kind)
	}
	if ev.Kind == events.KindCustomerMessage && ev.Message == "" {
		return fmt.Errorf("%w: customer message requires a message body", ErrValidation)
	}
	if ev.Branch != "" && !domain.IsValidBranch(ev.Branch) {
		return fmt.Errorf("%w: unknown branch %q", ErrValidation, ev.Branch)
	}
	if ev.Kind != events.KindAnalyticsReport && ev.ConversationID == uuid.Nil {
		if ev.CustomerID == uuid.Nil || ev.BusinessID == uuid.Nil {
			return fmt.Errorf("%w: new conversations require customer and business IDs", ErrValidation)
		}
	}
	return nil
}

// resolveConversation loads the referenced conversation or creates a new
// one. Events referencing a conversation already in a terminal phase start
// fresh bookkeeping: a new conversation for the same customer and business,
// leaving the old record closed.
func (o *Orchestrator) resolveConversation(ctx context.Context, ev *events.ConversationEvent) (*domain.Conversation, error) {
	if ev.ConversationID != uuid.Nil {
		conv, err := o.convStore.GetByID(ctx, ev.ConversationID)
		if err != nil {
			if store.IsNotFoundError(err) {
				return nil, fmt.Errorf("%w: unknown conversation %s", ErrValidation, ev.ConversationID)
			}
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}

		if !conv.Phase.Terminal() {
			return conv, nil
		}

		fresh, err := domain.NewConversation(conv.CustomerID, conv.BusinessID, conv.Branch)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := o.convStore.Create(ctx, fresh); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		o.logger.Info("started fresh conversation after terminal phase",
			"previous_conversation_id", conv.ID,
			"conversation_id", fresh.ID,
			"previous_phase", conv.Phase)
		return fresh, nil
	}

	branch := ev.Branch
	if branch == "" {
		// Ad interactions are product-led by definition; everything else
		// starts with needs assessment.
		if ev.Kind == events.KindAdInteraction {
			branch = domain.BranchManipulator
		} else {
			branch = domain.BranchConvincer
		}
	}

	conv, err := domain.NewConversation(ev.CustomerID, ev.BusinessID, branch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := o.convStore.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	o.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"branch", conv.Branch,
		"customer_id", conv.CustomerID)

	return conv, nil
}

// onTaskComplete is invoked by the worker pool when a task reaches a
// terminal state. Successful conversation-lane tasks advance the phase
// machine; everything else only refreshes activity bookkeeping.
func (o *Orchestrator) onTaskComplete(ctx context.Context, rec *domain.TaskRecord, outcome domain.Outcome) {
	if !rec.ConversationKey.Valid {
		return
	}

	conv, err := o.convStore.GetByID(ctx, rec.ConversationKey.UUID)
	if err != nil {
		o.logger.Error("failed to load conversation after task completion",
			"task_id", rec.ID,
			"conversation_id", rec.ConversationKey.UUID,
			"error", err)
		return
	}

	conv.LastActivityAt = time.Now().UTC()

	// Only a successful conversation-lane exchange is a dialogue turn.
	// Webhook and analytics tasks touch the conversation without adding to
	// its message count, and dead-lettered work produced no exchange.
	if rec.State == domain.TaskStateSucceeded && rec.Queue == domain.QueueConversations {
		conv.MessageCount++
		decision := o.machine.Transition(
			conv.Phase,
			conv.Branch,
			outcome,
			conv.MessageCount,
			conv.ConsecutiveDisengaged,
		)

		if decision.Phase != conv.Phase {
			o.logger.Info("conversation phase advanced",
				"conversation_id", conv.ID,
				"from", conv.Phase,
				"to", decision.Phase,
				"outcome", outcome,
				"recommended_action", decision.Action)
		}

		conv.Phase = decision.Phase
		conv.ConsecutiveDisengaged = decision.ConsecutiveDisengaged
	}

	if err := o.convStore.Update(ctx, conv); err != nil {
		o.logger.Error("failed to persist conversation after task completion",
			"task_id", rec.ID,
			"conversation_id", conv.ID,
			"error", err)
	}
}

// recover re-enqueues work left over from a previous run: Queued and
// Retrying records go straight back on the queue, and Running records
// orphaned by a crash are reset through the retry path.
func (o *Orchestrator) recover() error {
	ctx := context.Background()

	for _, state := range []domain.TaskState{domain.TaskStateQueued, domain.TaskStateRetrying} {
		recs, err := o.taskStore.ListByState(ctx, state)
		if err != nil {
			return fmt.Errorf("failed to list %s tasks: %w", state, err)
		}
		for _, rec := range recs {
			if err := o.queue.Enqueue(rec); err != nil {
				o.logger.Error("failed to requeue task during recovery",
					"task_id", rec.ID,
					"error", err)
			}
		}
		if len(recs) > 0 {
			o.logger.Info("requeued unfinished tasks", "state", state, "count", len(recs))
		}
	}

	running, err := o.taskStore.ListByState(ctx, domain.TaskStateRunning)
	if err != nil {
		return fmt.Errorf("failed to list running tasks: %w", err)
	}
	for _, rec := range running {
		o.resetOrphan(ctx, rec, "reset after restart")
	}

	return nil
}

// watchdog periodically reclaims tasks stuck in Running, the recovery path
// for a worker that died without finalizing its task. The lease on the
// conversation lock expires on its own schedule.
func (o *Orchestrator) watchdog() {
	defer o.wg.Done()

	interval := o.taskCfg.HardTimeout
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.reclaimStuck()
		}
	}
}

func (o *Orchestrator) reclaimStuck() {
	ctx := context.Background()

	running, err := o.taskStore.ListByState(ctx, domain.TaskStateRunning)
	if err != nil {
		o.logger.Error("failed to check for stuck tasks", "error", err)
		return
	}

	cutoff := time.Now().UTC().Add(-2 * o.taskCfg.HardTimeout)
	for _, rec := range running {
		if rec.StartedAt == nil || rec.StartedAt.After(cutoff) {
			continue
		}
		o.logger.Warn("reclaiming stuck task",
			"task_id", rec.ID,
			"started_at", rec.StartedAt)
		o.resetOrphan(ctx, rec, "reset after being stuck in running state")
	}
}

// resetOrphan routes an orphaned Running record through the normal retry
// accounting: back on the queue while attempts remain, dead-lettered
// otherwise.
func (o *Orchestrator) resetOrphan(ctx context.Context, rec *domain.TaskRecord, reason string) {
	if rec.Attempt >= rec.MaxAttempts {
		if err := o.taskStore.MarkDeadLettered(ctx, rec.ID, reason); err != nil {
			o.logger.Error("failed to dead-letter orphaned task",
				"task_id", rec.ID,
				"error", err)
		}
		return
	}

	if err := o.taskStore.MarkRetrying(ctx, rec.ID, reason); err != nil {
		o.logger.Error("failed to reset orphaned task",
			"task_id", rec.ID,
			"error", err)
		return
	}
	if err := o.queue.Enqueue(rec); err != nil {
		o.logger.Error("failed to requeue orphaned task",
			"task_id", rec.ID,
			"error", err)
	}
}

// pruner removes terminal task records past the retention window.
func (o *Orchestrator) pruner() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.taskCfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			pruned, err := o.taskStore.PruneTerminal(context.Background(), o.taskCfg.Retention)
			if err != nil {
				o.logger.Error("failed to prune terminal tasks", "error", err)
				continue
			}
			if pruned > 0 {
				o.logger.Info("pruned terminal tasks", "count", pruned)
			}
		}
	}
}
