package task

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMetrics counts observations for assertions.
type recordingMetrics struct {
	mu          sync.Mutex
	stateCounts map[domain.TaskState]int
	retries     int
	timeouts    int
	contention  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{stateCounts: make(map[domain.TaskState]int)}
}

func (m *recordingMetrics) TaskStateChanged(state domain.TaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCounts[state]++
}

func (m *recordingMetrics) TaskRetried(domain.QueueName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) TaskTimedOut(domain.QueueName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *recordingMetrics) LockContended(domain.QueueName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contention++
}

type poolHarness struct {
	store *MemoryStore
	queue *LaneQueue
	locks *LockManager
	pool  *WorkerPool

	metrics *recordingMetrics

	mu        sync.Mutex
	completed []*domain.TaskRecord
}

// newPoolHarness builds a running-ready pool around the given executor with
// fast retry timing.
func newPoolHarness(t *testing.T, workers int, executor Executor) *poolHarness {
	t.Helper()

	h := &poolHarness{
		store:   NewMemoryStore(),
		queue:   NewLaneQueue(8, testLogger()),
		locks:   NewLockManager(),
		metrics: newRecordingMetrics(),
	}

	cfg := WorkerPoolConfig{
		WorkerCount:     workers,
		SoftTimeout:     time.Second,
		HardTimeout:     2 * time.Second,
		LeaseDuration:   time.Minute,
		ContentionDelay: 2 * time.Millisecond,
	}
	backoff := Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond}

	h.pool = NewWorkerPool(h.queue, h.store, h.locks, executor, backoff, cfg, h.metrics,
		func(ctx context.Context, rec *domain.TaskRecord, outcome domain.Outcome) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.completed = append(h.completed, rec)
		}, testLogger())

	t.Cleanup(h.pool.Stop)
	return h
}

func (h *poolHarness) submit(t *testing.T, key uuid.NullUUID, maxAttempts int) *domain.TaskRecord {
	t.Helper()
	rec, err := domain.NewTaskRecord(domain.QueueConversations, key, json.RawMessage(`{}`), maxAttempts)
	require.NoError(t, err)
	require.NoError(t, h.store.Save(context.Background(), rec))
	require.NoError(t, h.queue.Enqueue(rec))
	return rec
}

func (h *poolHarness) waitForState(t *testing.T, id uuid.UUID, want domain.TaskState) *domain.TaskRecord {
	t.Helper()
	var final *domain.TaskRecord
	require.Eventually(t, func() bool {
		rec, err := h.store.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		final = rec
		return rec.State == want
	}, 5*time.Second, 5*time.Millisecond, "task never reached %s", want)
	return final
}

func TestWorkerPoolSuccess(t *testing.T) {
	t.Parallel()

	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		return "replied", domain.OutcomeEngaged, nil
	})

	key := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	h := newPoolHarness(t, 2, executor)
	rec := h.submit(t, key, 3)
	h.pool.Start()

	final := h.waitForState(t, rec.ID, domain.TaskStateSucceeded)
	assert.Equal(t, "replied", final.Result)
	assert.Equal(t, 1, final.Attempt)
	require.NotNil(t, final.CompletedAt)

	_, held := h.locks.Holder(key.UUID)
	assert.False(t, held, "lock must be released on success")

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.completed) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPoolRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		if calls.Add(1) < 3 {
			return "", "", Transient(assert.AnError)
		}
		return "third time lucky", domain.OutcomeNeutral, nil
	})

	h := newPoolHarness(t, 1, executor)
	rec := h.submit(t, uuid.NullUUID{UUID: uuid.New(), Valid: true}, 3)
	h.pool.Start()

	final := h.waitForState(t, rec.ID, domain.TaskStateSucceeded)
	assert.Equal(t, 3, final.Attempt)
	assert.Equal(t, "third time lucky", final.Result)

	h.metrics.mu.Lock()
	assert.Equal(t, 2, h.metrics.retries)
	h.metrics.mu.Unlock()
}

func TestWorkerPoolDeadLettersPermanentFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		calls.Add(1)
		return "", "", Permanent(assert.AnError)
	})

	key := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	h := newPoolHarness(t, 1, executor)
	rec := h.submit(t, key, 3)
	h.pool.Start()

	final := h.waitForState(t, rec.ID, domain.TaskStateDeadLettered)
	assert.Equal(t, 1, final.Attempt, "permanent failures must not be retried")
	assert.Contains(t, final.Error, "permanent task error")
	assert.Equal(t, int32(1), calls.Load())

	_, held := h.locks.Holder(key.UUID)
	assert.False(t, held, "lock must be released on dead-letter")
}

func TestWorkerPoolDeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		return "", "", Transient(assert.AnError)
	})

	h := newPoolHarness(t, 1, executor)
	rec := h.submit(t, uuid.NullUUID{UUID: uuid.New(), Valid: true}, 2)
	h.pool.Start()

	final := h.waitForState(t, rec.ID, domain.TaskStateDeadLettered)
	assert.Equal(t, 2, final.Attempt)
}

func TestWorkerPoolSkipsCancelledTask(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		calls.Add(1)
		return "", domain.OutcomeNeutral, nil
	})

	h := newPoolHarness(t, 1, executor)
	rec := h.submit(t, uuid.NullUUID{}, 3)

	cancelled, err := h.store.MarkCancelled(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	h.pool.Start()

	// The queued entry is stale; the worker must drop it without running.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	final, err := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCancelled, final.State)
}

func TestWorkerPoolReleasesLeaseOfTaskCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		calls.Add(1)
		return "", "", Transient(assert.AnError)
	})

	h := &poolHarness{
		store:   NewMemoryStore(),
		queue:   NewLaneQueue(8, testLogger()),
		locks:   NewLockManager(),
		metrics: newRecordingMetrics(),
	}
	cfg := WorkerPoolConfig{
		WorkerCount:     1,
		SoftTimeout:     time.Second,
		HardTimeout:     2 * time.Second,
		LeaseDuration:   time.Minute,
		ContentionDelay: 2 * time.Millisecond,
	}
	// Backoff long enough to cancel the task while it is parked.
	h.pool = NewWorkerPool(h.queue, h.store, h.locks, executor,
		Backoff{Base: 200 * time.Millisecond, Cap: 200 * time.Millisecond}, cfg, h.metrics, nil, testLogger())
	t.Cleanup(h.pool.Stop)

	key := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	rec := h.submit(t, key, 3)
	h.pool.Start()

	h.waitForState(t, rec.ID, domain.TaskStateRetrying)

	// The lease is retained across the backoff so no later task overtakes.
	holder, held := h.locks.Holder(key.UUID)
	require.True(t, held)
	require.Equal(t, rec.ID, holder)

	cancelled, err := h.store.MarkCancelled(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	// When the retry timer fires the worker skips the cancelled task; the
	// lease must go with it, not linger until expiry.
	require.Eventually(t, func() bool {
		_, held := h.locks.Holder(key.UUID)
		return !held
	}, 5*time.Second, 5*time.Millisecond, "lease still held after cancelled retry was skipped")

	assert.Equal(t, int32(1), calls.Load())

	final, err := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCancelled, final.State)
}

func TestWorkerPoolHardTimeout(t *testing.T) {
	t.Parallel()

	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		// Ignores ctx entirely; the pool must cut it off.
		time.Sleep(500 * time.Millisecond)
		return "too late", domain.OutcomeNeutral, nil
	})

	h := &poolHarness{
		store:   NewMemoryStore(),
		queue:   NewLaneQueue(8, testLogger()),
		locks:   NewLockManager(),
		metrics: newRecordingMetrics(),
	}
	cfg := WorkerPoolConfig{
		WorkerCount:     1,
		SoftTimeout:     10 * time.Millisecond,
		HardTimeout:     50 * time.Millisecond,
		LeaseDuration:   time.Minute,
		ContentionDelay: 2 * time.Millisecond,
	}
	h.pool = NewWorkerPool(h.queue, h.store, h.locks, executor,
		Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond}, cfg, h.metrics, nil, testLogger())
	t.Cleanup(h.pool.Stop)

	rec := h.submit(t, uuid.NullUUID{}, 1)
	h.pool.Start()

	final := h.waitForState(t, rec.ID, domain.TaskStateDeadLettered)
	assert.Contains(t, final.Error, "hard timeout")

	h.metrics.mu.Lock()
	assert.GreaterOrEqual(t, h.metrics.timeouts, 1)
	h.metrics.mu.Unlock()
}

func TestWorkerPoolSerializesPerConversation(t *testing.T) {
	t.Parallel()

	key := uuid.New()
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	executor := ExecutorFunc(func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok", domain.OutcomeNeutral, nil
	})

	h := newPoolHarness(t, 4, executor)
	nullKey := uuid.NullUUID{UUID: key, Valid: true}
	first := h.submit(t, nullKey, 3)
	second := h.submit(t, nullKey, 3)
	third := h.submit(t, nullKey, 3)
	h.pool.Start()

	h.waitForState(t, first.ID, domain.TaskStateSucceeded)
	h.waitForState(t, second.ID, domain.TaskStateSucceeded)
	h.waitForState(t, third.ID, domain.TaskStateSucceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "tasks for one conversation must never overlap")

	h.metrics.mu.Lock()
	assert.GreaterOrEqual(t, h.metrics.contention, 1, "later tasks should have hit the lock at least once")
	h.metrics.mu.Unlock()
}
