package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/engageai/engage-api/internal/domain"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("task queue is closed")

const laneCount = 3

// LaneQueue is the bundled in-memory Queue implementation: three FIFO lanes
// with strict priority at the dispatch point. Enqueue never blocks and the
// lanes grow without bound; dropping customer messages is worse than using
// memory.
type LaneQueue struct {
	mu     sync.Mutex
	lanes  [laneCount][]*domain.TaskRecord
	wake   chan struct{}
	closed bool
	logger *slog.Logger
}

// NewLaneQueue creates a LaneQueue. The initial capacity hint sizes each
// lane's backing slice.
func NewLaneQueue(sizeHint int, logger *slog.Logger) *LaneQueue {
	if sizeHint < 1 {
		sizeHint = 1
	}

	q := &LaneQueue{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
	for i := range q.lanes {
		q.lanes[i] = make([]*domain.TaskRecord, 0, sizeHint)
	}
	return q
}

// Enqueue appends the task to the tail of its lane. Never blocks.
func (q *LaneQueue) Enqueue(rec *domain.TaskRecord) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	lane := domain.LaneForQueue(rec.Queue)
	q.lanes[lane] = append(q.lanes[lane], rec)
	q.mu.Unlock()

	q.logger.Debug("task enqueued",
		"task_id", rec.ID,
		"queue", rec.Queue,
		"lane", lane)

	q.signal()
	return nil
}

// Dequeue returns the head of the highest-priority non-empty lane, blocking
// until work is available or ctx is cancelled.
func (q *LaneQueue) Dequeue(ctx context.Context) (*domain.TaskRecord, error) {
	for {
		q.mu.Lock()
		for lane := 0; lane < laneCount; lane++ {
			if len(q.lanes[lane]) == 0 {
				continue
			}

			rec := q.lanes[lane][0]
			q.lanes[lane] = q.lanes[lane][1:]
			remaining := q.pendingLocked()
			q.mu.Unlock()

			// Wake the next waiter if work remains; the wake channel
			// coalesces signals, so one Enqueue may represent many tasks.
			if remaining > 0 {
				q.signal()
			}
			return rec, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// Depths reports the number of waiting tasks per lane.
func (q *LaneQueue) Depths() map[domain.QueueName]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return map[domain.QueueName]int{
		domain.QueueConversations: len(q.lanes[0]),
		domain.QueueWebhooks:      len(q.lanes[1]),
		domain.QueueAnalytics:     len(q.lanes[2]),
	}
}

// Close rejects further enqueues.
func (q *LaneQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.logger.Info("task queue closed")
	}
}

func (q *LaneQueue) pendingLocked() int {
	n := 0
	for lane := range q.lanes {
		n += len(q.lanes[lane])
	}
	return n
}

func (q *LaneQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
