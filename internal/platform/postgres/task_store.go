package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/platform/logger"
	"github.com/engageai/engage-api/internal/store"
	"github.com/engageai/engage-api/internal/task"
	"github.com/google/uuid"
)

// TaskStore implements the task.Store interface using PostgreSQL. Every
// lifecycle transition is a single UPDATE guarded by the allowed source
// states, so a lost race surfaces as store.ErrStaleState rather than a
// double transition.
type TaskStore struct {
	db store.DBTX
}

// Compile-time check that TaskStore implements task.Store.
var _ task.Store = (*TaskStore)(nil)

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, queue, conversation_id, payload, state, attempt,
	max_attempts, result, error, created_at, started_at, completed_at`

// Save persists a new task record.
func (s *TaskStore) Save(ctx context.Context, rec *domain.TaskRecord) error {
	log := logger.FromContext(ctx)

	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, queue, conversation_id, payload, state, attempt,
			max_attempts, result, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Queue,
		rec.ConversationKey,
		[]byte(rec.Payload),
		rec.State,
		rec.Attempt,
		rec.MaxAttempts,
		rec.Result,
		rec.Error,
		rec.CreatedAt,
		nullTime(rec.StartedAt),
		nullTime(rec.CompletedAt),
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", rec.ID,
			"queue", rec.Queue,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetByID returns a snapshot of the task record.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	rec, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		return nil, MapError(err)
	}

	return rec, nil
}

// MarkRunning transitions Queued or Retrying to Running, increments the
// attempt counter and stamps StartedAt.
func (s *TaskStore) MarkRunning(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	query := `
		UPDATE tasks
		SET state = $1, attempt = attempt + 1, started_at = $2
		WHERE id = $3 AND state IN ($4, $5)
		RETURNING ` + taskColumns

	rec, err := scanTask(s.db.QueryRowContext(ctx, query,
		domain.TaskStateRunning,
		time.Now().UTC(),
		id,
		domain.TaskStateQueued,
		domain.TaskStateRetrying,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.casFailure(ctx, id)
		}
		return nil, MapError(err)
	}

	return rec, nil
}

// MarkSucceeded transitions Running to Succeeded and records the result.
func (s *TaskStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result string) error {
	query := `
		UPDATE tasks
		SET state = $1, result = $2, error = '', completed_at = $3
		WHERE id = $4 AND state = $5
	`

	return s.casExec(ctx, id, query,
		domain.TaskStateSucceeded,
		result,
		time.Now().UTC(),
		id,
		domain.TaskStateRunning,
	)
}

// MarkRetrying transitions Running to Retrying and records the error.
func (s *TaskStore) MarkRetrying(ctx context.Context, id uuid.UUID, taskErr string) error {
	query := `
		UPDATE tasks
		SET state = $1, error = $2
		WHERE id = $3 AND state = $4
	`

	return s.casExec(ctx, id, query,
		domain.TaskStateRetrying,
		taskErr,
		id,
		domain.TaskStateRunning,
	)
}

// MarkDeadLettered transitions Running through Failed to DeadLettered and
// records the error. The intermediate Failed state is not persisted; the
// guard accepts it so an instance that crashed mid-transition can finish
// the move.
func (s *TaskStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, taskErr string) error {
	query := `
		UPDATE tasks
		SET state = $1, error = $2, result = '', completed_at = $3
		WHERE id = $4 AND state IN ($5, $6)
	`

	return s.casExec(ctx, id, query,
		domain.TaskStateDeadLettered,
		taskErr,
		time.Now().UTC(),
		id,
		domain.TaskStateRunning,
		domain.TaskStateFailed,
	)
}

// MarkCancelled transitions Queued or Retrying to Cancelled. Returns false
// without error when the task is already Running or terminal.
func (s *TaskStore) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET state = $1, completed_at = $2
		WHERE id = $3 AND state IN ($4, $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStateCancelled,
		time.Now().UTC(),
		id,
		domain.TaskStateQueued,
		domain.TaskStateRetrying,
	)
	if err != nil {
		return false, MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Distinguish a missing task from one that is past the point of
	// cancellation.
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListByState returns snapshots of all tasks in the given state, oldest
// first.
func (s *TaskStore) ListByState(ctx context.Context, state domain.TaskState) ([]*domain.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE state = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*domain.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return recs, nil
}

// CountActiveForConversation returns how many tasks for the key are in an
// active state.
func (s *TaskStore) CountActiveForConversation(ctx context.Context, key uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM tasks
		WHERE conversation_id = $1 AND state IN ($2, $3, $4)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query,
		key,
		domain.TaskStateQueued,
		domain.TaskStateRunning,
		domain.TaskStateRetrying,
	).Scan(&count)
	if err != nil {
		return 0, MapError(err)
	}

	return count, nil
}

// CountByState returns the number of tasks in each state.
func (s *TaskStore) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	query := `SELECT state, COUNT(*) FROM tasks GROUP BY state`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskState]int)
	for rows.Next() {
		var state domain.TaskState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state counts: %w", err)
	}

	return counts, nil
}

// PruneTerminal removes terminal task records completed before the
// retention window.
func (s *TaskStore) PruneTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		DELETE FROM tasks
		WHERE state IN ($1, $2, $3) AND completed_at < $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStateSucceeded,
		domain.TaskStateCancelled,
		domain.TaskStateDeadLettered,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

// casExec runs a guarded UPDATE and converts a zero-row result into the
// appropriate store error.
func (s *TaskStore) casExec(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return s.casFailure(ctx, id)
	}

	return nil
}

// casFailure reports why a guarded UPDATE matched no rows: the task is
// either gone or no longer in an allowed source state.
func (s *TaskStore) casFailure(ctx context.Context, id uuid.UUID) error {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s", store.ErrStaleState, id, rec.State)
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var payload []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.Queue,
		&rec.ConversationKey,
		&payload,
		&rec.State,
		&rec.Attempt,
		&rec.MaxAttempts,
		&rec.Result,
		&rec.Error,
		&rec.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Payload = payload
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}

	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
