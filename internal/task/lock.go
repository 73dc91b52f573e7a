package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	taskID    uuid.UUID
	expiresAt time.Time
}

// LockManager serializes task execution per conversation key using
// time-bounded leases. A lease is normally released explicitly on a task's
// terminal state; expiry exists solely to recover from crashed workers.
type LockManager struct {
	mu     sync.Mutex
	leases map[uuid.UUID]lease
	now    func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		leases: make(map[uuid.UUID]lease),
		now:    time.Now,
	}
}

// TryAcquire takes the lease for key on behalf of taskID. It succeeds when
// no unexpired lease exists for the key, or when the existing lease already
// belongs to taskID (idempotent re-entry for retries of the same task, which
// also renews the lease).
func (m *LockManager) TryAcquire(key, taskID uuid.UUID, leaseDuration time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, held := m.leases[key]; held && l.taskID != taskID && now.Before(l.expiresAt) {
		return false
	}

	m.leases[key] = lease{taskID: taskID, expiresAt: now.Add(leaseDuration)}
	return true
}

// Release clears the lease only if it is still owned by taskID. This
// prevents releasing a lock acquired by a newer task after lease expiry.
func (m *LockManager) Release(key, taskID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.leases[key]
	if !held || l.taskID != taskID {
		return false
	}

	delete(m.leases, key)
	return true
}

// Holder returns the task currently holding an unexpired lease for key.
func (m *LockManager) Holder(key uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.leases[key]
	if !held || !m.now().Before(l.expiresAt) {
		return uuid.Nil, false
	}
	return l.taskID, true
}
