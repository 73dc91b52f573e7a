package task

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLockManagerTryAcquire(t *testing.T) {
	t.Parallel()

	t.Run("acquires free lock", func(t *testing.T) {
		t.Parallel()
		m := NewLockManager()
		key, taskID := uuid.New(), uuid.New()

		assert.True(t, m.TryAcquire(key, taskID, time.Minute))

		holder, held := m.Holder(key)
		assert.True(t, held)
		assert.Equal(t, taskID, holder)
	})

	t.Run("rejects a different task while held", func(t *testing.T) {
		t.Parallel()
		m := NewLockManager()
		key := uuid.New()

		assert.True(t, m.TryAcquire(key, uuid.New(), time.Minute))
		assert.False(t, m.TryAcquire(key, uuid.New(), time.Minute))
	})

	t.Run("re-entry by the same task renews the lease", func(t *testing.T) {
		t.Parallel()
		m := NewLockManager()
		key, taskID := uuid.New(), uuid.New()

		assert.True(t, m.TryAcquire(key, taskID, time.Minute))
		assert.True(t, m.TryAcquire(key, taskID, time.Minute))
	})

	t.Run("independent keys do not contend", func(t *testing.T) {
		t.Parallel()
		m := NewLockManager()

		assert.True(t, m.TryAcquire(uuid.New(), uuid.New(), time.Minute))
		assert.True(t, m.TryAcquire(uuid.New(), uuid.New(), time.Minute))
	})
}

func TestLockManagerLeaseExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := NewLockManager()
	m.now = func() time.Time { return now }

	key, crashed, successor := uuid.New(), uuid.New(), uuid.New()
	assert.True(t, m.TryAcquire(key, crashed, time.Minute))

	// Within the lease the lock is firmly held.
	now = now.Add(30 * time.Second)
	assert.False(t, m.TryAcquire(key, successor, time.Minute))

	// After expiry another task may take over.
	now = now.Add(31 * time.Second)
	assert.True(t, m.TryAcquire(key, successor, time.Minute))

	// The crashed task can no longer release what it lost.
	assert.False(t, m.Release(key, crashed))

	holder, held := m.Holder(key)
	assert.True(t, held)
	assert.Equal(t, successor, holder)
}

func TestLockManagerRelease(t *testing.T) {
	t.Parallel()

	m := NewLockManager()
	key, taskID := uuid.New(), uuid.New()

	assert.False(t, m.Release(key, taskID), "releasing an unheld lock is a no-op")

	assert.True(t, m.TryAcquire(key, taskID, time.Minute))
	assert.False(t, m.Release(key, uuid.New()), "only the owner may release")
	assert.True(t, m.Release(key, taskID))

	_, held := m.Holder(key)
	assert.False(t, held)
}
