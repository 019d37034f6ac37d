package lockmgr

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOwner struct {
	id       string
	inactive atomic.Bool
}

func newOwner(id string) *testOwner { return &testOwner{id: id} }

func (o *testOwner) ID() string   { return o.id }
func (o *testOwner) Active() bool { return !o.inactive.Load() }

// acquireAsync runs AcquireLock in a goroutine and returns the result channel
func acquireAsync(m ILockManager, resource string, mode Mode, o Owner) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- m.AcquireLock(resource, mode, o) }()
	return ch
}

func requireBlocked(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("expected acquire to block, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not return")
		return nil
	}
}

func TestSharedReadLocks(t *testing.T) {
	m := NewLockManager()
	a, b := newOwner("a"), newOwner("b")

	require.NoError(t, m.AcquireLock("node:1", ReadLock, a))
	require.NoError(t, m.AcquireLock("node:1", ReadLock, b))

	// writer has to wait for both readers
	c := newOwner("c")
	ch := acquireAsync(m, "node:1", WriteLock, c)
	requireBlocked(t, ch)

	m.ReleaseAll(a)
	requireBlocked(t, ch)
	require.NoError(t, m.ReleaseLock("node:1", ReadLock, b))
	require.NoError(t, requireResult(t, ch))
}

func TestReentrantAndUpgrade(t *testing.T) {
	m := NewLockManager()
	a := newOwner("a")

	require.NoError(t, m.AcquireLock("node:1", ReadLock, a))
	require.NoError(t, m.AcquireLock("node:1", WriteLock, a), "sole reader may upgrade")
	require.NoError(t, m.AcquireLock("node:1", WriteLock, a))

	require.NoError(t, m.ReleaseLock("node:1", WriteLock, a))
	require.NoError(t, m.ReleaseLock("node:1", WriteLock, a))
	assert.ErrorIs(t, m.ReleaseLock("node:1", WriteLock, a), ErrNotHeld)
	require.NoError(t, m.ReleaseLock("node:1", ReadLock, a))
	assert.ErrorIs(t, m.ReleaseLock("node:1", ReadLock, a), ErrNotHeld)
}

func TestDeadlockDetection(t *testing.T) {
	m := NewLockManager()
	a, b := newOwner("a"), newOwner("b")

	require.NoError(t, m.AcquireLock("node:1", WriteLock, a))
	require.NoError(t, m.AcquireLock("node:2", WriteLock, b))

	// a waits for b
	ch := acquireAsync(m, "node:2", WriteLock, a)
	requireBlocked(t, ch)

	// b waiting for a would close the cycle
	err := m.AcquireLock("node:1", WriteLock, b)
	var dl *DeadlockError
	require.True(t, errors.As(err, &dl), "expected deadlock, got %v", err)
	assert.Contains(t, dl.Message, "node:1")

	// b gives up, a gets its lock
	m.ReleaseAll(b)
	require.NoError(t, requireResult(t, ch))
}

func TestInactiveOwnerStopsWaiting(t *testing.T) {
	m := NewLockManager()
	a, b := newOwner("a"), newOwner("b")

	require.NoError(t, m.AcquireLock("rel:9", WriteLock, a))
	ch := acquireAsync(m, "rel:9", ReadLock, b)
	requireBlocked(t, ch)

	// rolling back b marks it inactive and releases its (zero) locks
	b.inactive.Store(true)
	m.ReleaseAll(b)
	assert.ErrorIs(t, requireResult(t, ch), ErrOwnerNotActive)

	assert.ErrorIs(t, m.AcquireLock("rel:10", ReadLock, b), ErrOwnerNotActive)
}

func TestNoLockStateLeftAfterAbandonedWait(t *testing.T) {
	m := NewLockManager()
	a, b := newOwner("a"), newOwner("b")

	require.NoError(t, m.AcquireLock("node:1", WriteLock, a))
	ch := acquireAsync(m, "node:1", WriteLock, b)
	requireBlocked(t, ch)

	b.inactive.Store(true)
	require.NoError(t, m.ReleaseLock("node:1", WriteLock, a))
	assert.ErrorIs(t, requireResult(t, ch), ErrOwnerNotActive)

	// an inactive owner never leaves state behind, even for new resources
	assert.ErrorIs(t, m.AcquireLock("node:2", ReadLock, b), ErrOwnerNotActive)

	impl := m.(*lockMgrImpl)
	impl.mu.Lock()
	defer impl.mu.Unlock()
	assert.Empty(t, impl.locks)
	assert.Empty(t, impl.held)
	assert.Empty(t, impl.waiting)
}

func TestResourceNames(t *testing.T) {
	assert.Equal(t, "node:42", NodeResource(42))
	assert.Equal(t, "rel:7", RelationshipResource(7))
	assert.NotEqual(t, NewOwnerID(), NewOwnerID())
}
