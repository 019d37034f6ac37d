// Package lockmgr implements the read/write lock manager used by the master to
// serialize access to graph entities. Locks are keyed by a resource string
// (e.g. "node:42") and are held by an Owner, which in practice is the unit of
// work of one slave operation.
//
// Core Functionality:
//   - Shared read locks and exclusive write locks, both reentrant per owner
//   - Upgrading a read lock to a write lock if the owner is the only reader
//   - Blocking acquisition that waits until the lock can be granted
//   - Deadlock detection on a wait-for graph before an owner starts waiting
//   - Releasing every lock of an owner at once (ReleaseAll)
//
// Implementation Approach:
//
//	All state is guarded by a single mutex. Waiting owners block on a
//	sync.Cond and re-check their request whenever a lock is released.
//	Before an owner starts to wait, the manager follows the wait-for edges
//	starting at the current holders. If the walk reaches the requesting owner
//	the request is rejected with a *DeadlockError instead of waiting.
//
//	Owners that are no longer active (their unit of work was rolled back)
//	are rejected with ErrOwnerNotActive, both before and while waiting.
//	Every ReleaseAll wakes all waiters so they can observe this.
//
// Thread Safety:
//
//	All methods are safe for concurrent use by multiple goroutines.
//
// Usage Example:
//
//	mgr := lockmgr.NewLockManager()
//	err := mgr.AcquireLock("node:1", lockmgr.WriteLock, owner)
//	var dl *lockmgr.DeadlockError
//	if errors.As(err, &dl) {
//	    // give up, the caller has to roll back
//	}
//	defer mgr.ReleaseAll(owner)
package lockmgr
