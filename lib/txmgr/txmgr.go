// Package txmgr provides units of work: the transactional scope in which the
// master executes the operations of one slave. A unit of work owns locks in a
// lockmgr.ILockManager and releases all of them when it ends.
package txmgr

import (
	"sync/atomic"

	"github.com/ValentinKolb/dHA/lib/lockmgr"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNotActive is returned when finishing a unit of work twice
var ErrNotActive = errors.New("unit of work is not active")

const (
	stateActive int32 = iota
	stateRolledBack
	stateCommitted
)

// UnitOfWork implements lockmgr.Owner
type UnitOfWork struct {
	id    string
	state atomic.Int32
	mgr   *Manager
}

// ID returns the unique identifier of the unit of work
func (u *UnitOfWork) ID() string { return u.id }

// Active reports whether the unit of work was neither committed nor rolled back
func (u *UnitOfWork) Active() bool { return u.state.Load() == stateActive }

// AcquireLock acquires a lock owned by this unit of work
func (u *UnitOfWork) AcquireLock(resource string, mode lockmgr.Mode) error {
	return u.mgr.locks.AcquireLock(resource, mode, u)
}

// Manager creates and tracks units of work
type Manager struct {
	locks  lockmgr.ILockManager
	active *xsync.MapOf[string, *UnitOfWork]
}

// NewManager creates a manager that takes its locks from the given lock manager
func NewManager(locks lockmgr.ILockManager) *Manager {
	return &Manager{
		locks:  locks,
		active: xsync.NewMapOf[string, *UnitOfWork](),
	}
}

// Begin starts a new unit of work
func (m *Manager) Begin() *UnitOfWork {
	u := &UnitOfWork{id: lockmgr.NewOwnerID(), mgr: m}
	m.active.Store(u.id, u)
	return u
}

// Rollback ends the unit of work and releases its locks
func (m *Manager) Rollback(u *UnitOfWork) error {
	return m.finish(u, stateRolledBack)
}

// Commit ends the unit of work and releases its locks. The data itself is
// written by the caller (e.g. into a transaction log) before committing.
func (m *Manager) Commit(u *UnitOfWork) error {
	return m.finish(u, stateCommitted)
}

// ActiveCount returns the number of units of work that are still running
func (m *Manager) ActiveCount() int {
	return m.active.Size()
}

func (m *Manager) finish(u *UnitOfWork, state int32) error {
	if !u.state.CompareAndSwap(stateActive, state) {
		return ErrNotActive
	}
	m.active.Delete(u.id)
	// waiters of this owner observe the state change on the broadcast
	m.locks.ReleaseAll(u)
	return nil
}
