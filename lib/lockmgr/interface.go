package lockmgr

import "fmt"

// Mode is the kind of a lock
type Mode uint8

const (
	ReadLock Mode = iota
	WriteLock
)

func (m Mode) String() string {
	switch m {
	case ReadLock:
		return "read"
	case WriteLock:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Owner is the holder of locks. IDs must be unique across all live owners.
type Owner interface {
	// ID returns the unique identifier of the owner
	ID() string
	// Active reports whether the owner may still acquire locks
	Active() bool
}

// ILockManager defines the interface for a lock manager.
type ILockManager interface {
	// AcquireLock blocks until the lock on resource is granted to owner.
	// It returns a *DeadlockError if waiting would deadlock and
	// ErrOwnerNotActive if the owner is (or becomes) inactive.
	AcquireLock(resource string, mode Mode, owner Owner) error

	// ReleaseLock releases one hold of the lock. Releasing a lock that is
	// not held by the owner returns ErrNotHeld.
	ReleaseLock(resource string, mode Mode, owner Owner) error

	// ReleaseAll releases every lock held by the owner and wakes all waiters.
	ReleaseAll(owner Owner)
}
