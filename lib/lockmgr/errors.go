package lockmgr

import "github.com/pkg/errors"

var (
	// ErrOwnerNotActive is returned if the owner was rolled back
	ErrOwnerNotActive = errors.New("lock owner is not active")
	// ErrNotHeld is returned when releasing a lock the owner does not hold
	ErrNotHeld = errors.New("lock not held by owner")
)

// DeadlockError is returned when granting a lock would require waiting on an
// owner that (transitively) waits on the requester.
type DeadlockError struct {
	Message string
}

func (e *DeadlockError) Error() string {
	return e.Message
}
