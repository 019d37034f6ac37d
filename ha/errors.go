package ha

import (
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/pkg/errors"
)

var (
	// ErrLockRetriesExceeded is returned when the master answered NOT_LOCKED
	// more often than SlaveConfig.MaxLockRetries allows
	ErrLockRetriesExceeded = errors.New("lock retries exceeded")
	// ErrTransactionFinished is returned when using a finished slave transaction
	ErrTransactionFinished = errors.New("slave transaction already finished")
)

// DeadlockError is returned when the master detected that granting a lock
// would deadlock. The local transaction should be rolled back.
type DeadlockError struct {
	Message string
}

func (e *DeadlockError) Error() string {
	return "deadlock detected by master: " + e.Message
}

// isMasterFailure reports whether err means the master can no longer be trusted
func isMasterFailure(err error) bool {
	return errors.Is(err, common.ErrCommunication) || errors.Is(err, common.ErrMasterCommunicationFailed)
}
