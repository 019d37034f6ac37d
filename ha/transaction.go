package ha

import (
	"cmp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/dHA/lib/lockmgr"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// SlaveTransaction is one local transaction of a slave. All its requests are
// sent with the same event id on one session, so the master keeps its locks
// in one unit of work. It implements lockmgr.Owner for the local locks.
type SlaveTransaction struct {
	slave    *Slave
	session  Session
	masterID int32
	eventID  int32
	ownerID  string
	active   atomic.Bool
}

// ID returns the owner id of the local locks
func (tx *SlaveTransaction) ID() string { return tx.ownerID }

// Active reports whether the transaction was not finished yet
func (tx *SlaveTransaction) Active() bool { return tx.active.Load() }

// EventID returns the event id sent with every request of the transaction
func (tx *SlaveTransaction) EventID() int32 { return tx.eventID }

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

// AcquireNodeWriteLock locks the nodes for writing on the master and locally
func (tx *SlaveTransaction) AcquireNodeWriteLock(nodes ...int64) error {
	return tx.lock(tx.session.AcquireNodeWriteLock, lockmgr.WriteLock, lockmgr.NodeResource, nodes)
}

// AcquireNodeReadLock locks the nodes for reading on the master and locally
func (tx *SlaveTransaction) AcquireNodeReadLock(nodes ...int64) error {
	return tx.lock(tx.session.AcquireNodeReadLock, lockmgr.ReadLock, lockmgr.NodeResource, nodes)
}

// AcquireRelationshipWriteLock locks the relationships for writing on the master and locally
func (tx *SlaveTransaction) AcquireRelationshipWriteLock(rels ...int64) error {
	return tx.lock(tx.session.AcquireRelationshipWriteLock, lockmgr.WriteLock, lockmgr.RelationshipResource, rels)
}

// AcquireRelationshipReadLock locks the relationships for reading on the master and locally
func (tx *SlaveTransaction) AcquireRelationshipReadLock(rels ...int64) error {
	return tx.lock(tx.session.AcquireRelationshipReadLock, lockmgr.ReadLock, lockmgr.RelationshipResource, rels)
}

// AcquireLocalLock locks a resource that is not replicated, the master is not involved
func (tx *SlaveTransaction) AcquireLocalLock(resource string, mode lockmgr.Mode) error {
	if !tx.Active() {
		return ErrTransactionFinished
	}
	return tx.slave.locks.AcquireLock(resource, mode, tx)
}

type acquireFunc func(sc common.SlaveContext, ids ...int64) (common.Response[common.LockResult], error)

// lock asks the master until it answers OK_LOCKED or DEAD_LOCKED
func (tx *SlaveTransaction) lock(acquire acquireFunc, mode lockmgr.Mode, resourceOf func(int64) string, ids []int64) error {
	if !tx.Active() {
		return ErrTransactionFinished
	}

	for attempt := 1; ; attempt++ {
		sc, err := tx.context()
		if err != nil {
			return err
		}
		resp, err := acquire(sc, ids...)
		result, err := value(tx, resp, err)
		if err != nil {
			return err
		}

		switch result.Status {
		case common.LockOK:
			for _, id := range ids {
				if err := tx.slave.locks.AcquireLock(resourceOf(id), mode, tx); err != nil {
					return err
				}
			}
			return nil
		case common.LockDeadlocked:
			return &DeadlockError{Message: result.Message}
		default:
			limit := tx.slave.config.MaxLockRetries
			if limit > 0 && attempt >= limit {
				return ErrLockRetriesExceeded
			}
			Logger.Debugf("Lock on %v not granted for event %d, retrying", ids, tx.eventID)
		}
	}
}

// --------------------------------------------------------------------------
// Commit and finish
// --------------------------------------------------------------------------

// Commit commits data to the resource on the master and appends it to the
// local log under the id the master assigned
func (tx *SlaveTransaction) Commit(resource string, data []byte) (int64, error) {
	if !tx.Active() {
		return 0, ErrTransactionFinished
	}
	sc, err := tx.context()
	if err != nil {
		return 0, err
	}
	resp, err := tx.session.CommitSingleResourceTransaction(sc, resource, data)
	if err != nil {
		tx.slave.fail(err)
		return 0, err
	}
	txID, err := resp.Get()
	if err != nil {
		tx.slave.fail(err)
		return 0, err
	}

	// the stream leaves out the own transaction but may contain later ones
	// committed by other slaves in the meantime
	txs, err := resp.Transactions().Collect()
	if err != nil {
		return 0, err
	}
	txs = withTransaction(txs, common.Transaction{Resource: resource, TxID: txID, Data: data})
	if _, err := tx.slave.applier.Apply(common.TransactionsOf(txs...), tx.masterID); err != nil {
		return 0, err
	}
	return txID, nil
}

// Finish ends the transaction on the master, releases the local locks and
// closes the session. Calling Finish twice is harmless.
func (tx *SlaveTransaction) Finish() error {
	if !tx.active.CompareAndSwap(true, false) {
		return nil
	}
	defer tx.session.Close()
	defer tx.slave.locks.ReleaseAll(tx)

	sc, err := tx.context()
	if err != nil {
		return err
	}
	resp, err := tx.session.FinishTransaction(sc)
	_, err = value(tx, resp, err)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// withTransaction inserts own into txs, ordered by resource and id
func withTransaction(txs []common.Transaction, own common.Transaction) []common.Transaction {
	txs = append(txs, own)
	slices.SortStableFunc(txs, func(a, b common.Transaction) int {
		if c := strings.Compare(a.Resource, b.Resource); c != 0 {
			return c
		}
		return cmp.Compare(a.TxID, b.TxID)
	})
	return txs
}

func (tx *SlaveTransaction) context() (common.SlaveContext, error) {
	return tx.slave.applier.Context(tx.eventID)
}

// value applies the transactions of the response and returns its value.
// Failures invalidate the master of the slave.
func value[T any](tx *SlaveTransaction, resp common.Response[T], err error) (T, error) {
	var zero T
	if err != nil {
		tx.slave.fail(err)
		return zero, err
	}
	if _, err := tx.slave.applier.Apply(resp.Transactions(), tx.masterID); err != nil {
		return zero, err
	}
	v, err := resp.Get()
	if err != nil {
		tx.slave.fail(err)
		return zero, err
	}
	return v, nil
}
