package txlog

import "github.com/pkg/errors"

var (
	// ErrTxNotFound is returned when a transaction id is not present in the log
	ErrTxNotFound = errors.New("transaction not found")
	// ErrTxGap is returned when applying a transaction that does not follow the last one
	ErrTxGap = errors.New("transaction id does not follow last committed id")
	// ErrEmptyTx is returned when committing a transaction without data
	ErrEmptyTx = errors.New("transaction has no data")
)

// Log is the transaction log of one resource
type Log interface {
	// Name returns the resource name of the log
	Name() string

	// LastCommittedTxID returns the id of the newest transaction, 0 if the log is empty
	LastCommittedTxID() (int64, error)

	// Append commits data as the next transaction and returns its id.
	// Used on the master, which assigns ids.
	Append(data []byte, masterID int32) (int64, error)

	// ApplyAt commits data under an id assigned by the master. The id has to
	// be exactly LastCommittedTxID()+1, otherwise ErrTxGap is returned.
	ApplyAt(txID int64, data []byte, masterID int32) error

	// Extract calls fn for every transaction with fromExclusive < id <= toInclusive
	// in ascending order. Iteration stops at the first error returned by fn.
	Extract(fromExclusive, toInclusive int64, fn func(txID int64, data []byte) error) error

	// MasterIDFor returns the machine id of the master that committed txID
	MasterIDFor(txID int64) (int32, error)
}
