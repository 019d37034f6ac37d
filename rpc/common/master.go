package common

import "github.com/ValentinKolb/dHA/lib/idgen"

// StoreFile is one file of a store copy
type StoreFile struct {
	Path string
	Data []byte
}

// StoreSource lists the files that make up the store of the master
type StoreSource interface {
	StoreFiles() ([]StoreFile, error)
}

// StoreWriter receives the files of a store copy. Empty files have no data.
type StoreWriter interface {
	WriteFile(path string, data []byte) error
}

// Master is the set of operations a slave can invoke on the master. It is
// implemented by the executor on the master and by the RPC client on the
// slaves. The returned error reports communication failures, a failed
// operation is reported through a failed Response.
type Master interface {
	// AllocateIds grants a batch of ids of the given type
	AllocateIds(idType idgen.IdType) (Response[idgen.IdAllocation], error)

	// CreateRelationshipType returns the id of the type, creating it if needed
	CreateRelationshipType(sc SlaveContext, name string) (Response[int32], error)

	AcquireNodeWriteLock(sc SlaveContext, nodes ...int64) (Response[LockResult], error)
	AcquireNodeReadLock(sc SlaveContext, nodes ...int64) (Response[LockResult], error)
	AcquireRelationshipWriteLock(sc SlaveContext, rels ...int64) (Response[LockResult], error)
	AcquireRelationshipReadLock(sc SlaveContext, rels ...int64) (Response[LockResult], error)

	// CommitSingleResourceTransaction commits tx to the resource and returns
	// the assigned transaction id
	CommitSingleResourceTransaction(sc SlaveContext, resource string, tx []byte) (Response[int64], error)

	// PullUpdates returns nothing but the transactions the slave is missing
	PullUpdates(sc SlaveContext) (Response[Void], error)

	// FinishTransaction ends the distributed operation of the context
	FinishTransaction(sc SlaveContext) (Response[Void], error)

	// GetMasterIdForCommittedTx returns the machine id of the master that
	// committed txID to the default resource
	GetMasterIdForCommittedTx(txID int64) (Response[int32], error)

	// CopyStore writes all store files of the master to w
	CopyStore(sc SlaveContext, w StoreWriter) (Response[Void], error)
}
