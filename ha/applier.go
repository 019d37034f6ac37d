package ha

import (
	"sync"

	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// Applier owns the local transaction logs of a slave. It builds the slave
// contexts sent with every request and folds the returned transaction
// streams into the logs.
type Applier struct {
	machineID int32
	logs      *txlog.Registry
	mu        sync.Mutex // serializes applying
}

// NewApplier creates an applier for the machine. The given resources are
// opened right away so that they are part of every context.
func NewApplier(machineID int32, logs *txlog.Registry, resources ...string) (*Applier, error) {
	for _, name := range resources {
		if _, err := logs.GetOrOpen(name); err != nil {
			return nil, err
		}
	}
	return &Applier{machineID: machineID, logs: logs}, nil
}

// Logs returns the local transaction logs
func (a *Applier) Logs() *txlog.Registry {
	return a.logs
}

// Context returns the slave context for the event with the last applied id
// of every local resource, ordered by resource name
func (a *Applier) Context(eventID int32) (common.SlaveContext, error) {
	names := a.logs.Names()
	applied := make([]common.ResourceTx, 0, len(names))
	for _, name := range names {
		log, ok := a.logs.Get(name)
		if !ok {
			continue
		}
		last, err := log.LastCommittedTxID()
		if err != nil {
			return common.SlaveContext{}, err
		}
		applied = append(applied, common.ResourceTx{Resource: name, TxID: last})
	}
	return common.NewSlaveContext(a.machineID, eventID, applied...), nil
}

// Apply appends the transactions of the stream to the local logs and
// returns how many were new. Transactions that are already present are
// skipped, a gap in the ids is an error. masterID is recorded as the
// committer of every applied transaction.
func (a *Applier) Apply(stream *common.TransactionStream, masterID int32) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	applied := 0
	err := stream.Each(func(tx common.Transaction) error {
		log, err := a.logs.GetOrOpen(tx.Resource)
		if err != nil {
			return err
		}
		last, err := log.LastCommittedTxID()
		if err != nil {
			return err
		}
		if tx.TxID <= last {
			return nil
		}
		if err := log.ApplyAt(tx.TxID, tx.Data, masterID); err != nil {
			return err
		}
		applied++
		return nil
	})
	if applied > 0 {
		Logger.Debugf("Applied %d transactions from master %d", applied, masterID)
	}
	return applied, err
}
