package server

import (
	"github.com/ValentinKolb/dHA/rpc/common"
)

// packResponse attaches every transaction the slave is missing to value. For
// each resource in the context the transactions after the slave's last
// applied id up to the last committed id are included in ascending order.
// Resources the master does not know are skipped. Transactions matching the
// ExcludeFunc of the master or also are left out.
func packResponse[T any](m *MasterImpl, sc common.SlaveContext, value T, also func(resource string, txID int64) bool) (common.Response[T], error) {
	var txs []common.Transaction

	for _, applied := range sc.LastApplied {
		log, ok := m.logs.Get(applied.Resource)
		if !ok {
			continue
		}
		last, err := log.LastCommittedTxID()
		if err != nil {
			return failed[T](m, "pack response", err)
		}
		if applied.TxID >= last {
			continue
		}

		err = log.Extract(applied.TxID, last, func(txID int64, data []byte) error {
			if m.exclude(sc, applied.Resource, txID) || (also != nil && also(applied.Resource, txID)) {
				return nil
			}
			// the log may reuse data after the callback returns
			tx := common.Transaction{Resource: applied.Resource, TxID: txID, Data: make([]byte, len(data))}
			copy(tx.Data, data)
			txs = append(txs, tx)
			return nil
		})
		if err != nil {
			return failed[T](m, "pack response", err)
		}
	}

	m.metrics.packedTransactions.Add(len(txs))
	return common.NewResponse(value, common.TransactionsOf(txs...)), nil
}
