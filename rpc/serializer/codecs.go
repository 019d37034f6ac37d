package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// maxResources is the largest number of resources a single byte count can express
const maxResources = 255

// --------------------------------------------------------------------------
// SlaveContext: [4 machineId][4 eventId][1 count][count x (string, 8 txId)]
// --------------------------------------------------------------------------

func WriteSlaveContext(w *Writer, sc common.SlaveContext) error {
	if len(sc.LastApplied) > maxResources {
		return fmt.Errorf("slave context has %d resources, at most %d are supported", len(sc.LastApplied), maxResources)
	}
	w.PutInt32(sc.MachineID)
	w.PutInt32(sc.EventID)
	w.PutByte(byte(len(sc.LastApplied)))
	for _, tx := range sc.LastApplied {
		w.PutString(tx.Resource)
		w.PutInt64(tx.TxID)
	}
	return nil
}

func ReadSlaveContext(r *Reader) (common.SlaveContext, error) {
	var sc common.SlaveContext
	var err error
	if sc.MachineID, err = r.Int32(); err != nil {
		return sc, err
	}
	if sc.EventID, err = r.Int32(); err != nil {
		return sc, err
	}
	count, err := r.Byte()
	if err != nil {
		return sc, err
	}
	sc.LastApplied = make([]common.ResourceTx, count)
	for i := range sc.LastApplied {
		if sc.LastApplied[i].Resource, err = r.ReadString(); err != nil {
			return sc, err
		}
		if sc.LastApplied[i].TxID, err = r.Int64(); err != nil {
			return sc, err
		}
	}
	return sc, nil
}

// --------------------------------------------------------------------------
// IdAllocation: [4 count][count x 8 ids][8 rangeStart][4 rangeLength][8 highestIdInUse][8 defragCount]
// --------------------------------------------------------------------------

func WriteIdAllocation(w *Writer, a idgen.IdAllocation) {
	WriteIds(w, a.DefragIDs)
	w.PutInt64(a.RangeStart)
	w.PutInt32(a.RangeLength)
	w.PutInt64(a.HighestIDInUse)
	w.PutInt64(a.DefragCount)
}

func ReadIdAllocation(r *Reader) (idgen.IdAllocation, error) {
	var a idgen.IdAllocation
	var err error
	if a.DefragIDs, err = ReadIds(r); err != nil {
		return a, err
	}
	if a.RangeStart, err = r.Int64(); err != nil {
		return a, err
	}
	if a.RangeLength, err = r.Int32(); err != nil {
		return a, err
	}
	if a.RangeLength < 0 {
		return a, common.ProtocolErrorf("negative id range length %d", a.RangeLength)
	}
	if a.HighestIDInUse, err = r.Int64(); err != nil {
		return a, err
	}
	a.DefragCount, err = r.Int64()
	return a, err
}

// --------------------------------------------------------------------------
// Id lists: [4 count][count x 8 ids]
// --------------------------------------------------------------------------

func WriteIds(w *Writer, ids []int64) {
	w.PutInt32(int32(len(ids)))
	for _, id := range ids {
		w.PutInt64(id)
	}
}

func ReadIds(r *Reader) ([]int64, error) {
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if count < 0 || int(count) > r.Remaining()/8 {
		return nil, common.ProtocolErrorf("invalid id count %d", count)
	}
	ids := make([]int64, count)
	for i := range ids {
		ids[i], _ = r.Int64()
	}
	return ids, nil
}

// --------------------------------------------------------------------------
// LockResult: [1 status] and [string message] if DEAD_LOCKED
// --------------------------------------------------------------------------

func WriteLockResult(w *Writer, res common.LockResult) {
	w.PutByte(byte(res.Status))
	if res.Status == common.LockDeadlocked {
		w.PutString(res.Message)
	}
}

func ReadLockResult(r *Reader) (common.LockResult, error) {
	status, err := r.Byte()
	if err != nil {
		return common.LockResult{}, err
	}
	switch common.LockStatus(status) {
	case common.LockOK:
		return common.LockedResult(), nil
	case common.LockNotLocked:
		return common.NotLockedResult(), nil
	case common.LockDeadlocked:
		msg, err := r.ReadString()
		if err != nil {
			return common.LockResult{}, err
		}
		return common.DeadlockResult(msg), nil
	default:
		return common.LockResult{}, common.ProtocolErrorf("unknown lock status %d", status)
	}
}
