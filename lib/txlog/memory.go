package txlog

import (
	"sync"

	"github.com/pkg/errors"
)

type memoryEntry struct {
	data     []byte
	masterID int32
}

type memoryLog struct {
	name    string
	mu      sync.RWMutex
	entries []memoryEntry // entries[i] has tx id i+1
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog(name string) Log {
	return &memoryLog{name: name}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see txlog.Log)
// --------------------------------------------------------------------------

func (l *memoryLog) Name() string {
	return l.name
}

func (l *memoryLog) LastCommittedTxID() (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.entries)), nil
}

func (l *memoryLog) Append(data []byte, masterID int32) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyTx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, memoryEntry{data: clone(data), masterID: masterID})
	return int64(len(l.entries)), nil
}

func (l *memoryLog) ApplyAt(txID int64, data []byte, masterID int32) error {
	if len(data) == 0 {
		return ErrEmptyTx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if txID != int64(len(l.entries))+1 {
		return errors.Wrapf(ErrTxGap, "log %s: got %d, last is %d", l.name, txID, len(l.entries))
	}
	l.entries = append(l.entries, memoryEntry{data: clone(data), masterID: masterID})
	return nil
}

func (l *memoryLog) Extract(fromExclusive, toInclusive int64, fn func(txID int64, data []byte) error) error {
	l.mu.RLock()
	last := int64(len(l.entries))
	if toInclusive > last {
		l.mu.RUnlock()
		return errors.Wrapf(ErrTxNotFound, "log %s: tx %d (last is %d)", l.name, toInclusive, last)
	}
	if fromExclusive < 0 {
		fromExclusive = 0
	}
	// entries are append only, so the slice header can be used without the lock
	entries := l.entries[:toInclusive]
	l.mu.RUnlock()

	for id := fromExclusive + 1; id <= toInclusive; id++ {
		if err := fn(id, entries[id-1].data); err != nil {
			return err
		}
	}
	return nil
}

func (l *memoryLog) MasterIDFor(txID int64) (int32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if txID < 1 || txID > int64(len(l.entries)) {
		return 0, errors.Wrapf(ErrTxNotFound, "log %s: tx %d", l.name, txID)
	}
	return l.entries[txID-1].masterID, nil
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
