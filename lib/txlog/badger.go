package txlog

import (
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("txlog")

// Key layout inside the shared database:
//
//	t/<name>/<8 byte tx id>  -> [4 byte master id][data]
//	l/<name>                 -> [8 byte last committed tx id]
const (
	txPrefix   = "t/"
	lastPrefix = "l/"
)

// BadgerStore is a BadgerDB instance holding the logs of all resources of a node
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database in dir. An empty dir opens
// an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(logger.GetLogger("badger"))
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open transaction log store in %q", dir)
	}
	log.Infof("opened transaction log store in %q", dir)
	return &BadgerStore{db: db}, nil
}

// Log returns the log of the given resource
func (s *BadgerStore) Log(name string) Log {
	return &badgerLog{name: name, db: s.db}
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerLog struct {
	name string
	db   *badger.DB
	mu   sync.Mutex // serializes writers, badger would report conflicts otherwise
}

// --------------------------------------------------------------------------
// Interface Methods (docu see txlog.Log)
// --------------------------------------------------------------------------

func (l *badgerLog) Name() string {
	return l.name
}

func (l *badgerLog) LastCommittedTxID() (int64, error) {
	var last int64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		last, err = l.readLast(txn)
		return err
	})
	return last, err
}

func (l *badgerLog) Append(data []byte, masterID int32) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyTx
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var txID int64
	err := l.db.Update(func(txn *badger.Txn) error {
		last, err := l.readLast(txn)
		if err != nil {
			return err
		}
		txID = last + 1
		return l.write(txn, txID, data, masterID)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "log %s: append failed", l.name)
	}
	return txID, nil
}

func (l *badgerLog) ApplyAt(txID int64, data []byte, masterID int32) error {
	if len(data) == 0 {
		return ErrEmptyTx
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Update(func(txn *badger.Txn) error {
		last, err := l.readLast(txn)
		if err != nil {
			return err
		}
		if txID != last+1 {
			return errors.Wrapf(ErrTxGap, "log %s: got %d, last is %d", l.name, txID, last)
		}
		return l.write(txn, txID, data, masterID)
	})
}

func (l *badgerLog) Extract(fromExclusive, toInclusive int64, fn func(txID int64, data []byte) error) error {
	if fromExclusive < 0 {
		fromExclusive = 0
	}
	return l.db.View(func(txn *badger.Txn) error {
		last, err := l.readLast(txn)
		if err != nil {
			return err
		}
		if toInclusive > last {
			return errors.Wrapf(ErrTxNotFound, "log %s: tx %d (last is %d)", l.name, toInclusive, last)
		}

		prefix := []byte(txPrefix + l.name + "/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		expected := fromExclusive + 1
		for it.Seek(l.txKey(expected)); it.ValidForPrefix(prefix) && expected <= toInclusive; it.Next() {
			item := it.Item()
			id := int64(binary.BigEndian.Uint64(item.Key()[len(prefix):]))
			if id != expected {
				return errors.Wrapf(ErrTxNotFound, "log %s: tx %d", l.name, expected)
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(id, value[4:]); err != nil {
				return err
			}
			expected++
		}
		if expected <= toInclusive {
			return errors.Wrapf(ErrTxNotFound, "log %s: tx %d", l.name, expected)
		}
		return nil
	})
}

func (l *badgerLog) MasterIDFor(txID int64) (int32, error) {
	var masterID int32
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(l.txKey(txID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrapf(ErrTxNotFound, "log %s: tx %d", l.name, txID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			masterID = int32(binary.BigEndian.Uint32(val[:4]))
			return nil
		})
	})
	return masterID, err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (l *badgerLog) txKey(txID int64) []byte {
	key := make([]byte, 0, len(txPrefix)+len(l.name)+1+8)
	key = append(key, txPrefix...)
	key = append(key, l.name...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, uint64(txID))
}

func (l *badgerLog) lastKey() []byte {
	return []byte(lastPrefix + l.name)
}

func (l *badgerLog) readLast(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(l.lastKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last int64
	err = item.Value(func(val []byte) error {
		last = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return last, err
}

func (l *badgerLog) write(txn *badger.Txn, txID int64, data []byte, masterID int32) error {
	value := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(value, uint32(masterID))
	copy(value[4:], data)
	if err := txn.Set(l.txKey(txID), value); err != nil {
		return err
	}
	return txn.Set(l.lastKey(), binary.BigEndian.AppendUint64(nil, uint64(txID)))
}
