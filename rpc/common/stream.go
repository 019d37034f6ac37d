package common

import "github.com/pkg/errors"

// ErrStreamConsumed is returned when iterating a stream a second time
var ErrStreamConsumed = errors.New("transaction stream already consumed")

// Transaction is one committed transaction of a resource
type Transaction struct {
	Resource string
	TxID     int64
	Data     []byte
}

// TransactionStream is a lazy, single pass sequence of transactions. Within a
// resource the ids ascend, there is no order across resources. A nil stream
// is empty.
type TransactionStream struct {
	resources []string
	next      func() (Transaction, bool, error)
	consumed  bool
}

// NewTransactionStream creates a stream over the given resources. next is
// called until it reports false or an error.
func NewTransactionStream(resources []string, next func() (Transaction, bool, error)) *TransactionStream {
	return &TransactionStream{resources: resources, next: next}
}

// TransactionsOf creates a stream from already materialized transactions.
// Resources are listed in order of their first appearance.
func TransactionsOf(txs ...Transaction) *TransactionStream {
	var resources []string
	seen := make(map[string]bool)
	for _, tx := range txs {
		if !seen[tx.Resource] {
			seen[tx.Resource] = true
			resources = append(resources, tx.Resource)
		}
	}
	i := 0
	return NewTransactionStream(resources, func() (Transaction, bool, error) {
		if i >= len(txs) {
			return Transaction{}, false, nil
		}
		i++
		return txs[i-1], true, nil
	})
}

// Resources returns the names of all resources the stream may contain
func (s *TransactionStream) Resources() []string {
	if s == nil {
		return nil
	}
	return s.resources
}

// Each calls fn for every transaction and stops at the first error
func (s *TransactionStream) Each(fn func(Transaction) error) error {
	if s == nil {
		return nil
	}
	if s.consumed {
		return ErrStreamConsumed
	}
	s.consumed = true
	for {
		tx, ok, err := s.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
}

// Collect reads the remaining stream into a slice
func (s *TransactionStream) Collect() ([]Transaction, error) {
	var txs []Transaction
	err := s.Each(func(tx Transaction) error {
		txs = append(txs, tx)
		return nil
	})
	return txs, err
}
