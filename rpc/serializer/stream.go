package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// WriteTransactionStream consumes the stream and writes the stream section.
// A nil stream is written as an empty section.
func WriteTransactionStream(w *Writer, s *common.TransactionStream) error {
	resources := s.Resources()
	if len(resources) > maxResources {
		return fmt.Errorf("transaction stream has %d resources, at most %d are supported", len(resources), maxResources)
	}

	index := make(map[string]byte, len(resources))
	w.PutByte(byte(len(resources)))
	for i, name := range resources {
		w.PutString(name)
		index[name] = byte(i + 1)
	}

	err := s.Each(func(tx common.Transaction) error {
		idx, ok := index[tx.Resource]
		if !ok {
			return fmt.Errorf("transaction %d references undeclared resource %q", tx.TxID, tx.Resource)
		}
		w.PutByte(idx)
		w.PutInt64(tx.TxID)
		if err := w.PutBlock(tx.Data); err != nil {
			return fmt.Errorf("transaction %d of %s: %w", tx.TxID, tx.Resource, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.PutByte(0)
	return nil
}

// ReadTransactionStream reads the resource header eagerly and returns a stream
// that decodes the records from r while it is consumed. After the stream was
// consumed completely the reader is positioned behind the end marker.
func ReadTransactionStream(r *Reader) (*common.TransactionStream, error) {
	count, err := r.Byte()
	if err != nil {
		return nil, err
	}
	resources := make([]string, count)
	for i := range resources {
		if resources[i], err = r.ReadString(); err != nil {
			return nil, err
		}
	}

	done := false
	return common.NewTransactionStream(resources, func() (common.Transaction, bool, error) {
		if done {
			return common.Transaction{}, false, nil
		}
		idx, err := r.Byte()
		if err != nil {
			return common.Transaction{}, false, err
		}
		if idx == 0 {
			done = true
			return common.Transaction{}, false, nil
		}
		if int(idx) > len(resources) {
			return common.Transaction{}, false, common.ProtocolErrorf("resource index %d out of range (%d resources)", idx, len(resources))
		}
		txID, err := r.Int64()
		if err != nil {
			return common.Transaction{}, false, err
		}
		data, err := r.Block()
		if err != nil {
			return common.Transaction{}, false, err
		}
		return common.Transaction{Resource: resources[idx-1], TxID: txID, Data: data}, true, nil
	}), nil
}
