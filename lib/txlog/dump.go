package txlog

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// dumpHeaderSize is the size of a record header: tx id, master id, data length
const dumpHeaderSize = 8 + 4 + 4

// Dump writes every committed transaction of l to w. Each record is
// [8 tx id][4 master id][4 length][data], all big endian.
func Dump(l Log, w io.Writer) error {
	last, err := l.LastCommittedTxID()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	var header [dumpHeaderSize]byte
	err = l.Extract(0, last, func(txID int64, data []byte) error {
		masterID, err := l.MasterIDFor(txID)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(header[0:8], uint64(txID))
		binary.BigEndian.PutUint32(header[8:12], uint32(masterID))
		binary.BigEndian.PutUint32(header[12:16], uint32(len(data)))
		if _, err := bw.Write(header[:]); err != nil {
			return err
		}
		_, err = bw.Write(data)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to dump log %s", l.Name())
	}
	return bw.Flush()
}

// Restore applies the records written by Dump to l. Records the log already
// contains are skipped, so restoring twice is harmless.
func Restore(l Log, r io.Reader) (applied int, err error) {
	last, err := l.LastCommittedTxID()
	if err != nil {
		return 0, err
	}

	br := bufio.NewReader(r)
	var header [dumpHeaderSize]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return applied, nil
			}
			return applied, errors.Wrapf(err, "log %s: truncated record header", l.Name())
		}
		txID := int64(binary.BigEndian.Uint64(header[0:8]))
		masterID := int32(binary.BigEndian.Uint32(header[8:12]))
		data := make([]byte, binary.BigEndian.Uint32(header[12:16]))
		if _, err := io.ReadFull(br, data); err != nil {
			return applied, errors.Wrapf(err, "log %s: truncated record %d", l.Name(), txID)
		}

		if txID <= last {
			continue
		}
		if err := l.ApplyAt(txID, data, masterID); err != nil {
			return applied, err
		}
		last = txID
		applied++
	}
}
