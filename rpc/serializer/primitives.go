package serializer

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/pkg/errors"
)

const (
	// blockSize is the maximum number of data bytes of one chunk
	blockSize = 255
)

// ErrEmptyBlock is returned when block encoding an empty payload
var ErrEmptyBlock = errors.New("block encoded payload must not be empty")

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer appends encoded values to a buffer
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded data
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutByte(b byte) { w.buf = append(w.buf, b) }

// PutBytes appends raw bytes without a length prefix
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) PutBool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) PutInt32(v int32) { w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v)) }

func (w *Writer) PutInt64(v int64) { w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v)) }

// PutString writes the UTF-16 code unit count followed by the units
func (w *Writer) PutString(s string) {
	units := utf16.Encode([]rune(s))
	w.PutInt32(int32(len(units)))
	for _, u := range units {
		w.buf = binary.BigEndian.AppendUint16(w.buf, u)
	}
}

// PutBlock block encodes data. Full chunks are only written once it is known
// that more data follows, so the last chunk always holds 1 to 255 bytes.
func (w *Writer) PutBlock(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyBlock
	}
	for len(data) > blockSize {
		w.buf = append(w.buf, 0)
		w.buf = append(w.buf, data[:blockSize]...)
		data = data[blockSize:]
	}
	w.buf = append(w.buf, byte(len(data)))
	w.buf = append(w.buf, data...)
	return nil
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// Reader decodes values from a payload, every read is bounds checked
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a reader over data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// ExpectEnd fails if there are unread bytes left
func (r *Reader) ExpectEnd() error {
	if r.Remaining() != 0 {
		return common.ProtocolErrorf("%d unexpected trailing bytes", r.Remaining())
	}
	return nil
}

func (r *Reader) next(n int, what string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, common.ProtocolErrorf("data too short for %s: need %d bytes, have %d", what, n, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Byte() (byte, error) {
	b, err := r.next(1, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, common.ProtocolErrorf("invalid bool value %d", b)
	}
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.next(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.next(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadString reads a string written by PutString
func (r *Reader) ReadString() (string, error) {
	count, err := r.Int32()
	if err != nil {
		return "", err
	}
	if count < 0 || int(count) > r.Remaining()/2 {
		return "", common.ProtocolErrorf("invalid string length %d", count)
	}
	b, _ := r.next(int(count)*2, "string")
	units := make([]uint16, count)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// Block reads a payload written by PutBlock
func (r *Reader) Block() ([]byte, error) {
	var data []byte
	for {
		header, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if header == 0 {
			chunk, err := r.next(blockSize, "block chunk")
			if err != nil {
				return nil, err
			}
			data = append(data, chunk...)
			continue
		}
		chunk, err := r.next(int(header), "block chunk")
		if err != nil {
			return nil, err
		}
		return append(data, chunk...), nil
	}
}
