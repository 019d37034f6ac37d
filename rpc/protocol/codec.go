package protocol

import (
	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
)

// ValueCodec encodes and decodes the response value of a request type
type ValueCodec[T any] struct {
	Write func(w *serializer.Writer, v T) error
	Read  func(r *serializer.Reader) (T, error)
}

var (
	VoidCodec = ValueCodec[common.Void]{
		Write: func(*serializer.Writer, common.Void) error { return nil },
		Read:  func(*serializer.Reader) (common.Void, error) { return common.Void{}, nil },
	}

	Int32Codec = ValueCodec[int32]{
		Write: func(w *serializer.Writer, v int32) error { w.PutInt32(v); return nil },
		Read:  func(r *serializer.Reader) (int32, error) { return r.Int32() },
	}

	Int64Codec = ValueCodec[int64]{
		Write: func(w *serializer.Writer, v int64) error { w.PutInt64(v); return nil },
		Read:  func(r *serializer.Reader) (int64, error) { return r.Int64() },
	}

	LockResultCodec = ValueCodec[common.LockResult]{
		Write: func(w *serializer.Writer, v common.LockResult) error { serializer.WriteLockResult(w, v); return nil },
		Read:  serializer.ReadLockResult,
	}

	IdAllocationCodec = ValueCodec[idgen.IdAllocation]{
		Write: func(w *serializer.Writer, v idgen.IdAllocation) error { serializer.WriteIdAllocation(w, v); return nil },
		Read:  serializer.ReadIdAllocation,
	}
)

// --------------------------------------------------------------------------
// Store files: repeated [string path][1 hasData][block data if hasData], then an empty path
// --------------------------------------------------------------------------

// WriteStoreFile appends one file of a store copy
func WriteStoreFile(w *serializer.Writer, path string, data []byte) error {
	if path == "" {
		return common.ProtocolErrorf("store file without path")
	}
	w.PutString(path)
	w.PutBool(len(data) > 0)
	if len(data) > 0 {
		return w.PutBlock(data)
	}
	return nil
}

// WriteStoreEnd terminates the list of store files
func WriteStoreEnd(w *serializer.Writer) {
	w.PutString("")
}

// ReadStoreFiles decodes store files and hands them to sw until the end marker
func ReadStoreFiles(r *serializer.Reader, sw common.StoreWriter) error {
	for {
		path, err := r.ReadString()
		if err != nil {
			return err
		}
		if path == "" {
			return nil
		}
		hasData, err := r.Bool()
		if err != nil {
			return err
		}
		var data []byte
		if hasData {
			if data, err = r.Block(); err != nil {
				return err
			}
		}
		if err := sw.WriteFile(path, data); err != nil {
			return err
		}
	}
}

// storeBuffer is a StoreWriter encoding the files into a writer
type storeBuffer struct {
	w *serializer.Writer
}

func (b storeBuffer) WriteFile(path string, data []byte) error {
	return WriteStoreFile(b.w, path, data)
}
