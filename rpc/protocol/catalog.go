package protocol

import (
	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
)

// Reply is the outcome of executing a request on the master
type Reply struct {
	// Failed is set if the master could not produce a value
	Failed bool
	// WriteValue encodes the response value
	WriteValue func(w *serializer.Writer) error
	// Transactions is the stream written after the value
	Transactions *common.TransactionStream
}

// ExecuteFunc decodes the request body and executes it against the master
type ExecuteFunc func(m common.Master, sc common.SlaveContext, body *serializer.Reader) (Reply, error)

// RequestType is one entry of the catalog
type RequestType struct {
	Ordinal              byte
	Name                 string
	IncludesSlaveContext bool
	// HasTransactionStream is false only for bulk responses
	HasTransactionStream bool
	// Blocking is set for requests that may wait for locks of other contexts
	Blocking bool
	Execute  ExecuteFunc
}

func (rt *RequestType) String() string {
	return rt.Name
}

// reply converts a typed response into a Reply using codec
func reply[T any](resp common.Response[T], err error, codec ValueCodec[T]) (Reply, error) {
	if err != nil {
		return Reply{}, err
	}
	if resp.Failed() {
		return Reply{Failed: true}, nil
	}
	value, _ := resp.Get()
	return Reply{
		WriteValue:   func(w *serializer.Writer) error { return codec.Write(w, value) },
		Transactions: resp.Transactions(),
	}, nil
}

// lockRequest creates the execute function of the four lock request types
func lockRequest(acquire func(m common.Master, sc common.SlaveContext, ids ...int64) (common.Response[common.LockResult], error)) ExecuteFunc {
	return func(m common.Master, sc common.SlaveContext, body *serializer.Reader) (Reply, error) {
		ids, err := serializer.ReadIds(body)
		if err != nil {
			return Reply{}, err
		}
		resp, err := acquire(m, sc, ids...)
		return reply(resp, err, LockResultCodec)
	}
}

// --------------------------------------------------------------------------
// Catalog (append only, the ordinal is the position)
// --------------------------------------------------------------------------

var (
	AllocateIds = RequestType{
		Ordinal: 0, Name: "ALLOCATE_IDS", IncludesSlaveContext: false, HasTransactionStream: true,
		Execute: func(m common.Master, _ common.SlaveContext, body *serializer.Reader) (Reply, error) {
			b, err := body.Byte()
			if err != nil {
				return Reply{}, err
			}
			idType := idgen.IdType(b)
			if !idType.Valid() {
				return Reply{}, common.ProtocolErrorf("unknown id type %d", b)
			}
			resp, err := m.AllocateIds(idType)
			return reply(resp, err, IdAllocationCodec)
		},
	}

	CreateRelationshipType = RequestType{
		Ordinal: 1, Name: "CREATE_RELATIONSHIP_TYPE", IncludesSlaveContext: true, HasTransactionStream: true,
		Execute: func(m common.Master, sc common.SlaveContext, body *serializer.Reader) (Reply, error) {
			name, err := body.ReadString()
			if err != nil {
				return Reply{}, err
			}
			resp, err := m.CreateRelationshipType(sc, name)
			return reply(resp, err, Int32Codec)
		},
	}

	AcquireNodeWriteLock = RequestType{
		Ordinal: 2, Name: "ACQUIRE_NODE_WRITE_LOCK", IncludesSlaveContext: true, HasTransactionStream: true, Blocking: true,
		Execute: lockRequest(common.Master.AcquireNodeWriteLock),
	}

	AcquireNodeReadLock = RequestType{
		Ordinal: 3, Name: "ACQUIRE_NODE_READ_LOCK", IncludesSlaveContext: true, HasTransactionStream: true, Blocking: true,
		Execute: lockRequest(common.Master.AcquireNodeReadLock),
	}

	AcquireRelationshipWriteLock = RequestType{
		Ordinal: 4, Name: "ACQUIRE_RELATIONSHIP_WRITE_LOCK", IncludesSlaveContext: true, HasTransactionStream: true, Blocking: true,
		Execute: lockRequest(common.Master.AcquireRelationshipWriteLock),
	}

	AcquireRelationshipReadLock = RequestType{
		Ordinal: 5, Name: "ACQUIRE_RELATIONSHIP_READ_LOCK", IncludesSlaveContext: true, HasTransactionStream: true, Blocking: true,
		Execute: lockRequest(common.Master.AcquireRelationshipReadLock),
	}

	Commit = RequestType{
		Ordinal: 6, Name: "COMMIT", IncludesSlaveContext: true, HasTransactionStream: true,
		Execute: func(m common.Master, sc common.SlaveContext, body *serializer.Reader) (Reply, error) {
			resource, err := body.ReadString()
			if err != nil {
				return Reply{}, err
			}
			tx, err := body.Block()
			if err != nil {
				return Reply{}, err
			}
			resp, err := m.CommitSingleResourceTransaction(sc, resource, tx)
			return reply(resp, err, Int64Codec)
		},
	}

	PullUpdates = RequestType{
		Ordinal: 7, Name: "PULL_UPDATES", IncludesSlaveContext: true, HasTransactionStream: true,
		Execute: func(m common.Master, sc common.SlaveContext, _ *serializer.Reader) (Reply, error) {
			resp, err := m.PullUpdates(sc)
			return reply(resp, err, VoidCodec)
		},
	}

	Finish = RequestType{
		Ordinal: 8, Name: "FINISH", IncludesSlaveContext: true, HasTransactionStream: true,
		Execute: func(m common.Master, sc common.SlaveContext, _ *serializer.Reader) (Reply, error) {
			resp, err := m.FinishTransaction(sc)
			return reply(resp, err, VoidCodec)
		},
	}

	GetMasterIdForTx = RequestType{
		Ordinal: 9, Name: "GET_MASTER_ID_FOR_TX", IncludesSlaveContext: false, HasTransactionStream: true,
		Execute: func(m common.Master, _ common.SlaveContext, body *serializer.Reader) (Reply, error) {
			txID, err := body.Int64()
			if err != nil {
				return Reply{}, err
			}
			resp, err := m.GetMasterIdForCommittedTx(txID)
			return reply(resp, err, Int32Codec)
		},
	}

	CopyStore = RequestType{
		Ordinal: 10, Name: "COPY_STORE", IncludesSlaveContext: true, HasTransactionStream: false,
		Execute: func(m common.Master, sc common.SlaveContext, _ *serializer.Reader) (Reply, error) {
			files := serializer.NewWriter(64 * 1024)
			resp, err := m.CopyStore(sc, storeBuffer{w: files})
			if err != nil || resp.Failed() {
				return reply(resp, err, VoidCodec)
			}
			WriteStoreEnd(files)
			return Reply{WriteValue: func(w *serializer.Writer) error {
				w.PutBytes(files.Bytes())
				return nil
			}}, nil
		},
	}
)

// catalog lists all request types by ordinal
var catalog = []*RequestType{
	&AllocateIds,
	&CreateRelationshipType,
	&AcquireNodeWriteLock,
	&AcquireNodeReadLock,
	&AcquireRelationshipWriteLock,
	&AcquireRelationshipReadLock,
	&Commit,
	&PullUpdates,
	&Finish,
	&GetMasterIdForTx,
	&CopyStore,
}

// Lookup returns the request type with the given ordinal
func Lookup(ordinal byte) (*RequestType, bool) {
	if int(ordinal) >= len(catalog) {
		return nil, false
	}
	return catalog[ordinal], true
}

// All returns the catalog in ordinal order
func All() []*RequestType {
	result := make([]*RequestType, len(catalog))
	copy(result, catalog)
	return result
}

// MayBlock reports whether the encoded request may wait for locks of other
// contexts. Malformed payloads are not blocking, decoding rejects them.
func MayBlock(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	rt, ok := Lookup(payload[0])
	return ok && rt.Blocking
}
