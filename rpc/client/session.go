package client

import (
	"sync"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/protocol"
	"github.com/ValentinKolb/dHA/rpc/serializer"
	"github.com/ValentinKolb/dHA/rpc/transport"
)

// Session is the connection of one slave operation to the master. All
// requests of a slave context have to be sent on the same session, the
// master ties the locks of the context to the connection.
type Session struct {
	client *MasterClient
	mu     sync.Mutex
	ch     transport.Channel
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see common.Master)
// --------------------------------------------------------------------------

func (s *Session) AllocateIds(idType idgen.IdType) (common.Response[idgen.IdAllocation], error) {
	return call(s, &protocol.AllocateIds, common.SlaveContext{}, func(w *serializer.Writer) error {
		w.PutByte(byte(idType))
		return nil
	}, protocol.IdAllocationCodec)
}

func (s *Session) CreateRelationshipType(sc common.SlaveContext, name string) (common.Response[int32], error) {
	return call(s, &protocol.CreateRelationshipType, sc, func(w *serializer.Writer) error {
		w.PutString(name)
		return nil
	}, protocol.Int32Codec)
}

func (s *Session) AcquireNodeWriteLock(sc common.SlaveContext, nodes ...int64) (common.Response[common.LockResult], error) {
	return s.lock(&protocol.AcquireNodeWriteLock, sc, nodes)
}

func (s *Session) AcquireNodeReadLock(sc common.SlaveContext, nodes ...int64) (common.Response[common.LockResult], error) {
	return s.lock(&protocol.AcquireNodeReadLock, sc, nodes)
}

func (s *Session) AcquireRelationshipWriteLock(sc common.SlaveContext, rels ...int64) (common.Response[common.LockResult], error) {
	return s.lock(&protocol.AcquireRelationshipWriteLock, sc, rels)
}

func (s *Session) AcquireRelationshipReadLock(sc common.SlaveContext, rels ...int64) (common.Response[common.LockResult], error) {
	return s.lock(&protocol.AcquireRelationshipReadLock, sc, rels)
}

func (s *Session) CommitSingleResourceTransaction(sc common.SlaveContext, resource string, tx []byte) (common.Response[int64], error) {
	return call(s, &protocol.Commit, sc, func(w *serializer.Writer) error {
		w.PutString(resource)
		return w.PutBlock(tx)
	}, protocol.Int64Codec)
}

func (s *Session) PullUpdates(sc common.SlaveContext) (common.Response[common.Void], error) {
	return call(s, &protocol.PullUpdates, sc, nil, protocol.VoidCodec)
}

// FinishTransaction ends the operation of the context and returns the
// connection of the session to the idle pool
func (s *Session) FinishTransaction(sc common.SlaveContext) (common.Response[common.Void], error) {
	resp, err := call(s, &protocol.Finish, sc, nil, protocol.VoidCodec)
	s.release()
	return resp, err
}

func (s *Session) GetMasterIdForCommittedTx(txID int64) (common.Response[int32], error) {
	return call(s, &protocol.GetMasterIdForTx, common.SlaveContext{}, func(w *serializer.Writer) error {
		w.PutInt64(txID)
		return nil
	}, protocol.Int32Codec)
}

func (s *Session) CopyStore(sc common.SlaveContext, sw common.StoreWriter) (common.Response[common.Void], error) {
	codec := protocol.ValueCodec[common.Void]{
		Read: func(r *serializer.Reader) (common.Void, error) {
			return common.Void{}, protocol.ReadStoreFiles(r, sw)
		},
	}
	return call(s, &protocol.CopyStore, sc, nil, codec)
}

// Close returns the connection to the idle pool. The session must not be
// used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	s.release()
	if !wasClosed {
		s.client.metrics.activeSessions.Dec(1)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Session) lock(rt *protocol.RequestType, sc common.SlaveContext, ids []int64) (common.Response[common.LockResult], error) {
	return call(s, rt, sc, func(w *serializer.Writer) error {
		serializer.WriteIds(w, ids)
		return nil
	}, protocol.LockResultCodec)
}

// call performs one request on the connection of the session
func call[T any](s *Session, rt *protocol.RequestType, sc common.SlaveContext, body func(w *serializer.Writer) error, codec protocol.ValueCodec[T]) (common.Response[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.Response[T]{}, common.CommunicationError(nil, "session is closed")
	}

	// Acquire the connection on first use
	if s.ch == nil {
		ch, err := s.client.transport.Acquire()
		if err != nil {
			s.client.metrics.acquireErrors.Inc(1)
			return common.Response[T]{}, err
		}
		s.ch = ch
	}

	resp, err := invokeRPCRequest(s.ch, s.client.metrics, rt, sc, body, codec)
	if s.ch.Broken() {
		// the context of the session is lost on the master
		s.client.transport.Release(s.ch)
		s.ch = nil
	}
	if err != nil {
		Logger.Debugf("%s failed: %v", rt, err)
	}
	return resp, err
}

// release returns the connection to the pool
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.client.transport.Release(s.ch)
		s.ch = nil
	}
}
