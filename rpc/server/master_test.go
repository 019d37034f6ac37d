package server

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/protocol"
	"github.com/ValentinKolb/dHA/rpc/serializer"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMaster creates a master (machine 1) whose neostore log holds n transactions
func newTestMaster(t *testing.T, n int) *MasterImpl {
	t.Helper()
	logs := txlog.NewMemoryRegistry()
	log, err := logs.GetOrOpen(common.DefaultResource)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := log.Append([]byte(fmt.Sprintf("tx-%d", i)), 1)
		require.NoError(t, err)
	}

	config := common.DefaultServerConfig()
	config.MachineID = 1
	return NewMaster(config, logs, NewLogStoreSource(logs))
}

func neostoreAt(machineID, eventID int32, txID int64) common.SlaveContext {
	return common.NewSlaveContext(machineID, eventID, common.ResourceTx{Resource: common.DefaultResource, TxID: txID})
}

func txIDs(t *testing.T, s *common.TransactionStream) []int64 {
	t.Helper()
	txs, err := s.Collect()
	require.NoError(t, err)
	var ids []int64
	for _, tx := range txs {
		ids = append(ids, tx.TxID)
	}
	return ids
}

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLockResponseCarriesMissingTransactions(t *testing.T) {
	m := newTestMaster(t, 12)

	resp, err := m.AcquireNodeWriteLock(neostoreAt(2, 7, 10), 5)
	require.NoError(t, err)

	result, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, common.LockOK, result.Status)

	txs, err := resp.Transactions().Collect()
	require.NoError(t, err)
	want := []common.Transaction{
		{Resource: common.DefaultResource, TxID: 11, Data: []byte("tx-11")},
		{Resource: common.DefaultResource, TxID: 12, Data: []byte("tx-12")},
	}
	if diff := cmp.Diff(want, txs); diff != "" {
		t.Errorf("transactions mismatch (-want +got):\n%s", diff)
	}
}

func TestPullUpdates(t *testing.T) {
	m := newTestMaster(t, 3)

	tests := []struct {
		name string
		sc   common.SlaveContext
		want []int64
	}{
		{"Behind", neostoreAt(2, 1, 0), []int64{1, 2, 3}},
		{"PartlyBehind", neostoreAt(2, 1, 2), []int64{3}},
		{"UpToDate", neostoreAt(2, 1, 3), nil},
		{"UnknownResource", common.NewSlaveContext(2, 1, common.ResourceTx{Resource: "index", TxID: 0}), nil},
		{"NoResources", common.NewSlaveContext(2, 1), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// pulling is idempotent
			for i := 0; i < 2; i++ {
				resp, err := m.PullUpdates(tt.sc)
				require.NoError(t, err)
				assert.Equal(t, tt.want, txIDs(t, resp.Transactions()))
			}
		})
	}
}

func TestCommitExcludesOwnTransaction(t *testing.T) {
	m := newTestMaster(t, 0)

	other, err := m.CommitSingleResourceTransaction(neostoreAt(3, 1, 0), common.DefaultResource, []byte("other"))
	require.NoError(t, err)
	otherID, err := other.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(1), otherID)
	assert.Empty(t, txIDs(t, other.Transactions()))

	own, err := m.CommitSingleResourceTransaction(neostoreAt(2, 1, 0), common.DefaultResource, []byte("own"))
	require.NoError(t, err)
	ownID, err := own.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(2), ownID)
	assert.Equal(t, []int64{1}, txIDs(t, own.Transactions()))

	masterID, err := m.GetMasterIdForCommittedTx(2)
	require.NoError(t, err)
	id, err := masterID.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)
}

func TestCommitOpensNewResource(t *testing.T) {
	m := newTestMaster(t, 0)

	resp, err := m.CommitSingleResourceTransaction(neostoreAt(2, 1, 0), "index", []byte("entry"))
	require.NoError(t, err)
	id, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Contains(t, m.Logs().Names(), "index")
}

func TestCommitEmptyTransactionFails(t *testing.T) {
	m := newTestMaster(t, 0)

	resp, err := m.CommitSingleResourceTransaction(neostoreAt(2, 1, 0), common.DefaultResource, nil)
	require.NoError(t, err)
	assert.True(t, resp.Failed())
}

func TestCommitReleasesLocks(t *testing.T) {
	m := newTestMaster(t, 0)
	a, b := neostoreAt(2, 1, 0), neostoreAt(3, 1, 0)

	resp, err := m.AcquireNodeWriteLock(a, 1)
	require.NoError(t, err)
	assertLocked(t, resp)
	assert.Equal(t, 1, m.ActiveContexts())

	_, err = m.CommitSingleResourceTransaction(a, common.DefaultResource, []byte("tx"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.ActiveContexts())

	// would block if the lock of a were still held
	resp, err = m.AcquireNodeWriteLock(b, 1)
	require.NoError(t, err)
	assertLocked(t, resp)

	// finishing a committed context is harmless
	_, err = m.FinishTransaction(a)
	require.NoError(t, err)
}

func TestDeadlockBetweenContexts(t *testing.T) {
	m := newTestMaster(t, 0)
	a, b := neostoreAt(2, 1, 0), neostoreAt(3, 1, 0)

	resp, err := m.AcquireNodeWriteLock(a, 1)
	require.NoError(t, err)
	assertLocked(t, resp)
	resp, err = m.AcquireNodeWriteLock(b, 2)
	require.NoError(t, err)
	assertLocked(t, resp)

	// a waits for b
	done := make(chan common.Response[common.LockResult], 1)
	go func() {
		resp, _ := m.AcquireNodeWriteLock(a, 2)
		done <- resp
	}()
	time.Sleep(50 * time.Millisecond)

	// b waiting for a would close the cycle
	resp, err = m.AcquireNodeWriteLock(b, 1)
	require.NoError(t, err)
	result, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, common.LockDeadlocked, result.Status)
	assert.NotEmpty(t, result.Message)

	// b gives up, a gets the lock
	_, err = m.FinishTransaction(b)
	require.NoError(t, err)
	select {
	case resp := <-done:
		assertLocked(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not granted after the other context finished")
	}
}

func TestRollbackOnDisconnect(t *testing.T) {
	m := newTestMaster(t, 0)
	a, b := neostoreAt(2, 1, 0), neostoreAt(3, 1, 0)

	m.Bind("conn-a", a)
	resp, err := m.AcquireRelationshipWriteLock(a, 9)
	require.NoError(t, err)
	assertLocked(t, resp)

	done := make(chan common.Response[common.LockResult], 1)
	go func() {
		resp, _ := m.AcquireRelationshipReadLock(b, 9)
		done <- resp
	}()
	time.Sleep(50 * time.Millisecond)

	m.ConnectionClosed("conn-a")
	select {
	case resp := <-done:
		assertLocked(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not released on disconnect")
	}
}

// handle sends one request through the adapter on the given connection
func handle(t *testing.T, adapter IRPCServerAdapter, connID string, rt *protocol.RequestType, sc common.SlaveContext, body func(w *serializer.Writer) error) {
	t.Helper()
	req, err := protocol.EncodeRequest(rt, sc, body)
	require.NoError(t, err)
	_, err = adapter.Handle(connID, req)
	require.NoError(t, err)
}

func lockBody(ids ...int64) func(w *serializer.Writer) error {
	return func(w *serializer.Writer) error {
		serializer.WriteIds(w, ids)
		return nil
	}
}

func TestContextsWithoutUnitOfWorkAreNotBound(t *testing.T) {
	m := newTestMaster(t, 1)
	adapter := NewMasterServerAdapter(m)

	for i := int32(1); i <= 1000; i++ {
		sc := neostoreAt(2, i, 1)
		handle(t, adapter, "conn-a", &protocol.PullUpdates, sc, nil)
		handle(t, adapter, "conn-a", &protocol.Finish, sc, nil)
	}
	assert.Equal(t, 0, m.BoundContexts())

	// a lock starts a unit of work, finishing it unbinds the context
	sc := neostoreAt(2, 1001, 1)
	handle(t, adapter, "conn-a", &protocol.AcquireNodeWriteLock, sc, lockBody(1))
	assert.Equal(t, 1, m.BoundContexts())
	handle(t, adapter, "conn-a", &protocol.Finish, sc, nil)
	assert.Equal(t, 0, m.BoundContexts())
	assert.Equal(t, 0, m.ActiveContexts())
}

func TestClosedConnectionKeepsReboundContext(t *testing.T) {
	m := newTestMaster(t, 0)
	adapter := NewMasterServerAdapter(m)
	sc := neostoreAt(2, 1, 0)

	// the context is used on conn-a and ends there
	handle(t, adapter, "conn-a", &protocol.AcquireNodeWriteLock, sc, lockBody(1))
	handle(t, adapter, "conn-a", &protocol.Finish, sc, nil)

	// the same context starts a new unit of work on conn-b
	handle(t, adapter, "conn-b", &protocol.AcquireNodeWriteLock, sc, lockBody(2))
	require.Equal(t, 1, m.ActiveContexts())

	m.ConnectionClosed("conn-a")
	assert.Equal(t, 1, m.ActiveContexts())

	// moving a live context to another connection unbinds it from the old one
	handle(t, adapter, "conn-c", &protocol.AcquireNodeWriteLock, sc, lockBody(3))
	m.ConnectionClosed("conn-b")
	assert.Equal(t, 1, m.ActiveContexts())

	m.ConnectionClosed("conn-c")
	assert.Equal(t, 0, m.ActiveContexts())
	assert.Equal(t, 0, m.BoundContexts())
}

func TestNotLockedAfterSlaveGone(t *testing.T) {
	m := newTestMaster(t, 0)
	a, b := neostoreAt(2, 1, 0), neostoreAt(3, 1, 0)

	resp, err := m.AcquireNodeWriteLock(a, 1)
	require.NoError(t, err)
	assertLocked(t, resp)

	done := make(chan common.Response[common.LockResult], 1)
	go func() {
		resp, _ := m.AcquireNodeReadLock(b, 1)
		done <- resp
	}()
	waitFor(t, func() bool { return m.ActiveContexts() == 2 })
	time.Sleep(50 * time.Millisecond)

	m.SlaveGone(3)
	select {
	case resp := <-done:
		result, err := resp.Get()
		require.NoError(t, err)
		assert.Equal(t, common.LockNotLocked, result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting lock request was not ended")
	}

	// a retry with the same context starts over
	m.SlaveGone(2)
	resp, err = m.AcquireNodeReadLock(b, 1)
	require.NoError(t, err)
	assertLocked(t, resp)
}

func TestCreateRelationshipTypeConcurrently(t *testing.T) {
	m := newTestMaster(t, 0)

	const n = 16
	ids := make([]int32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := m.CreateRelationshipType(neostoreAt(int32(i+2), 1, 0), "KNOWS")
			assert.NoError(t, err)
			ids[i], err = resp.Get()
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	other, err := m.CreateRelationshipType(neostoreAt(2, 1, 0), "LIKES")
	require.NoError(t, err)
	otherID, _ := other.Get()
	assert.NotEqual(t, ids[0], otherID)
}

func TestAllocateIds(t *testing.T) {
	m := newTestMaster(t, 0)

	first, err := m.AllocateIds(idgen.Node)
	require.NoError(t, err)
	a, err := first.Get()
	require.NoError(t, err)
	assert.Equal(t, common.DefaultIdBatchSize, a.Size())
	assert.Equal(t, int64(0), a.RangeStart)

	require.NoError(t, m.IdGenerator().Free(idgen.Node, 17))

	second, err := m.AllocateIds(idgen.Node)
	require.NoError(t, err)
	b, err := second.Get()
	require.NoError(t, err)
	assert.Equal(t, []int64{17}, b.DefragIDs)
	assert.Equal(t, int64(common.DefaultIdBatchSize), b.RangeStart)
	assert.Equal(t, int32(common.DefaultIdBatchSize-1), b.RangeLength)
	assert.Nil(t, second.Transactions())

	// types are independent
	rels, err := m.AllocateIds(idgen.Relationship)
	require.NoError(t, err)
	r, _ := rels.Get()
	assert.Equal(t, int64(0), r.RangeStart)
}

func TestGetMasterIdForUnknownTx(t *testing.T) {
	m := newTestMaster(t, 2)

	resp, err := m.GetMasterIdForCommittedTx(3)
	require.NoError(t, err)
	assert.True(t, resp.Failed())
	_, err = resp.Get()
	assert.ErrorIs(t, err, common.ErrMasterCommunicationFailed)
}

func TestExcludeFunc(t *testing.T) {
	m := newTestMaster(t, 4)
	m.SetExcludeFunc(func(sc common.SlaveContext, resource string, txID int64) bool {
		return txID%2 == 0
	})

	resp, err := m.PullUpdates(neostoreAt(2, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, txIDs(t, resp.Transactions()))
}

type recordingStoreWriter struct {
	files map[string][]byte
}

func (w *recordingStoreWriter) WriteFile(path string, data []byte) error {
	w.files[path] = data
	return nil
}

func TestCopyStore(t *testing.T) {
	m := newTestMaster(t, 2)
	_, err := m.Logs().GetOrOpen("index")
	require.NoError(t, err)

	w := &recordingStoreWriter{files: make(map[string][]byte)}
	resp, err := m.CopyStore(neostoreAt(2, 1, 0), w)
	require.NoError(t, err)
	require.False(t, resp.Failed())

	require.Len(t, w.files, 2)
	assert.Empty(t, w.files[LogDir+"index"])

	restored := txlog.NewMemoryLog(common.DefaultResource)
	applied, err := txlog.Restore(restored, bytes.NewReader(w.files[LogDir+common.DefaultResource]))
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
}

func TestCopyStoreWithoutSource(t *testing.T) {
	m := NewMaster(common.DefaultServerConfig(), txlog.NewMemoryRegistry(), nil)

	resp, err := m.CopyStore(neostoreAt(2, 1, 0), &recordingStoreWriter{files: map[string][]byte{}})
	require.NoError(t, err)
	assert.True(t, resp.Failed())
}

func assertLocked(t *testing.T, resp common.Response[common.LockResult]) {
	t.Helper()
	result, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, common.LockOK, result.Status, result.Message)
}
