package client

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/server"
	"github.com/ValentinKolb/dHA/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startMaster serves a master (machine 1) on a random local port
func startMaster(t *testing.T) (*server.MasterImpl, common.ClientConfig) {
	t.Helper()
	return startMasterWithWorkers(t, common.DefaultServerConfig().MaxWorkers)
}

func startMasterWithWorkers(t *testing.T, workers int) (*server.MasterImpl, common.ClientConfig) {
	t.Helper()

	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	config.TimeoutSecond = 2
	config.MaxWorkers = workers

	logs := txlog.NewMemoryRegistry()
	_, err := logs.GetOrOpen(common.DefaultResource)
	require.NoError(t, err)
	master := server.NewMaster(config, logs, server.NewLogStoreSource(logs))

	s := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), master)
	go func() { _ = s.Serve() }()
	addr := s.Addr()
	require.NotNil(t, addr)
	t.Cleanup(func() { _ = s.Close() })

	clientConfig := common.DefaultClientConfig(addr.String())
	clientConfig.TimeoutSecond = 2
	clientConfig.ConnectBackoffMillis = 10
	return master, clientConfig
}

func newClient(t *testing.T, config common.ClientConfig) *MasterClient {
	t.Helper()
	c, err := NewMasterClient(config, tcp.NewTCPClientTransport())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func neostoreAt(machineID, eventID int32, txID int64) common.SlaveContext {
	return common.NewSlaveContext(machineID, eventID, common.ResourceTx{Resource: common.DefaultResource, TxID: txID})
}

func TestLockWithMissingTransactions(t *testing.T) {
	master, config := startMaster(t)
	log, _ := master.Logs().Get(common.DefaultResource)
	for i := 0; i < 12; i++ {
		_, err := log.Append([]byte{byte(i + 1)}, 1)
		require.NoError(t, err)
	}

	c := newClient(t, config)
	s := c.Session()
	defer s.Close()

	sc := neostoreAt(2, 7, 10)
	resp, err := s.AcquireNodeWriteLock(sc, 1, 2)
	require.NoError(t, err)

	result, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, common.LockOK, result.Status)

	txs, err := resp.Transactions().Collect()
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(11), txs[0].TxID)
	assert.Equal(t, []byte{11}, txs[0].Data)
	assert.Equal(t, int64(12), txs[1].TxID)

	_, err = s.FinishTransaction(sc)
	require.NoError(t, err)
	assert.Equal(t, 0, master.ActiveContexts())
}

func TestCommitAndMasterID(t *testing.T) {
	_, config := startMaster(t)
	c := newClient(t, config)
	s := c.Session()
	defer s.Close()

	sc := neostoreAt(2, 1, 0)
	resp, err := s.CommitSingleResourceTransaction(sc, common.DefaultResource, make([]byte, 600))
	require.NoError(t, err)
	txID, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(1), txID)

	txs, err := resp.Transactions().Collect()
	require.NoError(t, err)
	assert.Empty(t, txs, "the own transaction is not sent back")

	masterID, err := c.GetMasterIdForCommittedTx(txID)
	require.NoError(t, err)
	id, err := masterID.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)
}

func TestAllocateIds(t *testing.T) {
	_, config := startMaster(t)
	c := newClient(t, config)

	resp, err := c.AllocateIds(idgen.Property)
	require.NoError(t, err)
	alloc, err := resp.Get()
	require.NoError(t, err)
	assert.Equal(t, common.DefaultIdBatchSize, alloc.Size())
	assert.Equal(t, int64(common.DefaultIdBatchSize-1), alloc.HighestIDInUse)
}

func TestCreateRelationshipTypeAndPull(t *testing.T) {
	master, config := startMaster(t)
	c := newClient(t, config)
	s := c.Session()
	defer s.Close()

	sc := neostoreAt(2, 1, 0)
	first, err := s.CreateRelationshipType(sc, "KNOWS")
	require.NoError(t, err)
	second, err := s.CreateRelationshipType(sc, "KNOWS")
	require.NoError(t, err)
	a, _ := first.Get()
	b, _ := second.Get()
	assert.Equal(t, a, b)

	log, _ := master.Logs().Get(common.DefaultResource)
	_, err = log.Append([]byte("x"), 1)
	require.NoError(t, err)

	pulled, err := s.PullUpdates(sc)
	require.NoError(t, err)
	txs, err := pulled.Transactions().Collect()
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

type recordingStoreWriter struct {
	files map[string][]byte
}

func (w *recordingStoreWriter) WriteFile(path string, data []byte) error {
	w.files[path] = data
	return nil
}

func TestCopyStore(t *testing.T) {
	master, config := startMaster(t)
	log, _ := master.Logs().Get(common.DefaultResource)
	_, err := log.Append([]byte("x"), 1)
	require.NoError(t, err)
	_, err = master.Logs().GetOrOpen("index")
	require.NoError(t, err)

	c := newClient(t, config)
	s := c.Session()
	defer s.Close()

	w := &recordingStoreWriter{files: make(map[string][]byte)}
	resp, err := s.CopyStore(neostoreAt(2, 1, 0), w)
	require.NoError(t, err)
	assert.False(t, resp.Failed())
	assert.Len(t, w.files, 2)
	assert.NotEmpty(t, w.files[server.LogDir+common.DefaultResource])
	assert.Empty(t, w.files[server.LogDir+"index"])
}

func TestFailedResponseIsCommunicationError(t *testing.T) {
	_, config := startMaster(t)
	c := newClient(t, config)

	// there is no tx 99, the master closes the connection
	_, err := c.GetMasterIdForCommittedTx(99)
	assert.ErrorIs(t, err, common.ErrCommunication)
	assert.Equal(t, int64(1), c.Metrics().Get("dha.client.communication_errors").(interface{ Count() int64 }).Count())

	// the client recovers with a new connection
	resp, err := c.AllocateIds(idgen.Node)
	require.NoError(t, err)
	assert.False(t, resp.Failed())
}

func TestDisconnectRollsBackContext(t *testing.T) {
	master, config := startMaster(t)
	c := newClient(t, config)

	a := c.Session()
	resp, err := a.AcquireNodeWriteLock(neostoreAt(2, 1, 0), 1)
	require.NoError(t, err)
	result, _ := resp.Get()
	require.Equal(t, common.LockOK, result.Status)

	// dropping the connection of a without FINISH
	a.ch.Close()
	a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for master.ActiveContexts() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, master.ActiveContexts())

	b := c.Session()
	defer b.Close()
	resp, err = b.AcquireNodeWriteLock(neostoreAt(3, 1, 0), 1)
	require.NoError(t, err)
	result, _ = resp.Get()
	assert.Equal(t, common.LockOK, result.Status)
}

func TestSessionReusesConnection(t *testing.T) {
	_, config := startMaster(t)
	c := newClient(t, config)

	s := c.Session()
	sc := neostoreAt(2, 1, 0)
	_, err := s.PullUpdates(sc)
	require.NoError(t, err)
	first := s.ch.ID()
	_, err = s.PullUpdates(sc)
	require.NoError(t, err)
	assert.Equal(t, first, s.ch.ID())

	_, err = s.FinishTransaction(sc)
	require.NoError(t, err)
	assert.Nil(t, s.ch)

	// the next session gets the idle connection
	next := c.Session()
	defer next.Close()
	_, err = next.PullUpdates(sc)
	require.NoError(t, err)
	assert.Equal(t, first, next.ch.ID())
	s.Close()
}

func TestConnectFailure(t *testing.T) {
	config := common.DefaultClientConfig("127.0.0.1:1")
	config.ConnectBackoffMillis = 1
	c := newClient(t, config)

	_, err := c.AllocateIds(idgen.Node)
	assert.ErrorIs(t, err, common.ErrCommunication)

	s := c.Session()
	s.Close()
	_, err = s.PullUpdates(neostoreAt(2, 1, 0))
	assert.ErrorIs(t, err, common.ErrCommunication)
}

func TestLockWaitDoesNotTakeTheLastWorker(t *testing.T) {
	_, config := startMasterWithWorkers(t, 1)
	c := newClient(t, config)

	holder := c.Session()
	defer holder.Close()
	holderCtx := neostoreAt(2, 1, 0)
	resp, err := holder.AcquireNodeWriteLock(holderCtx, 1)
	require.NoError(t, err)
	result, err := resp.Get()
	require.NoError(t, err)
	require.Equal(t, common.LockOK, result.Status)

	type outcome struct {
		status common.LockStatus
		err    error
	}
	waited := make(chan outcome, 1)
	waiter := c.Session()
	defer waiter.Close()
	go func() {
		resp, err := waiter.AcquireNodeWriteLock(neostoreAt(3, 1, 0), 1)
		if err != nil {
			waited <- outcome{err: err}
			return
		}
		result, err := resp.Get()
		waited <- outcome{status: result.Status, err: err}
	}()

	// the waiter is parked on the lock of the holder
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_, err = holder.FinishTransaction(holderCtx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case o := <-waited:
		require.NoError(t, o.err)
		assert.Equal(t, common.LockOK, o.status)
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not granted after the holder finished")
	}
}
