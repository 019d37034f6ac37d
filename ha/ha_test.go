package ha

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/lib/membership"
	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/server"
	"github.com/ValentinKolb/dHA/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test cluster: machine 1 is master, machine 2 is slave
// --------------------------------------------------------------------------

type testCluster struct {
	master  *server.MasterImpl
	server  *server.RPCServer
	members *membership.StaticMembership
	broker  *Broker
	slave   *Slave
}

func newTestCluster(t *testing.T) *testCluster {
	return newTestClusterWithLogs(t, txlog.NewMemoryRegistry())
}

// newTestClusterWithLogs creates a cluster whose master uses the given logs
func newTestClusterWithLogs(t *testing.T, logs *txlog.Registry) *testCluster {
	t.Helper()

	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	config.TimeoutSecond = 2

	_, err := logs.GetOrOpen(common.DefaultResource)
	require.NoError(t, err)
	master := server.NewMaster(config, logs, server.NewLogStoreSource(logs))

	srv := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), master)
	go func() { _ = srv.Serve() }()
	addr := srv.Addr()
	require.NotNil(t, addr)
	t.Cleanup(func() { _ = srv.Close() })

	members := membership.NewStaticMembership(
		membership.Machine{ID: 1, Address: addr.String()},
		membership.Machine{ID: 2, Address: "127.0.0.1:1"},
	)

	c := &testCluster{
		master:  master,
		server:  srv,
		members: members,
	}
	c.slave = c.newSlave(t, 2)
	c.broker = c.slave.Broker()
	return c
}

// newSlave creates another slave of the cluster with empty logs
func (c *testCluster) newSlave(t *testing.T, machineID int32) *Slave {
	t.Helper()

	clientConfig := common.DefaultClientConfig("")
	clientConfig.TimeoutSecond = 2
	clientConfig.ConnectBackoffMillis = 1
	broker := NewBroker(membership.Machine{ID: machineID}, c.members, nil, clientConfig, tcp.NewTCPClientTransport)
	t.Cleanup(broker.Close)

	applier, err := NewApplier(machineID, txlog.NewMemoryRegistry(), common.DefaultResource)
	require.NoError(t, err)
	return NewSlave(SlaveConfig{}, broker, applier)
}

// commitOnMaster appends n transactions directly to the log of the master
func (c *testCluster) commitOnMaster(t *testing.T, n int) {
	t.Helper()
	log, ok := c.master.Logs().Get(common.DefaultResource)
	require.True(t, ok)
	for i := 0; i < n; i++ {
		_, err := log.Append([]byte(fmt.Sprintf("master-%d", i)), 1)
		require.NoError(t, err)
	}
}

func lastApplied(t *testing.T, s *Slave, resource string) int64 {
	t.Helper()
	log, err := s.Applier().Logs().GetOrOpen(resource)
	require.NoError(t, err)
	last, err := log.LastCommittedTxID()
	require.NoError(t, err)
	return last
}

// --------------------------------------------------------------------------
// Slave tests
// --------------------------------------------------------------------------

func TestLockAppliesMissingTransactions(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	c.commitOnMaster(t, 10)
	_, err := c.slave.PullUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), lastApplied(t, c.slave, common.DefaultResource))

	c.commitOnMaster(t, 2)

	tx, err := c.slave.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AcquireNodeWriteLock(42))
	assert.Equal(t, int64(12), lastApplied(t, c.slave, common.DefaultResource))
	assert.Equal(t, 1, c.master.ActiveContexts())

	require.NoError(t, tx.Finish())
	assert.Equal(t, 0, c.master.ActiveContexts())
	require.NoError(t, tx.Finish())

	assert.ErrorIs(t, tx.AcquireNodeReadLock(1), ErrTransactionFinished)
}

func TestPullUpdatesIsIdempotent(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	c.commitOnMaster(t, 3)

	applied, err := c.slave.PullUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	applied, err = c.slave.PullUpdates(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestCommit(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	c.commitOnMaster(t, 1)

	tx, err := c.slave.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AcquireNodeWriteLock(1))

	txID, err := tx.Commit(common.DefaultResource, []byte("slave"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), txID)
	require.NoError(t, tx.Finish())

	log, _ := c.slave.Applier().Logs().Get(common.DefaultResource)
	var got []string
	require.NoError(t, log.Extract(0, 2, func(id int64, data []byte) error {
		got = append(got, string(data))
		return nil
	}))
	assert.Equal(t, []string{"master-0", "slave"}, got)

	masterID, err := log.MasterIDFor(2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), masterID)

	require.NoError(t, CheckBranchedData(ctx, c.slave, common.DefaultResource))
}

// interleavingLog appends a transaction of another committer right after the
// first Append, like a commit of a second slave arriving in between
type interleavingLog struct {
	txlog.Log
	once sync.Once
}

func (l *interleavingLog) Append(data []byte, masterID int32) (int64, error) {
	txID, err := l.Log.Append(data, masterID)
	if err != nil {
		return txID, err
	}
	l.once.Do(func() {
		_, err = l.Log.Append([]byte("other-slave"), masterID)
	})
	return txID, err
}

func TestCommitWithInterleavedCommit(t *testing.T) {
	logs := txlog.NewRegistry(func(name string) (txlog.Log, error) {
		return &interleavingLog{Log: txlog.NewMemoryLog(name)}, nil
	})
	c := newTestClusterWithLogs(t, logs)
	ctx := context.Background()

	tx, err := c.slave.Begin(ctx)
	require.NoError(t, err)
	txID, err := tx.Commit(common.DefaultResource, []byte("own"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), txID)
	require.NoError(t, tx.Finish())

	assert.Equal(t, int64(2), lastApplied(t, c.slave, common.DefaultResource))
	log, ok := c.slave.Applier().Logs().Get(common.DefaultResource)
	require.True(t, ok)
	var data []string
	require.NoError(t, log.Extract(0, 2, func(_ int64, d []byte) error {
		data = append(data, string(d))
		return nil
	}))
	assert.Equal(t, []string{"own", "other-slave"}, data)

	// the master stays cached
	c.broker.mu.Lock()
	assert.NotNil(t, c.broker.current)
	c.broker.mu.Unlock()
}

func TestConcurrentCommitsOfTwoSlaves(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	slaves := []*Slave{c.slave, c.newSlave(t, 3)}

	const commits = 25
	var wg sync.WaitGroup
	for _, s := range slaves {
		wg.Add(1)
		go func(s *Slave) {
			defer wg.Done()
			for i := 0; i < commits; i++ {
				tx, err := s.Begin(ctx)
				if !assert.NoError(t, err) {
					return
				}
				_, err = tx.Commit(common.DefaultResource, []byte(fmt.Sprintf("%d-%d", s.Applier().machineID, i)))
				assert.NoError(t, err)
				assert.NoError(t, tx.Finish())
			}
		}(s)
	}
	wg.Wait()

	for _, s := range slaves {
		_, err := s.PullUpdates(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2*commits), lastApplied(t, s, common.DefaultResource))
	}
}

func TestDeadlock(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	a, err := c.slave.Begin(ctx)
	require.NoError(t, err)
	b, err := c.slave.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, a.AcquireNodeWriteLock(1))
	require.NoError(t, b.AcquireNodeWriteLock(2))

	done := make(chan error, 1)
	go func() { done <- a.AcquireNodeWriteLock(2) }()
	time.Sleep(100 * time.Millisecond)

	err = b.AcquireNodeWriteLock(1)
	var deadlock *DeadlockError
	require.ErrorAs(t, err, &deadlock)
	assert.NotEmpty(t, deadlock.Message)

	require.NoError(t, b.Finish())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("lock was not granted")
	}
	require.NoError(t, a.Finish())
}

func TestCreateRelationshipType(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	const n = 8
	ids := make([]int32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.slave.CreateRelationshipType(ctx, "KNOWS")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	masterID, ok := c.master.Tokens().Get("KNOWS")
	require.True(t, ok)
	assert.Equal(t, masterID, ids[0])
}

func TestNextIDUsesMasterBatches(t *testing.T) {
	c := newTestCluster(t)

	for i := 0; i < common.DefaultIdBatchSize; i++ {
		id, err := c.slave.NextID(idgen.Node)
		require.NoError(t, err)
		require.Equal(t, int64(i), id)
	}
	assert.Equal(t, int64(common.DefaultIdBatchSize-1), c.slave.Ids().HighestIDInUse(idgen.Node))

	id, err := c.slave.NextID(idgen.Node)
	require.NoError(t, err)
	assert.Equal(t, int64(common.DefaultIdBatchSize), id)
}

func TestCommunicationFailureInvalidatesMaster(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	_, err := c.slave.PullUpdates(ctx)
	require.NoError(t, err)
	assert.False(t, c.broker.IsMaster())
	c.broker.mu.Lock()
	cached := c.broker.current != nil
	c.broker.mu.Unlock()
	require.True(t, cached)

	require.NoError(t, c.server.Close())

	_, err = c.slave.PullUpdates(ctx)
	assert.ErrorIs(t, err, common.ErrCommunication)
	c.broker.mu.Lock()
	cached = c.broker.current != nil
	c.broker.mu.Unlock()
	assert.False(t, cached)
}

func TestCopyStore(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	c.commitOnMaster(t, 4)

	logs := txlog.NewMemoryRegistry()
	require.NoError(t, CopyStore(ctx, c.slave, LogStoreWriter{Logs: logs}))
	log, ok := logs.Get(common.DefaultResource)
	require.True(t, ok)
	last, err := log.LastCommittedTxID()
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)

	dir := t.TempDir()
	require.NoError(t, CopyStore(ctx, c.slave, DirStoreWriter{Dir: dir}))
	data, err := os.ReadFile(filepath.Join(dir, server.LogDir, common.DefaultResource))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestDirStoreWriterRejectsEscapingPaths(t *testing.T) {
	w := DirStoreWriter{Dir: t.TempDir()}
	assert.Error(t, w.WriteFile("../outside", []byte("x")))
	assert.NoError(t, w.WriteFile("inside/file", nil))
}

func TestUpdatePuller(t *testing.T) {
	c := newTestCluster(t)
	c.commitOnMaster(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewUpdatePuller(c.slave, 10*time.Millisecond).Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for lastApplied(t, c.slave, common.DefaultResource) != 5 {
		if time.Now().After(deadline) {
			t.Fatal("puller did not catch up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Local master role
// --------------------------------------------------------------------------

func newLocalMaster(t *testing.T) (*Slave, *server.MasterImpl, *membership.StaticMembership) {
	t.Helper()
	logs := txlog.NewMemoryRegistry()
	_, err := logs.GetOrOpen(common.DefaultResource)
	require.NoError(t, err)
	master := server.NewMaster(common.DefaultServerConfig(), logs, server.NewLogStoreSource(logs))

	self := membership.Machine{ID: 1, Address: "127.0.0.1:1"}
	members := membership.NewStaticMembership(self, membership.Machine{ID: 2, Address: "127.0.0.1:1"})
	broker := NewBroker(self, members, master, common.DefaultClientConfig(""), tcp.NewTCPClientTransport)

	applier, err := NewApplier(1, logs)
	require.NoError(t, err)
	return NewSlave(SlaveConfig{}, broker, applier), master, members
}

func TestLocalMasterRole(t *testing.T) {
	slave, master, _ := newLocalMaster(t)
	ctx := context.Background()

	tx, err := slave.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, slave.Broker().IsMaster())

	require.NoError(t, tx.AcquireRelationshipWriteLock(7))
	txID, err := tx.Commit(common.DefaultResource, []byte("local"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), txID)
	require.NoError(t, tx.Finish())
	assert.Equal(t, 0, master.ActiveContexts())

	// the local applier shares the logs of the master
	assert.Equal(t, int64(1), lastApplied(t, slave, common.DefaultResource))
}

func TestBranchedData(t *testing.T) {
	slave, master, _ := newLocalMaster(t)
	ctx := context.Background()

	// the same tx id committed by another machine locally
	log, _ := master.Logs().Get(common.DefaultResource)
	_, err := log.Append([]byte("tx"), 1)
	require.NoError(t, err)
	require.NoError(t, CheckBranchedData(ctx, slave, common.DefaultResource))

	other := txlog.NewMemoryRegistry()
	otherLog, err := other.GetOrOpen(common.DefaultResource)
	require.NoError(t, err)
	require.NoError(t, otherLog.ApplyAt(1, []byte("tx"), 3))
	slave.applier = &Applier{machineID: 1, logs: other}

	err = CheckBranchedData(ctx, slave, common.DefaultResource)
	assert.ErrorIs(t, err, common.ErrBranchedData)

	// a tx the master does not know
	require.NoError(t, otherLog.ApplyAt(2, []byte("tx"), 1))
	err = CheckBranchedData(ctx, slave, common.DefaultResource)
	assert.ErrorIs(t, err, common.ErrBranchedData)
}

func TestMasterChange(t *testing.T) {
	slave, _, members := newLocalMaster(t)
	ctx := context.Background()
	broker := slave.Broker()

	changes := make(chan membership.Machine, 4)
	broker.OnMasterChange(func(m membership.Machine) { changes <- m })

	_, m, err := broker.Master(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), m.ID)
	assert.Equal(t, int32(1), (<-changes).ID)

	// cached until invalidated
	members.SetMaster(2)
	_, m, err = broker.Master(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), m.ID)

	broker.InvalidateMaster()
	_, m, err = broker.Master(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), m.ID)
	assert.Equal(t, int32(2), (<-changes).ID)
	assert.False(t, broker.IsMaster())
	broker.Close()
}

func TestSlaveWithoutLocalMaster(t *testing.T) {
	self := membership.Machine{ID: 3}
	broker := NewBroker(self, membership.NewStaticMembership(self), nil, common.DefaultClientConfig(""), tcp.NewTCPClientTransport)

	_, _, err := broker.Master(context.Background())
	assert.ErrorIs(t, err, common.ErrUnsupportedOperation)
}

// --------------------------------------------------------------------------
// Lock retries and id generator with fakes
// --------------------------------------------------------------------------

type notLockedSession struct {
	common.Master
	calls int
}

func (s *notLockedSession) AcquireNodeWriteLock(common.SlaveContext, ...int64) (common.Response[common.LockResult], error) {
	s.calls++
	return common.NewResponse(common.NotLockedResult(), nil), nil
}

func (s *notLockedSession) Close() {}

func TestLockRetriesExceeded(t *testing.T) {
	slave, _, _ := newLocalMaster(t)
	slave.config.MaxLockRetries = 3

	session := &notLockedSession{}
	tx := &SlaveTransaction{slave: slave, session: session, masterID: 1, eventID: 1, ownerID: "test"}
	tx.active.Store(true)

	err := tx.AcquireNodeWriteLock(1)
	assert.ErrorIs(t, err, ErrLockRetriesExceeded)
	assert.Equal(t, 3, session.calls)
}

type countingIdSource struct {
	calls int
	alloc idgen.IdAllocation
}

func (s *countingIdSource) AllocateIds(idgen.IdType) (common.Response[idgen.IdAllocation], error) {
	s.calls++
	return common.NewResponse(s.alloc, nil), nil
}

func TestSlaveIdGenerator(t *testing.T) {
	source := &countingIdSource{alloc: idgen.IdAllocation{
		DefragIDs:      []int64{3, 7},
		RangeStart:     100,
		RangeLength:    3,
		HighestIDInUse: 102,
		DefragCount:    5,
	}}
	g := NewSlaveIdGenerator(source)

	var got []int64
	for i := 0; i < 5; i++ {
		id, err := g.NextID(idgen.Relationship)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []int64{3, 7, 100, 101, 102}, got)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, int64(102), g.HighestIDInUse(idgen.Relationship))
	assert.Equal(t, int64(5), g.DefragCount(idgen.Relationship))

	_, err := g.NextID(idgen.Relationship)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	g.Forget()
	id, err := g.NextID(idgen.Relationship)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.Equal(t, 3, source.calls)

	_, err = g.NextID(idgen.IdType(200))
	assert.ErrorIs(t, err, common.ErrProtocol)
}
