package server

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/lib/lockmgr"
	"github.com/ValentinKolb/dHA/lib/tokens"
	"github.com/ValentinKolb/dHA/lib/txlog"
	"github.com/ValentinKolb/dHA/lib/txmgr"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// ExcludeFunc decides whether a transaction is left out of the stream packed
// for a slave. It is called for every transaction the slave is missing.
type ExcludeFunc func(sc common.SlaveContext, resource string, txID int64) bool

// ExcludeNothing is the default ExcludeFunc
func ExcludeNothing(common.SlaveContext, string, int64) bool { return false }

// MasterImpl executes the requests of all slaves on the master. Every slave
// context gets its own unit of work, which holds the locks taken on behalf of
// the context until the context commits, finishes or disconnects.
type MasterImpl struct {
	machineID       int32
	idBatchSize     int
	defaultResource string

	locks   lockmgr.ILockManager
	txs     *txmgr.Manager
	ids     *idgen.Generator
	tokens  *tokens.Holder
	logs    *txlog.Registry
	store   common.StoreSource
	exclude ExcludeFunc

	contexts    *xsync.MapOf[common.ContextKey, *txmgr.UnitOfWork]
	connMu      sync.Mutex
	connections map[string]map[common.ContextKey]struct{}
	owners      map[common.ContextKey]string

	metrics *masterMetrics
}

// NewMaster creates the executor of the master with the given machine id.
// logs holds the transaction logs of all resources, store may be nil if
// store copies are not supported.
func NewMaster(config common.ServerConfig, logs *txlog.Registry, store common.StoreSource) *MasterImpl {
	batch := config.IdBatchSize
	if batch <= 0 {
		batch = common.DefaultIdBatchSize
	}
	resource := config.DefaultResource
	if resource == "" {
		resource = common.DefaultResource
	}

	locks := lockmgr.NewLockManager()
	m := &MasterImpl{
		machineID:       config.MachineID,
		idBatchSize:     batch,
		defaultResource: resource,
		locks:           locks,
		txs:             txmgr.NewManager(locks),
		ids:             idgen.NewGenerator(),
		tokens:          tokens.NewHolder(),
		logs:            logs,
		store:           store,
		exclude:         ExcludeNothing,
		contexts:        xsync.NewMapOf[common.ContextKey, *txmgr.UnitOfWork](),
		connections:     make(map[string]map[common.ContextKey]struct{}),
		owners:          make(map[common.ContextKey]string),
	}
	m.metrics = newMasterMetrics(m)
	return m
}

// SetExcludeFunc replaces the exclusion predicate used when packing responses
func (m *MasterImpl) SetExcludeFunc(fn ExcludeFunc) {
	if fn == nil {
		fn = ExcludeNothing
	}
	m.exclude = fn
}

// IdGenerator returns the id generator of the master
func (m *MasterImpl) IdGenerator() *idgen.Generator { return m.ids }

// Tokens returns the relationship type tokens of the master
func (m *MasterImpl) Tokens() *tokens.Holder { return m.tokens }

// Logs returns the transaction logs of the master
func (m *MasterImpl) Logs() *txlog.Registry { return m.logs }

// MachineID returns the machine id the master records with every commit
func (m *MasterImpl) MachineID() int32 { return m.machineID }

// ActiveContexts returns the number of slave contexts with a unit of work
func (m *MasterImpl) ActiveContexts() int { return m.contexts.Size() }

// --------------------------------------------------------------------------
// Context tracking
// --------------------------------------------------------------------------

// Bind records that the context was used on the connection, so that its unit
// of work is rolled back when the connection closes. A context is bound to at
// most one connection, binding it again moves it.
func (m *MasterImpl) Bind(connID string, sc common.SlaveContext) {
	key := sc.Key()
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if old, ok := m.owners[key]; ok && old != connID {
		m.unbindLocked(key, old)
	}
	keys, ok := m.connections[connID]
	if !ok {
		keys = make(map[common.ContextKey]struct{})
		m.connections[connID] = keys
	}
	keys[key] = struct{}{}
	m.owners[key] = connID
}

// ReleaseIdle unbinds the context from the connection if it has no unit of
// work, requests like pulls never start one
func (m *MasterImpl) ReleaseIdle(connID string, sc common.SlaveContext) {
	key := sc.Key()
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if _, ok := m.contexts.Load(key); !ok {
		m.unbindLocked(key, connID)
	}
}

// BoundContexts returns the number of contexts bound to a connection
func (m *MasterImpl) BoundContexts() int {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return len(m.owners)
}

// unbindLocked removes the context from the connection, an empty connID
// matches any connection. connMu must be held.
func (m *MasterImpl) unbindLocked(key common.ContextKey, connID string) {
	owner, ok := m.owners[key]
	if !ok || (connID != "" && owner != connID) {
		return
	}
	delete(m.owners, key)
	if keys, ok := m.connections[owner]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.connections, owner)
		}
	}
}

// ConnectionClosed rolls back every context still bound to the connection
func (m *MasterImpl) ConnectionClosed(connID string) {
	m.connMu.Lock()
	keys := m.connections[connID]
	delete(m.connections, connID)
	var units []*txmgr.UnitOfWork
	for key := range keys {
		delete(m.owners, key)
		if u, ok := m.contexts.LoadAndDelete(key); ok {
			units = append(units, u)
		}
	}
	m.connMu.Unlock()

	for _, u := range units {
		m.rollback(u)
	}
	if len(units) > 0 {
		Logger.Infof("Rolled back %d contexts of closed connection %s", len(units), connID)
	}
}

// SlaveGone rolls back every context of the machine
func (m *MasterImpl) SlaveGone(machineID int32) {
	var keys []common.ContextKey
	m.contexts.Range(func(key common.ContextKey, _ *txmgr.UnitOfWork) bool {
		if key.MachineID == machineID {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		m.endUnitOfWork(key)
	}
	Logger.Infof("Machine %d is gone, rolled back %d contexts", machineID, len(keys))
}

// unitOfWork returns the unit of work of the context, a new one is started
// if the context has none or its previous one already ended
func (m *MasterImpl) unitOfWork(sc common.SlaveContext) *txmgr.UnitOfWork {
	u, _ := m.contexts.Compute(sc.Key(), func(old *txmgr.UnitOfWork, loaded bool) (*txmgr.UnitOfWork, bool) {
		if loaded && old.Active() {
			return old, false
		}
		return m.txs.Begin(), false
	})
	return u
}

// endUnitOfWork rolls back and forgets the unit of work of the context and
// unbinds it from its connection
func (m *MasterImpl) endUnitOfWork(key common.ContextKey) bool {
	m.connMu.Lock()
	u, ok := m.contexts.LoadAndDelete(key)
	m.unbindLocked(key, "")
	m.connMu.Unlock()
	if ok {
		m.rollback(u)
	}
	return ok
}

func (m *MasterImpl) rollback(u *txmgr.UnitOfWork) {
	if err := m.txs.Rollback(u); err != nil && !errors.Is(err, txmgr.ErrNotActive) {
		Logger.Warningf("Failed to roll back unit of work %s: %v", u.ID(), err)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see common.Master)
// --------------------------------------------------------------------------

func (m *MasterImpl) AllocateIds(idType idgen.IdType) (common.Response[idgen.IdAllocation], error) {
	alloc, err := m.ids.NextBatch(idType, m.idBatchSize)
	if err != nil {
		return failed[idgen.IdAllocation](m, "allocate ids", err)
	}
	return common.NewResponse(alloc, nil), nil
}

func (m *MasterImpl) CreateRelationshipType(sc common.SlaveContext, name string) (common.Response[int32], error) {
	if name == "" {
		return failed[int32](m, "create relationship type", errors.New("empty name"))
	}
	return packResponse(m, sc, m.tokens.GetOrCreate(name), nil)
}

func (m *MasterImpl) AcquireNodeWriteLock(sc common.SlaveContext, nodes ...int64) (common.Response[common.LockResult], error) {
	return m.acquire(sc, lockmgr.WriteLock, lockmgr.NodeResource, nodes)
}

func (m *MasterImpl) AcquireNodeReadLock(sc common.SlaveContext, nodes ...int64) (common.Response[common.LockResult], error) {
	return m.acquire(sc, lockmgr.ReadLock, lockmgr.NodeResource, nodes)
}

func (m *MasterImpl) AcquireRelationshipWriteLock(sc common.SlaveContext, rels ...int64) (common.Response[common.LockResult], error) {
	return m.acquire(sc, lockmgr.WriteLock, lockmgr.RelationshipResource, rels)
}

func (m *MasterImpl) AcquireRelationshipReadLock(sc common.SlaveContext, rels ...int64) (common.Response[common.LockResult], error) {
	return m.acquire(sc, lockmgr.ReadLock, lockmgr.RelationshipResource, rels)
}

func (m *MasterImpl) CommitSingleResourceTransaction(sc common.SlaveContext, resource string, tx []byte) (common.Response[int64], error) {
	log, err := m.logs.GetOrOpen(resource)
	if err != nil {
		return failed[int64](m, "commit", err)
	}

	start := time.Now()
	txID, err := log.Append(tx, m.machineID)
	if err != nil {
		return failed[int64](m, "commit", err)
	}
	m.metrics.commitDuration.UpdateDuration(start)
	Logger.Debugf("Committed tx %d to %s for context %s", txID, resource, sc.Key())

	// the locks of the context are not needed after the commit
	m.endUnitOfWork(sc.Key())

	return packResponse(m, sc, txID, func(r string, id int64) bool {
		return r == resource && id == txID
	})
}

func (m *MasterImpl) PullUpdates(sc common.SlaveContext) (common.Response[common.Void], error) {
	return packResponse(m, sc, common.Void{}, nil)
}

func (m *MasterImpl) FinishTransaction(sc common.SlaveContext) (common.Response[common.Void], error) {
	m.endUnitOfWork(sc.Key())
	return packResponse(m, sc, common.Void{}, nil)
}

func (m *MasterImpl) GetMasterIdForCommittedTx(txID int64) (common.Response[int32], error) {
	log, ok := m.logs.Get(m.defaultResource)
	if !ok {
		return failed[int32](m, "get master id", txlog.ErrTxNotFound)
	}
	masterID, err := log.MasterIDFor(txID)
	if err != nil {
		return failed[int32](m, "get master id", err)
	}
	return common.NewResponse(masterID, nil), nil
}

func (m *MasterImpl) CopyStore(sc common.SlaveContext, w common.StoreWriter) (common.Response[common.Void], error) {
	if m.store == nil {
		return failed[common.Void](m, "copy store", common.ErrUnsupportedOperation)
	}
	files, err := m.store.StoreFiles()
	if err != nil {
		return failed[common.Void](m, "copy store", err)
	}
	for _, f := range files {
		if err := w.WriteFile(f.Path, f.Data); err != nil {
			return failed[common.Void](m, "copy store", err)
		}
	}
	Logger.Infof("Copied %d store files to machine %d", len(files), sc.MachineID)
	return common.NewResponse(common.Void{}, nil), nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acquire takes the locks one after the other, the first failure ends the request
func (m *MasterImpl) acquire(sc common.SlaveContext, mode lockmgr.Mode, resourceOf func(int64) string, ids []int64) (common.Response[common.LockResult], error) {
	u := m.unitOfWork(sc)
	result := common.LockedResult()

	for _, id := range ids {
		err := u.AcquireLock(resourceOf(id), mode)
		if err == nil {
			continue
		}

		var deadlock *lockmgr.DeadlockError
		switch {
		case errors.As(err, &deadlock):
			m.metrics.deadlocks.Inc()
			result = common.DeadlockResult(deadlock.Message)
		case errors.Is(err, lockmgr.ErrOwnerNotActive):
			result = common.NotLockedResult()
		default:
			return failed[common.LockResult](m, "acquire lock", err)
		}
		break
	}

	return packResponse(m, sc, result, nil)
}

// failed logs the cause and returns a failed response
func failed[T any](m *MasterImpl, op string, err error) (common.Response[T], error) {
	m.metrics.failedResponses.Inc()
	Logger.Warningf("Failed to %s: %v", op, err)
	return common.FailedResponse[T](), nil
}
