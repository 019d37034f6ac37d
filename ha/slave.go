package ha

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/lib/lockmgr"
	"github.com/ValentinKolb/dHA/lib/membership"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// SlaveConfig holds the settings of the slave side
type SlaveConfig struct {
	// MaxLockRetries bounds the NOT_LOCKED answers per lock request, 0 retries forever
	MaxLockRetries int
}

// Slave delegates locks, ids, relationship types and commits to the master
// resolved by the broker and applies the transactions it is missing
type Slave struct {
	config  SlaveConfig
	broker  *Broker
	applier *Applier
	locks   lockmgr.ILockManager
	ids     *SlaveIdGenerator
	events  atomic.Int32
}

// NewSlave creates the slave side of a machine
func NewSlave(config SlaveConfig, broker *Broker, applier *Applier) *Slave {
	s := &Slave{
		config:  config,
		broker:  broker,
		applier: applier,
		locks:   lockmgr.NewLockManager(),
	}
	s.ids = NewSlaveIdGenerator(brokerIdSource{s})
	broker.OnMasterChange(func(membership.Machine) {
		s.ids.Forget()
	})
	return s
}

// Applier returns the applier of the slave
func (s *Slave) Applier() *Applier { return s.applier }

// Broker returns the broker of the slave
func (s *Slave) Broker() *Broker { return s.broker }

// NextID returns a new id of the type
func (s *Slave) NextID(t idgen.IdType) (int64, error) {
	return s.ids.NextID(t)
}

// Ids returns the id generator of the slave
func (s *Slave) Ids() *SlaveIdGenerator { return s.ids }

// CreateRelationshipType returns the id of the relationship type name,
// creating it on the master if necessary
func (s *Slave) CreateRelationshipType(ctx context.Context, name string) (int32, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Finish() }()

	sc, err := tx.context()
	if err != nil {
		return 0, err
	}
	resp, err := tx.session.CreateRelationshipType(sc, name)
	return value(tx, resp, err)
}

// PullUpdates applies all transactions the slave is missing
func (s *Slave) PullUpdates(ctx context.Context) (int, error) {
	handle, m, err := s.broker.Master(ctx)
	if err != nil {
		return 0, err
	}
	session := handle.Session()
	defer session.Close()

	sc, err := s.applier.Context(s.events.Add(1))
	if err != nil {
		return 0, err
	}
	resp, err := session.PullUpdates(sc)
	if err != nil {
		s.fail(err)
		return 0, err
	}
	if resp.Failed() {
		s.fail(common.ErrMasterCommunicationFailed)
		return 0, common.ErrMasterCommunicationFailed
	}
	return s.applier.Apply(resp.Transactions(), m.ID)
}

// Begin starts a slave transaction with a new event id on the current master
func (s *Slave) Begin(ctx context.Context) (*SlaveTransaction, error) {
	handle, m, err := s.broker.Master(ctx)
	if err != nil {
		return nil, err
	}
	tx := &SlaveTransaction{
		slave:    s,
		session:  handle.Session(),
		masterID: m.ID,
		eventID:  s.events.Add(1),
		ownerID:  lockmgr.NewOwnerID(),
	}
	tx.active.Store(true)
	return tx, nil
}

// fail invalidates the master after a communication failure
func (s *Slave) fail(err error) {
	if isMasterFailure(err) {
		s.broker.InvalidateMaster()
	}
}

// brokerIdSource allocates ids on the current master
type brokerIdSource struct {
	slave *Slave
}

func (b brokerIdSource) AllocateIds(t idgen.IdType) (common.Response[idgen.IdAllocation], error) {
	handle, _, err := b.slave.broker.Master(context.Background())
	if err != nil {
		return common.Response[idgen.IdAllocation]{}, err
	}
	session := handle.Session()
	defer session.Close()

	resp, err := session.AllocateIds(t)
	if err == nil && resp.Failed() {
		err = common.ErrMasterCommunicationFailed
	}
	if err != nil {
		b.slave.fail(err)
	}
	return resp, err
}
