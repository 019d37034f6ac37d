package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("membership")
)

// raftMembership resolves the master through a Dragonboat shard. The raft
// replica id of a machine equals its machine id.
type raftMembership struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewRaftMembership creates a membership backed by the registry shard shardID,
// which has to be started on nh with CreateRegistryStateMachineFactory.
func NewRaftMembership(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) Membership {
	return &raftMembership{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see membership.Membership)
// --------------------------------------------------------------------------

func (r *raftMembership) Master(ctx context.Context) (Machine, error) {
	leaderID, _, valid, err := r.nh.GetLeaderID(r.shardID)
	if err != nil {
		return Machine{}, fmt.Errorf("failed to get leader of shard %d: %w", r.shardID, err)
	}
	if !valid || leaderID == 0 {
		return Machine{}, ErrNoMaster
	}

	res, err := r.read(ctx, registryQuery{MachineID: int32(leaderID)})
	if err != nil {
		// the leader has not registered its endpoint yet
		return Machine{}, fmt.Errorf("%w: leader %d: %v", ErrNoMaster, leaderID, err)
	}
	m, ok := res.(Machine)
	if !ok {
		return Machine{}, fmt.Errorf("unexpected type: received %T, expected Machine", res)
	}
	return m, nil
}

func (r *raftMembership) Register(ctx context.Context, m Machine) error {
	for i := 0; i < retries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.nh.SyncPropose(proposeCtx, r.cs, encodeRegistration(m))
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", m, err)
		}
		if res.Value != resultOK {
			return fmt.Errorf("failed to register %s: %s", m, res.Data)
		}
		log.Infof("registered %s", m)
		return nil
	}
	return fmt.Errorf("failed to register %s: timeout", m)
}

func (r *raftMembership) Machines(ctx context.Context) ([]Machine, error) {
	res, err := r.read(ctx, registryQuery{})
	if err != nil {
		return nil, err
	}
	machines, ok := res.([]Machine)
	if !ok {
		return nil, fmt.Errorf("unexpected type: received %T, expected []Machine", res)
	}
	return machines, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// read queries the registry with SyncRead and retries if the system is busy
func (r *raftMembership) read(ctx context.Context, q registryQuery) (interface{}, error) {
	for i := 0; i < retries; i++ {
		readCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.nh.SyncRead(readCtx, r.shardID, q)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("read of shard %d: timeout", r.shardID)
}
