package ha

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dHA/lib/membership"
	"github.com/ValentinKolb/dHA/rpc/client"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/server"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("ha")

// Session is the master connection of one slave operation
type Session interface {
	common.Master
	// Close ends the session, the session must not be used afterwards
	Close()
}

// MasterHandle gives access to the current master
type MasterHandle interface {
	// Session starts a new session on the master
	Session() Session
}

// --------------------------------------------------------------------------
// Handles of the two roles
// --------------------------------------------------------------------------

// localHandle serves the in-process executor, used while this machine is master
type localHandle struct {
	master *server.MasterImpl
}

type localSession struct {
	*server.MasterImpl
}

func (localSession) Close() {}

func (h localHandle) Session() Session {
	return localSession{h.master}
}

// remoteHandle talks to the master over RPC
type remoteHandle struct {
	client *client.MasterClient
}

func (h remoteHandle) Session() Session {
	return h.client.Session()
}

// --------------------------------------------------------------------------
// Broker
// --------------------------------------------------------------------------

// Broker resolves the master through the membership service and caches it
// until InvalidateMaster is called
type Broker struct {
	self         membership.Machine
	members      membership.Membership
	local        *server.MasterImpl
	clientConfig common.ClientConfig
	newTransport func() transport.IRPCClientTransport

	mu         sync.Mutex
	current    MasterHandle
	master     membership.Machine
	remote     *client.MasterClient
	lastMaster int32
	listeners  []func(membership.Machine)
}

// NewBroker creates a broker for the machine self. local is the executor
// served while self is master, it may be nil for machines that never become
// master. newTransport creates the client transport to a remote master.
func NewBroker(
	self membership.Machine,
	members membership.Membership,
	local *server.MasterImpl,
	clientConfig common.ClientConfig,
	newTransport func() transport.IRPCClientTransport,
) *Broker {
	return &Broker{
		self:         self,
		members:      members,
		local:        local,
		clientConfig: clientConfig,
		newTransport: newTransport,
	}
}

// Self returns the machine of the broker
func (b *Broker) Self() membership.Machine {
	return b.self
}

// IsMaster reports whether this machine was master at the last resolution
func (b *Broker) IsMaster() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil && b.master.ID == b.self.ID
}

// Master returns the current master, resolving it if necessary
func (b *Broker) Master(ctx context.Context) (MasterHandle, membership.Machine, error) {
	b.mu.Lock()
	current, master := b.current, b.master
	b.mu.Unlock()
	if current != nil {
		return current, master, nil
	}

	// the membership lookup may block, it runs without the lock
	m, err := b.members.Master(ctx)
	if err != nil {
		return nil, membership.Machine{}, err
	}

	var handle MasterHandle
	var remote *client.MasterClient
	if m.ID == b.self.ID {
		if b.local == nil {
			return nil, membership.Machine{}, errors.Wrapf(common.ErrUnsupportedOperation, "machine %d cannot serve as master", m.ID)
		}
		handle = localHandle{b.local}
	} else {
		config := b.clientConfig
		config.Endpoint = m.Address
		remote, err = client.NewMasterClient(config, b.newTransport())
		if err != nil {
			return nil, membership.Machine{}, common.CommunicationError(err, "failed to create client for master "+m.String())
		}
		handle = remoteHandle{remote}
	}

	b.mu.Lock()
	if b.current != nil {
		// resolved concurrently, keep the first result
		current, master := b.current, b.master
		b.mu.Unlock()
		if remote != nil {
			_ = remote.Close()
		}
		return current, master, nil
	}
	b.current, b.master, b.remote = handle, m, remote
	changed := b.lastMaster != m.ID
	b.lastMaster = m.ID
	listeners := append([]func(membership.Machine){}, b.listeners...)
	b.mu.Unlock()

	if changed {
		Logger.Infof("Machine %d switched to master %s", b.self.ID, m)
		for _, fn := range listeners {
			fn(m)
		}
	}
	return handle, m, nil
}

// InvalidateMaster drops the cached master, the next call to Master resolves it again
func (b *Broker) InvalidateMaster() {
	b.mu.Lock()
	remote := b.remote
	wasCached := b.current != nil
	b.current, b.remote = nil, nil
	b.mu.Unlock()

	if remote != nil {
		_ = remote.Close()
	}
	if wasCached {
		Logger.Infof("Machine %d invalidated its master", b.self.ID)
	}
}

// OnMasterChange registers fn, it is called after a different master was resolved
func (b *Broker) OnMasterChange(fn func(membership.Machine)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Watch polls the membership service every interval and switches to a new
// master as soon as it is elected. It returns when ctx is done.
func (b *Broker) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m, err := b.members.Master(ctx)
		if err != nil {
			Logger.Debugf("Failed to look up master: %v", err)
			continue
		}

		b.mu.Lock()
		stale := b.current != nil && b.master.ID != m.ID
		b.mu.Unlock()
		if stale {
			b.InvalidateMaster()
		}
		if _, _, err := b.Master(ctx); err != nil {
			Logger.Warningf("Failed to resolve master %s: %v", m, err)
		}
	}
}

// Close releases the client of a remote master
func (b *Broker) Close() {
	b.InvalidateMaster()
}
