package ha

import (
	"context"
	"time"
)

// UpdatePuller pulls the missing transactions of a slave in a fixed interval
type UpdatePuller struct {
	slave    *Slave
	interval time.Duration
}

// NewUpdatePuller creates a puller for the slave
func NewUpdatePuller(slave *Slave, interval time.Duration) *UpdatePuller {
	return &UpdatePuller{slave: slave, interval: interval}
}

// Run pulls until ctx is done. Failures are logged, the next pull resolves
// the master again.
func (p *UpdatePuller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// this machine is up to date while it is master
		if p.slave.broker.IsMaster() {
			continue
		}
		if _, err := p.slave.PullUpdates(ctx); err != nil {
			Logger.Warningf("Failed to pull updates: %v", err)
		}
	}
}
