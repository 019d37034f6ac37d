package membership

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoMaster is returned if no master is currently known
var ErrNoMaster = errors.New("no master available")

// Machine is a member of the cluster
type Machine struct {
	ID      int32
	Address string // address of the HA endpoint
}

func (m Machine) String() string {
	return fmt.Sprintf("machine %d (%s)", m.ID, m.Address)
}

// Membership is the view of one machine on the cluster
type Membership interface {
	// Master returns the current master
	Master(ctx context.Context) (Machine, error)
	// Register publishes the HA endpoint of a machine
	Register(ctx context.Context, m Machine) error
	// Machines returns all registered machines ordered by id
	Machines(ctx context.Context) ([]Machine, error)
}
