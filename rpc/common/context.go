package common

import (
	"fmt"
	"strings"
)

// ResourceTx is the last applied transaction id of one resource
type ResourceTx struct {
	Resource string
	TxID     int64
}

// ContextKey identifies a distributed operation of a slave
type ContextKey struct {
	MachineID int32
	EventID   int32
}

func (k ContextKey) String() string {
	return fmt.Sprintf("%d/%d", k.MachineID, k.EventID)
}

// SlaveContext is sent with every request that belongs to a distributed
// operation. Two contexts are equal if machine id and event id match, the
// last applied ids only tell the master what the slave has seen so far.
type SlaveContext struct {
	MachineID   int32
	EventID     int32
	LastApplied []ResourceTx
}

// NewSlaveContext creates a context, the last applied entries are kept in the given order
func NewSlaveContext(machineID, eventID int32, lastApplied ...ResourceTx) SlaveContext {
	return SlaveContext{MachineID: machineID, EventID: eventID, LastApplied: lastApplied}
}

// Key returns the identity of the context, usable as map key
func (c SlaveContext) Key() ContextKey {
	return ContextKey{MachineID: c.MachineID, EventID: c.EventID}
}

// Equal compares the identity of two contexts
func (c SlaveContext) Equal(other SlaveContext) bool {
	return c.Key() == other.Key()
}

// LastAppliedOf returns the last applied id of a resource
func (c SlaveContext) LastAppliedOf(resource string) (int64, bool) {
	for _, tx := range c.LastApplied {
		if tx.Resource == resource {
			return tx.TxID, true
		}
	}
	return 0, false
}

func (c SlaveContext) String() string {
	parts := make([]string, len(c.LastApplied))
	for i, tx := range c.LastApplied {
		parts[i] = fmt.Sprintf("%s@%d", tx.Resource, tx.TxID)
	}
	return fmt.Sprintf("SlaveContext[machine:%d, event:%d, applied:[%s]]",
		c.MachineID, c.EventID, strings.Join(parts, ", "))
}
