package membership

import (
	"context"
	"sort"
	"sync"
)

// StaticMembership is a membership with a configured master
type StaticMembership struct {
	mu       sync.RWMutex
	masterID int32
	machines map[int32]Machine
}

// NewStaticMembership creates a membership where master is always the master
func NewStaticMembership(master Machine, others ...Machine) *StaticMembership {
	s := &StaticMembership{masterID: master.ID, machines: map[int32]Machine{master.ID: master}}
	for _, m := range others {
		s.machines[m.ID] = m
	}
	return s
}

// SetMaster switches the master, the machine must be registered
func (s *StaticMembership) SetMaster(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterID = id
}

// --------------------------------------------------------------------------
// Interface Methods (docu see membership.Membership)
// --------------------------------------------------------------------------

func (s *StaticMembership) Master(_ context.Context) (Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[s.masterID]
	if !ok {
		return Machine{}, ErrNoMaster
	}
	return m, nil
}

func (s *StaticMembership) Register(_ context.Context, m Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = m
	return nil
}

func (s *StaticMembership) Machines(_ context.Context) ([]Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedMachines(s.machines), nil
}

func sortedMachines(machines map[int32]Machine) []Machine {
	result := make([]Machine, 0, len(machines))
	for _, m := range machines {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
