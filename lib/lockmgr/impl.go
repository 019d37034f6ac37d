package lockmgr

import (
	"fmt"
	"sync"
)

// lockState is the state of a single resource
type lockState struct {
	readers    map[string]int // owner id -> hold count
	writer     string         // owner id of the writer, empty if none
	writeCount int
}

func (s *lockState) empty() bool {
	return s.writer == "" && len(s.readers) == 0
}

// waitEdge records what an owner is currently waiting for
type waitEdge struct {
	resource string
	mode     Mode
}

type lockMgrImpl struct {
	mu      sync.Mutex
	cond    *sync.Cond
	locks   map[string]*lockState
	held    map[string]map[string]struct{} // owner id -> resources
	waiting map[string]waitEdge
}

// NewLockManager creates an empty in-memory lock manager
func NewLockManager() ILockManager {
	m := &lockMgrImpl{
		locks:   make(map[string]*lockState),
		held:    make(map[string]map[string]struct{}),
		waiting: make(map[string]waitEdge),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr.ILockManager)
// --------------------------------------------------------------------------

func (m *lockMgrImpl) AcquireLock(resource string, mode Mode, owner Owner) error {
	id := owner.ID()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer delete(m.waiting, id)

	for {
		if !owner.Active() {
			m.dropIfEmpty(resource)
			return ErrOwnerNotActive
		}

		state := m.state(resource)
		if canGrant(state, mode, id) {
			m.grant(state, resource, mode, id)
			return nil
		}

		// waiting is only allowed if it does not close a cycle
		if cycle := m.findCycle(id, resource, mode); cycle != "" {
			m.dropIfEmpty(resource)
			return &DeadlockError{Message: fmt.Sprintf(
				"%s lock on %s for %s would deadlock: %s", mode, resource, id, cycle)}
		}

		m.waiting[id] = waitEdge{resource: resource, mode: mode}
		m.cond.Wait()
	}
}

func (m *lockMgrImpl) ReleaseLock(resource string, mode Mode, owner Owner) error {
	id := owner.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.locks[resource]
	if !ok {
		return ErrNotHeld
	}

	switch mode {
	case WriteLock:
		if state.writer != id {
			return ErrNotHeld
		}
		state.writeCount--
		if state.writeCount == 0 {
			state.writer = ""
		}
	case ReadLock:
		if state.readers[id] == 0 {
			return ErrNotHeld
		}
		state.readers[id]--
		if state.readers[id] == 0 {
			delete(state.readers, id)
		}
	}

	if state.writer != id && state.readers[id] == 0 {
		m.forget(id, resource)
	}
	if state.empty() {
		delete(m.locks, resource)
	}
	m.cond.Broadcast()
	return nil
}

func (m *lockMgrImpl) ReleaseAll(owner Owner) {
	id := owner.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	for resource := range m.held[id] {
		state := m.locks[resource]
		if state == nil {
			continue
		}
		if state.writer == id {
			state.writer = ""
			state.writeCount = 0
		}
		delete(state.readers, id)
		m.dropIfEmpty(resource)
	}
	delete(m.held, id)
	m.cond.Broadcast()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (m *lockMgrImpl) state(resource string) *lockState {
	state, ok := m.locks[resource]
	if !ok {
		state = &lockState{readers: make(map[string]int)}
		m.locks[resource] = state
	}
	return state
}

// dropIfEmpty removes the state of a resource nobody holds
func (m *lockMgrImpl) dropIfEmpty(resource string) {
	if state, ok := m.locks[resource]; ok && state.empty() {
		delete(m.locks, resource)
	}
}

func (m *lockMgrImpl) grant(state *lockState, resource string, mode Mode, id string) {
	if mode == WriteLock {
		state.writer = id
		state.writeCount++
	} else {
		state.readers[id]++
	}
	resources, ok := m.held[id]
	if !ok {
		resources = make(map[string]struct{})
		m.held[id] = resources
	}
	resources[resource] = struct{}{}
}

func (m *lockMgrImpl) forget(id, resource string) {
	if resources, ok := m.held[id]; ok {
		delete(resources, resource)
		if len(resources) == 0 {
			delete(m.held, id)
		}
	}
}

// canGrant checks if id can take the lock without waiting
func canGrant(state *lockState, mode Mode, id string) bool {
	if state.writer != "" && state.writer != id {
		return false
	}
	if mode == ReadLock {
		return true
	}
	for reader := range state.readers {
		if reader != id {
			return false
		}
	}
	return true
}

// blockers returns the owners that prevent id from taking the lock
func blockers(state *lockState, mode Mode, id string) []string {
	var result []string
	if state.writer != "" && state.writer != id {
		result = append(result, state.writer)
	}
	if mode == WriteLock {
		for reader := range state.readers {
			if reader != id {
				result = append(result, reader)
			}
		}
	}
	return result
}

// findCycle walks the wait-for graph starting at the blockers of the request.
// It returns a description of the cycle or an empty string if there is none.
func (m *lockMgrImpl) findCycle(id, resource string, mode Mode) string {
	state, ok := m.locks[resource]
	if !ok {
		return ""
	}

	visited := make(map[string]bool)
	var walk func(owner string, path string) string
	walk = func(owner string, path string) string {
		if owner == id {
			return path
		}
		if visited[owner] {
			return ""
		}
		visited[owner] = true

		edge, waits := m.waiting[owner]
		if !waits {
			return ""
		}
		next, ok := m.locks[edge.resource]
		if !ok {
			return ""
		}
		for _, b := range blockers(next, edge.mode, owner) {
			if found := walk(b, fmt.Sprintf("%s -> %s waits for %s", path, owner, edge.resource)); found != "" {
				return found
			}
		}
		return ""
	}

	for _, b := range blockers(state, mode, id) {
		if found := walk(b, fmt.Sprintf("%s held by %s", resource, b)); found != "" {
			return found
		}
	}
	return ""
}
