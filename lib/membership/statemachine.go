package membership

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	sm "github.com/lni/dragonboat/v4/statemachine"
)

// result codes stored in sm.Result.Value
const (
	resultOK uint64 = iota
	resultInvalid
)

// registryQuery is passed to Lookup. A zero MachineID returns all machines.
type registryQuery struct {
	MachineID int32
}

// RegistryStateMachine is the replicated machine registry
type RegistryStateMachine struct {
	replicaID uint64
	shardID   uint64
	mu        sync.RWMutex
	machines  map[int32]string
}

// CreateRegistryStateMachineFactory returns the factory used by Dragonboat to
// create the registry state machine of a node host
func CreateRegistryStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &RegistryStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			machines:  make(map[int32]string),
		}
	}
}

// encodeRegistration encodes the update command [4 machine id][address]
func encodeRegistration(m Machine) []byte {
	cmd := binary.BigEndian.AppendUint32(nil, uint32(m.ID))
	return append(cmd, m.Address...)
}

func decodeRegistration(cmd []byte) (Machine, error) {
	if len(cmd) < 4 {
		return Machine{}, fmt.Errorf("registration too short: %d bytes", len(cmd))
	}
	return Machine{ID: int32(binary.BigEndian.Uint32(cmd)), Address: string(cmd[4:])}, nil
}

// Lookup returns a Machine for a single id or a []Machine for all machines
func (fsm *RegistryStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(registryQuery)
	if !ok {
		return nil, fmt.Errorf("invalid query type: %T", itf)
	}

	fsm.mu.RLock()
	defer fsm.mu.RUnlock()

	if q.MachineID == 0 {
		return sortedMachines(toMachines(fsm.machines)), nil
	}
	addr, found := fsm.machines[q.MachineID]
	if !found {
		return nil, fmt.Errorf("machine %d is not registered", q.MachineID)
	}
	return Machine{ID: q.MachineID, Address: addr}, nil
}

// Update applies registrations
func (fsm *RegistryStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	for idx, e := range entries {
		m, err := decodeRegistration(e.Cmd)
		if err != nil {
			entries[idx].Result = sm.Result{Value: resultInvalid, Data: []byte(err.Error())}
			continue
		}
		fsm.machines[m.ID] = m.Address
		entries[idx].Result = sm.Result{Value: resultOK}
	}
	return entries, nil
}

// PrepareSnapshot copies the registry, SaveSnapshot may run concurrently to Update
func (fsm *RegistryStateMachine) PrepareSnapshot() (interface{}, error) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()
	snapshot := make(map[int32]string, len(fsm.machines))
	for id, addr := range fsm.machines {
		snapshot[id] = addr
	}
	return snapshot, nil
}

// SaveSnapshot writes [4 count] followed by the length prefixed registrations
func (fsm *RegistryStateMachine) SaveSnapshot(ctx interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	snapshot, ok := ctx.(map[int32]string)
	if !ok {
		return fmt.Errorf("invalid snapshot context: %T", ctx)
	}
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(snapshot)))
	for _, m := range sortedMachines(toMachines(snapshot)) {
		reg := encodeRegistration(m)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(reg)))
		buf = append(buf, reg...)
	}
	_, err := w.Write(buf)
	return err
}

// RecoverFromSnapshot replaces the registry with the snapshot content
func (fsm *RegistryStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	count := binary.BigEndian.Uint32(header[:])

	machines := make(map[int32]string, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return err
		}
		reg := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(r, reg); err != nil {
			return err
		}
		m, err := decodeRegistration(reg)
		if err != nil {
			return err
		}
		machines[m.ID] = m.Address
	}

	fsm.mu.Lock()
	fsm.machines = machines
	fsm.mu.Unlock()
	return nil
}

// Close performs any necessary cleanup.
func (fsm *RegistryStateMachine) Close() error {
	return nil
}

func toMachines(m map[int32]string) map[int32]Machine {
	result := make(map[int32]Machine, len(m))
	for id, addr := range m {
		result[id] = Machine{ID: id, Address: addr}
	}
	return result
}
