package ha

import (
	"sync"

	"github.com/ValentinKolb/dHA/lib/idgen"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// IdSource grants batches of ids, usually the master
type IdSource interface {
	AllocateIds(idType idgen.IdType) (common.Response[idgen.IdAllocation], error)
}

// idQueue holds the unused ids of one type
type idQueue struct {
	mu             sync.Mutex
	defrag         []int64
	next, end      int64 // contiguous range [next, end)
	highestIDInUse int64
	defragCount    int64
}

func (q *idQueue) pop() (int64, bool) {
	if len(q.defrag) > 0 {
		id := q.defrag[0]
		q.defrag = q.defrag[1:]
		return id, true
	}
	if q.next < q.end {
		id := q.next
		q.next++
		return id, true
	}
	return 0, false
}

func (q *idQueue) reset() {
	q.defrag = nil
	q.next, q.end = 0, 0
}

// SlaveIdGenerator hands out ids granted by the master. A new batch is
// requested only when the local ids of a type are used up.
type SlaveIdGenerator struct {
	source IdSource
	queues map[idgen.IdType]*idQueue
}

// NewSlaveIdGenerator creates a generator that refills from source
func NewSlaveIdGenerator(source IdSource) *SlaveIdGenerator {
	queues := make(map[idgen.IdType]*idQueue, len(idgen.AllIdTypes))
	for _, t := range idgen.AllIdTypes {
		queues[t] = &idQueue{}
	}
	return &SlaveIdGenerator{source: source, queues: queues}
}

// NextID returns the next unused id of the type
func (g *SlaveIdGenerator) NextID(t idgen.IdType) (int64, error) {
	q, ok := g.queues[t]
	if !ok {
		return 0, common.ProtocolErrorf("unknown id type %d", t)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.pop(); ok {
		return id, nil
	}

	resp, err := g.source.AllocateIds(t)
	if err != nil {
		return 0, err
	}
	alloc, err := resp.Get()
	if err != nil {
		return 0, err
	}

	q.defrag = alloc.DefragIDs
	q.next = alloc.RangeStart
	q.end = alloc.RangeStart + int64(alloc.RangeLength)
	q.highestIDInUse = alloc.HighestIDInUse
	q.defragCount = alloc.DefragCount

	id, ok := q.pop()
	if !ok {
		return 0, common.ProtocolErrorf("master granted no %s ids", t)
	}
	return id, nil
}

// HighestIDInUse returns the highest id of the type the master has granted
func (g *SlaveIdGenerator) HighestIDInUse(t idgen.IdType) int64 {
	q, ok := g.queues[t]
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.highestIDInUse
}

// DefragCount returns the number of reusable ids the master had left
func (g *SlaveIdGenerator) DefragCount(t idgen.IdType) int64 {
	q, ok := g.queues[t]
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.defragCount
}

// Forget drops all local ids, they were granted by a master that is gone
func (g *SlaveIdGenerator) Forget() {
	for _, q := range g.queues {
		q.mu.Lock()
		q.reset()
		q.mu.Unlock()
	}
}
