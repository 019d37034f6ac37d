package idgen

import (
	"fmt"
	"sync"
)

// IdType identifies the kind of entity an id belongs to. The numeric value is
// used on the wire and must never change for an existing type.
type IdType uint8

const (
	Node IdType = iota
	Relationship
	Property
	StringBlock
	ArrayBlock
	RelationshipType
)

// AllIdTypes lists every known id type in wire order
var AllIdTypes = []IdType{Node, Relationship, Property, StringBlock, ArrayBlock, RelationshipType}

// String returns a human-readable name of the id type
func (t IdType) String() string {
	switch t {
	case Node:
		return "Node"
	case Relationship:
		return "Relationship"
	case Property:
		return "Property"
	case StringBlock:
		return "StringBlock"
	case ArrayBlock:
		return "ArrayBlock"
	case RelationshipType:
		return "RelationshipType"
	default:
		return fmt.Sprintf("IdType(%d)", uint8(t))
	}
}

// Valid reports whether the id type is known
func (t IdType) Valid() bool {
	return t <= RelationshipType
}

// IdAllocation is a batch of ids granted by the master. The defragmented ids
// are handed out first, then the contiguous range.
type IdAllocation struct {
	DefragIDs      []int64
	RangeStart     int64
	RangeLength    int32
	HighestIDInUse int64
	DefragCount    int64
}

// Size returns the number of ids contained in the allocation
func (a IdAllocation) Size() int {
	return len(a.DefragIDs) + int(a.RangeLength)
}

// Generator is the authoritative id source on the master
type Generator struct {
	mu       sync.Mutex
	counters map[IdType]*counter
}

type counter struct {
	highID int64   // next never used id
	free   []int64 // released ids, reused first
}

// NewGenerator creates a generator where every id type starts at 0
func NewGenerator() *Generator {
	g := &Generator{counters: make(map[IdType]*counter, len(AllIdTypes))}
	for _, t := range AllIdTypes {
		g.counters[t] = &counter{}
	}
	return g
}

// NextBatch reserves size ids of the given type. Free ids are consumed first,
// the remainder is taken as a contiguous range from the high id.
func (g *Generator) NextBatch(t IdType, size int) (IdAllocation, error) {
	if !t.Valid() {
		return IdAllocation{}, fmt.Errorf("unknown id type %d", t)
	}
	if size <= 0 {
		return IdAllocation{}, fmt.Errorf("invalid batch size %d", size)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.counters[t]

	defragCount := len(c.free)
	if defragCount > size {
		defragCount = size
	}
	defrag := make([]int64, defragCount)
	copy(defrag, c.free[:defragCount])
	c.free = c.free[defragCount:]

	rangeLength := size - defragCount
	alloc := IdAllocation{
		DefragIDs:   defrag,
		RangeStart:  c.highID,
		RangeLength: int32(rangeLength),
	}
	c.highID += int64(rangeLength)
	alloc.HighestIDInUse = c.highID - 1
	alloc.DefragCount = int64(len(c.free))
	return alloc, nil
}

// Free returns an id to the free list so that it is handed out again
func (g *Generator) Free(t IdType, id int64) error {
	if !t.Valid() {
		return fmt.Errorf("unknown id type %d", t)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.counters[t]
	if id < 0 || id >= c.highID {
		return fmt.Errorf("id %d of type %s was never allocated", id, t)
	}
	c.free = append(c.free, id)
	return nil
}

// HighID returns the next never used id of the given type
func (g *Generator) HighID(t IdType) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.counters[t]; ok {
		return c.highID
	}
	return 0
}

// SetHighID moves the high id forward, e.g. after recovering a store. Lower
// values are ignored.
func (g *Generator) SetHighID(t IdType, highID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.counters[t]; ok && highID > c.highID {
		c.highID = highID
	}
}
