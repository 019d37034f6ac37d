// Package idgen provides the id types used by the database and a master-side
// id generator that hands out ranges of ids to slaves.
//
// Every id type (nodes, relationships, properties, ...) has its own counter.
// Freed ids are kept in a free list and handed out first ("defragmented" ids),
// afterwards a contiguous range starting at the current high id is reserved.
// The resulting IdAllocation is what slaves receive over the wire.
//
// Usage:
//
//	gen := idgen.NewGenerator()
//	alloc := gen.NextBatch(idgen.Node, 1000)
//	// alloc.DefragIDs ... then alloc.RangeStart .. alloc.RangeStart+alloc.RangeLength-1
package idgen
