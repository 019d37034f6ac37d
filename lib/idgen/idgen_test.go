package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBatchContiguous(t *testing.T) {
	g := NewGenerator()

	first, err := g.NextBatch(Node, 1000)
	require.NoError(t, err)
	assert.Empty(t, first.DefragIDs)
	assert.Equal(t, int64(0), first.RangeStart)
	assert.Equal(t, int32(1000), first.RangeLength)
	assert.Equal(t, int64(999), first.HighestIDInUse)

	second, err := g.NextBatch(Node, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), second.RangeStart)

	// other types are independent
	rel, err := g.NextBatch(Relationship, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rel.RangeStart)
}

func TestNextBatchUsesFreeListFirst(t *testing.T) {
	g := NewGenerator()
	_, err := g.NextBatch(Property, 10)
	require.NoError(t, err)

	require.NoError(t, g.Free(Property, 3))
	require.NoError(t, g.Free(Property, 7))
	require.NoError(t, g.Free(Property, 1))

	alloc, err := g.NextBatch(Property, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, alloc.DefragIDs)
	assert.Equal(t, int32(0), alloc.RangeLength)
	assert.Equal(t, int64(1), alloc.DefragCount)
	assert.Equal(t, 2, alloc.Size())

	alloc, err = g.NextBatch(Property, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, alloc.DefragIDs)
	assert.Equal(t, int64(10), alloc.RangeStart)
	assert.Equal(t, int32(4), alloc.RangeLength)
	assert.Equal(t, int64(13), alloc.HighestIDInUse)
}

func TestInvalidInput(t *testing.T) {
	g := NewGenerator()
	_, err := g.NextBatch(IdType(42), 10)
	assert.Error(t, err)
	_, err = g.NextBatch(Node, 0)
	assert.Error(t, err)
	assert.Error(t, g.Free(Node, 5), "never allocated ids cannot be freed")
}

func TestSetHighID(t *testing.T) {
	g := NewGenerator()
	g.SetHighID(StringBlock, 50)
	g.SetHighID(StringBlock, 20)
	assert.Equal(t, int64(50), g.HighID(StringBlock))

	alloc, err := g.NextBatch(StringBlock, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), alloc.RangeStart)
}
