package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestMemoryBlocksGrowth(t *testing.T) {
	a := NewIntrusiveAllocator(nil)
	a.SetBlockSize(AffinityObjects, 4096)

	pool := a.pools[AffinityObjects]

	var ptrs []unsafe.Pointer
	for i := 0; i < 8; i++ {
		ptr := a.Allocate(1000, AffinityObjects)
		require.NotNil(t, ptr)
		ptrs = append(ptrs, ptr)
	}

	require.GreaterOrEqual(t, len(pool.memoryBlocks), 2)
	require.Equal(t, 8000, a.TotalReservedSize())
	require.NoError(t, a.Validate())

	// every block the pool created is reachable through the registry
	for _, block := range pool.memoryBlocks {
		found, ok := a.blocks.find(block.base())
		require.True(t, ok)
		require.Same(t, block, found)
	}

	for _, ptr := range ptrs {
		require.True(t, a.Deallocate(ptr, 1000))
	}
	require.Equal(t, 0, a.TotalReservedSize())
}

func TestMemoryBlocksFullSlotConsumedWhole(t *testing.T) {
	a := NewIntrusiveAllocator(nil)
	a.SetBlockSize(AffinityObjects, 1024)

	pool := a.pools[AffinityObjects]
	require.Equal(t, 1016, pool.maximumAllocationSize)

	// exactly fills the single carved slot, leaving nothing to split off
	ptr := a.Allocate(1016, AffinityObjects)
	require.NotNil(t, ptr)
	require.Len(t, pool.memoryBlocks, 1)
	require.Equal(t, 0, pool.memoryBlocks[0].totalAvailableSize())
	require.EqualValues(t, 0, pool.memoryBlocks[0].freeLists[0].count)
	require.NoError(t, a.Validate())

	require.True(t, a.Deallocate(ptr, 1016))
	require.Equal(t, 1016, pool.memoryBlocks[0].totalAvailableSize())
}

func TestMemoryBlocksDeleteEmpty(t *testing.T) {
	a := NewIntrusiveAllocator(nil)
	a.SetBlockSize(AffinityObjects, 4096)

	pool := a.pools[AffinityObjects]

	keep := a.Allocate(1000, AffinityObjects)
	var drop []unsafe.Pointer
	for i := 0; i < 7; i++ {
		drop = append(drop, a.Allocate(1000, AffinityObjects))
	}
	require.GreaterOrEqual(t, len(pool.memoryBlocks), 2)

	for _, ptr := range drop {
		require.True(t, a.Deallocate(ptr, 1000))
	}

	reclaimed := a.DeleteEmptyMemoryBlocks()
	require.Greater(t, reclaimed, 0)
	require.Len(t, pool.memoryBlocks, 1)
	require.False(t, pool.memoryBlocks[0].empty())

	// the surviving allocation is still valid and findable
	require.True(t, a.Deallocate(keep, 1000))
	require.Equal(t, 0, a.TotalReservedSize())

	reclaimed = a.DeleteEmptyMemoryBlocks()
	require.Greater(t, reclaimed, 0)
	require.Empty(t, pool.memoryBlocks)
	require.Equal(t, 0, a.TotalMemorySize())
}

func TestMemoryBlocksReusesBlockWithSpace(t *testing.T) {
	a := NewIntrusiveAllocator(nil)
	a.SetBlockSize(AffinityObjects, 4096)

	pool := a.pools[AffinityObjects]

	first := a.Allocate(100, AffinityObjects)
	require.NotNil(t, first)
	require.Len(t, pool.memoryBlocks, 1)

	second := a.Allocate(100, AffinityObjects)
	require.NotNil(t, second)
	require.Len(t, pool.memoryBlocks, 1)
	require.Same(t, pool.memoryBlocks[0], pool.memoryBlockWithSpace)
}
