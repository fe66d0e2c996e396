package alloc

import (
	"log/slog"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/psi29a/vsgalloc/memutils"
)

func testBlock(t *testing.T, blockSize int, alignment int) *MemoryBlock {
	t.Helper()
	block := newMemoryBlock("TestBlock", blockSize, alignment, MemoryTrackingNoChecks, slog.Default())
	require.NoError(t, block.Validate())
	return block
}

func TestMemoryBlockInitialLayout(t *testing.T) {
	block := testBlock(t, 1024, 4)

	require.EqualValues(t, 256, block.capacity)
	require.EqualValues(t, 1, block.firstSlot)
	require.Equal(t, 1016, block.maximumAllocationSize)

	// one free slot covering the whole block
	require.Len(t, block.freeLists, 1)
	require.EqualValues(t, 1, block.freeLists[0].count)
	require.EqualValues(t, 1, block.freeLists[0].head)

	require.True(t, block.empty())
	require.Equal(t, 1016, block.totalAvailableSize())
	require.Equal(t, 0, block.totalReservedSize())
	require.Equal(t, 1024, block.totalMemorySize())
}

func TestMemoryBlockAlignedFirstSlot(t *testing.T) {
	block := testBlock(t, 4096, 16)

	require.EqualValues(t, 3, block.firstSlot)
	require.EqualValues(t, 256, block.capacity)

	ptr := block.allocate(100)
	require.NotNil(t, ptr)
	require.Zero(t, uintptr(ptr)%16)
	require.NoError(t, block.Validate())
}

func TestMemoryBlockAllocateSplit(t *testing.T) {
	block := testBlock(t, 1024, 4)

	ptr := block.allocate(64)
	require.NotNil(t, ptr)
	require.Equal(t, block.base()+8, uintptr(ptr))

	require.NoError(t, block.Validate())
	require.Equal(t, 64, block.totalReservedSize())
	require.Equal(t, 948, block.totalAvailableSize())
	require.False(t, block.empty())

	// the remainder took the original slot's place in the free list
	require.EqualValues(t, 1, block.freeLists[0].count)
	require.EqualValues(t, 18, block.freeLists[0].head)
}

func TestMemoryBlockAllocateTooLarge(t *testing.T) {
	block := testBlock(t, 1024, 4)

	require.Nil(t, block.allocate(block.maximumAllocationSize+1))
	require.NoError(t, block.Validate())
	require.True(t, block.empty())
}

func TestMemoryBlockExhaustion(t *testing.T) {
	block := testBlock(t, 1024, 4)

	var ptrs []unsafe.Pointer
	for {
		ptr := block.allocate(100)
		if ptr == nil {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	require.NotEmpty(t, ptrs)
	require.NoError(t, block.Validate())

	for _, ptr := range ptrs {
		require.True(t, block.deallocate(ptr, 100))
	}
	require.NoError(t, block.Validate())
	require.True(t, block.empty())
	require.Equal(t, 1016, block.totalAvailableSize())
}

func TestMemoryBlockCoalescing(t *testing.T) {
	block := testBlock(t, 1024, 4)

	a := block.allocate(64)
	b := block.allocate(64)
	c := block.allocate(64)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)
	require.NoError(t, block.Validate())
	require.Equal(t, 192, block.totalReservedSize())

	// middle first: no free neighbours, standalone insertion
	require.True(t, block.deallocate(b, 64))
	require.NoError(t, block.Validate())
	require.EqualValues(t, 2, block.freeLists[0].count)

	// first next: merges forward into the slot b left behind
	require.True(t, block.deallocate(a, 64))
	require.NoError(t, block.Validate())
	require.EqualValues(t, 2, block.freeLists[0].count)

	// last: three-way merge collapses the block back to one free slot
	require.True(t, block.deallocate(c, 64))
	require.NoError(t, block.Validate())
	require.EqualValues(t, 1, block.freeLists[0].count)
	require.True(t, block.empty())
	require.Equal(t, 1016, block.totalAvailableSize())
}

func TestMemoryBlockCoalescingOrders(t *testing.T) {
	// every release order must end with the block fully coalesced
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		block := testBlock(t, 1024, 4)

		ptrs := []unsafe.Pointer{
			block.allocate(40),
			block.allocate(80),
			block.allocate(120),
		}
		for _, ptr := range ptrs {
			require.NotNil(t, ptr)
		}

		for _, i := range order {
			require.True(t, block.deallocate(ptrs[i], 0), "order %v", order)
			require.NoError(t, block.Validate(), "order %v", order)
		}

		require.True(t, block.empty(), "order %v", order)
		require.EqualValues(t, 1, block.freeLists[0].count, "order %v", order)
		require.Equal(t, 1016, block.totalAvailableSize(), "order %v", order)
	}
}

func TestMemoryBlockDoubleFreePanics(t *testing.T) {
	block := testBlock(t, 1024, 4)

	ptr := block.allocate(64)
	require.NotNil(t, ptr)
	require.True(t, block.deallocate(ptr, 64))

	require.Panics(t, func() {
		block.deallocate(ptr, 64)
	})
}

func TestMemoryBlockForeignPointerRejected(t *testing.T) {
	block := testBlock(t, 1024, 4)

	var outside int64
	require.False(t, block.deallocate(unsafe.Pointer(&outside), 8))
}

func TestMemoryBlockPayloadWritesLeaveControlIntact(t *testing.T) {
	block := testBlock(t, 1024, 4)

	ptr := block.allocate(64)
	require.NotNil(t, ptr)

	payload := unsafe.Slice((*byte)(ptr), 64)
	for i := range payload {
		payload[i] = 0xff
	}

	require.NoError(t, block.Validate())
	require.True(t, block.deallocate(ptr, 64))
	require.NoError(t, block.Validate())
}

func TestMemoryBlockReuseAfterFree(t *testing.T) {
	block := testBlock(t, 1024, 4)

	first := block.allocate(64)
	require.NotNil(t, first)
	require.True(t, block.deallocate(first, 64))

	second := block.allocate(64)
	require.Equal(t, first, second)
}

func TestComputeMaximumAllocationSize(t *testing.T) {
	// bounded by the block's own capacity
	require.Equal(t, 1016, computeMaximumAllocationSize(1024, 4))
	// bounded by the u15 slot span
	require.Equal(t, (maxSlotSpan-1-1)*elementSize, computeMaximumAllocationSize(megabyte, 4))
	// too small to hold a single slot
	require.Equal(t, 0, computeMaximumAllocationSize(8, 4))
}

func TestMemoryBlockValidateBlockSizeUnit(t *testing.T) {
	block := testBlock(t, 1024, 4)

	// construction always aligns the block size up; a mismatch can only
	// mean the parameters were corrupted afterwards
	block.blockSize = 1022
	err := block.Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, memutils.ElementMultipleError)
}

func TestMemoryBlockReport(t *testing.T) {
	block := testBlock(t, 1024, 4)
	ptr := block.allocate(64)
	require.NotNil(t, ptr)

	var sb strings.Builder
	block.report(&sb)

	out := sb.String()
	require.Contains(t, out, "TestBlock")
	require.Contains(t, out, "blockSize = 1024")
	require.Contains(t, out, "FreeList")
}
