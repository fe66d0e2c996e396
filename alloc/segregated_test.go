package alloc

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestMemorySlotsReserveRelease(t *testing.T) {
	slots := newMemorySlots(1024)
	require.NoError(t, slots.Validate())
	require.True(t, slots.empty())
	require.Equal(t, 1024, slots.totalAvailableSize())

	offset, ok := slots.reserve(100, 16)
	require.True(t, ok)
	require.Equal(t, 0, offset)
	require.Equal(t, 100, slots.totalReservedSize())
	require.Equal(t, 924, slots.totalAvailableSize())
	require.NoError(t, slots.Validate())

	size, ok := slots.sizeOf(offset)
	require.True(t, ok)
	require.Equal(t, 100, size)

	require.True(t, slots.release(offset))
	require.True(t, slots.empty())
	require.Equal(t, 1024, slots.totalAvailableSize())
	require.Len(t, slots.free, 1)
	require.NoError(t, slots.Validate())
}

func TestMemorySlotsAlignmentPadding(t *testing.T) {
	slots := newMemorySlots(1024)

	first, ok := slots.reserve(100, 16)
	require.True(t, ok)
	require.Equal(t, 0, first)

	// 100 is not a multiple of 16, so the next reservation is pushed up
	// and the padding stays on the free list
	second, ok := slots.reserve(100, 16)
	require.True(t, ok)
	require.Equal(t, 112, second)
	require.Equal(t, 1024-200, slots.totalAvailableSize())
	require.NoError(t, slots.Validate())

	// releasing the first reservation merges it with the padding gap
	require.True(t, slots.release(first))
	require.Equal(t, memoryRange{offset: 0, size: 112}, slots.free[0])
	require.NoError(t, slots.Validate())
}

func TestMemorySlotsCoalescingOrders(t *testing.T) {
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		slots := newMemorySlots(1024)

		var offsets []int
		for i := 0; i < 3; i++ {
			offset, ok := slots.reserve(64, 16)
			require.True(t, ok)
			offsets = append(offsets, offset)
		}

		for _, i := range order {
			require.True(t, slots.release(offsets[i]), "order %v", order)
			require.NoError(t, slots.Validate(), "order %v", order)
		}

		require.True(t, slots.empty(), "order %v", order)
		require.Len(t, slots.free, 1, "order %v", order)
		require.Equal(t, 1024, slots.maximumAvailableSpace(), "order %v", order)
	}
}

func TestMemorySlotsExhaustion(t *testing.T) {
	slots := newMemorySlots(256)

	var offsets []int
	for {
		offset, ok := slots.reserve(64, 16)
		if !ok {
			break
		}
		offsets = append(offsets, offset)
	}
	require.Len(t, offsets, 4)
	require.Equal(t, 0, slots.totalAvailableSize())

	_, ok := slots.reserve(1, 1)
	require.False(t, ok)

	require.True(t, slots.release(offsets[0]))
	offset, ok := slots.reserve(32, 16)
	require.True(t, ok)
	require.Equal(t, 0, offset)
}

func TestMemorySlotsUnknownOffset(t *testing.T) {
	slots := newMemorySlots(1024)

	_, ok := slots.reserve(100, 16)
	require.True(t, ok)
	require.False(t, slots.release(555))
}

func TestMemorySlotsZeroSize(t *testing.T) {
	slots := newMemorySlots(1024)

	offset, ok := slots.reserve(0, 4)
	require.True(t, ok)
	size, found := slots.sizeOf(offset)
	require.True(t, found)
	require.Equal(t, 1, size)
	require.True(t, slots.release(offset))
}

func TestBlockAllocatorRoundTrip(t *testing.T) {
	a := NewBlockAllocator(nil)

	ptr := a.Allocate(64, AffinityData)
	require.NotNil(t, ptr)
	require.Zero(t, uintptr(ptr)%16)
	require.Equal(t, 64, a.TotalReservedSize())

	payload := unsafe.Slice((*byte)(ptr), 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.True(t, a.Deallocate(ptr, 64))
	require.Equal(t, 0, a.TotalReservedSize())
	require.NoError(t, a.Validate())
}

func TestBlockAllocatorManyAllocations(t *testing.T) {
	a := NewBlockAllocator(nil)

	type allocation struct {
		ptr  unsafe.Pointer
		size int
	}

	rng := rand.New(rand.NewSource(2))
	var allocations []allocation
	for i := 0; i < 10000; i++ {
		size := rng.Intn(1024) + 1
		ptr := a.Allocate(size, AffinityNodes)
		require.NotNil(t, ptr)
		allocations = append(allocations, allocation{ptr: ptr, size: size})
	}

	require.NoError(t, a.Validate())

	for i := len(allocations) - 1; i >= 0; i-- {
		require.True(t, a.Deallocate(allocations[i].ptr, allocations[i].size))
	}

	require.Equal(t, 0, a.TotalReservedSize())
	require.NoError(t, a.Validate())

	require.Greater(t, a.DeleteEmptyMemoryBlocks(), 0)
	require.Equal(t, 0, a.TotalMemorySize())
}

func TestBlockAllocatorOversizeRequest(t *testing.T) {
	a := NewBlockAllocator(nil)
	pool := a.pools[AffinityObjects]

	// larger than the nominal block size; the pool grows a block sized
	// for the request instead of refusing
	size := defaultObjectsBlockSize * 2
	ptr := a.Allocate(size, AffinityObjects)
	require.NotNil(t, ptr)
	require.Equal(t, 0, a.LargeAllocationCount())
	require.GreaterOrEqual(t, pool.totalMemorySize(), size)

	require.True(t, a.Deallocate(ptr, size))
	require.Equal(t, 0, a.TotalReservedSize())
}

func TestBlockAllocatorUnknownPointerPolicy(t *testing.T) {
	a := NewBlockAllocator(nil)

	var outside int64
	ptr := unsafe.Pointer(&outside)

	// default policy disowns unknown pointers to the garbage collector
	require.True(t, a.Deallocate(ptr, 8))

	a.SetAllocatorType(AllocatorTypeNoDelete)
	require.False(t, a.Deallocate(ptr, 8))
}

func TestBlockAllocatorCustomAffinity(t *testing.T) {
	a := NewBlockAllocator(nil)

	custom := Affinity(6)
	ptr := a.Allocate(64, custom)
	require.NotNil(t, ptr)
	require.Len(t, a.pools, 7)
	require.Equal(t, "MemoryBlocks_6", a.pools[custom].name)
	require.True(t, a.Deallocate(ptr, 64))
}

func TestBlockAllocatorStatsString(t *testing.T) {
	a := NewBlockAllocator(nil)

	ptr := a.Allocate(64, AffinityObjects)
	require.NotNil(t, ptr)

	stats := a.BuildStatsString(true)
	require.True(t, json.Valid([]byte(stats)), "invalid json: %s", stats)
	require.Contains(t, stats, `"Variant":"segregated"`)
	require.Contains(t, stats, "FreeRanges")

	require.True(t, a.Deallocate(ptr, 64))
}

func TestBlockAllocatorReport(t *testing.T) {
	a := NewBlockAllocator(nil)

	ptr := a.Allocate(64, AffinityObjects)
	require.NotNil(t, ptr)

	var sb strings.Builder
	a.Report(&sb)

	out := sb.String()
	require.Contains(t, out, "BlockAllocator::report()")
	require.Contains(t, out, "MemoryBlocks_OBJECTS")

	require.True(t, a.Deallocate(ptr, 64))
}
