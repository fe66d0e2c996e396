package alloc

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/psi29a/vsgalloc/memutils"
)

// largeAllocation records an oversize request served straight from the
// system allocator. The rawBuffer reference keeps the memory live until
// the entry is erased on Deallocate.
type largeAllocation struct {
	raw  rawBuffer
	size int
}

// IntrusiveAllocator is the compact allocator variant: every block keeps
// its bookkeeping inside the managed buffer, so the only per-allocation
// overhead is the 4-byte slot header. Requests above a block's per-slot
// maximum bypass the pools and go to the system allocator, tracked in a
// large-allocation table.
type IntrusiveAllocator struct {
	mutex  sync.Mutex
	nested Allocator
	logger *slog.Logger

	allocatorType    AllocatorType
	memoryTracking   MemoryTracking
	defaultAlignment int

	pools []*MemoryBlocks

	// blocks is the reverse-lookup registry shared with the pools: a pool
	// registers every block it creates so Deallocate can find the owner
	// of a pointer without asking each pool in turn.
	blocks blockRegistry[*MemoryBlock]

	largeAllocations *swiss.Map[uintptr, largeAllocation]
}

var _ Allocator = &IntrusiveAllocator{}

// NewIntrusiveAllocator creates the intrusive allocator variant with the
// standard affinity pools. A nested allocator may be chained in so
// pointers issued by another allocator instance can still be released
// through this one; pass nil for none.
func NewIntrusiveAllocator(nested Allocator) *IntrusiveAllocator {
	a := &IntrusiveAllocator{
		nested:           nested,
		logger:           slog.Default(),
		allocatorType:    AllocatorTypeNewDelete,
		defaultAlignment: elementSize,
		largeAllocations: swiss.NewMap[uintptr, largeAllocation](42),
	}

	a.pools = make([]*MemoryBlocks, AffinityLast)
	a.pools[AffinityObjects] = newMemoryBlocks(a, "MemoryBlocks_OBJECTS", defaultObjectsBlockSize, a.defaultAlignment)
	a.pools[AffinityData] = newMemoryBlocks(a, "MemoryBlocks_DATA", defaultDataBlockSize, a.defaultAlignment)
	a.pools[AffinityNodes] = newMemoryBlocks(a, "MemoryBlocks_NODES", defaultNodesBlockSize, a.defaultAlignment)
	a.pools[AffinityPhysics] = newMemoryBlocks(a, "MemoryBlocks_PHYSICS", defaultPhysicsBlockSize, physicsAlignment)

	return a
}

// SetLogger replaces the logger used for memory-tracking output.
func (a *IntrusiveAllocator) SetLogger(logger *slog.Logger) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.logger = logger
}

// getOrCreatePool grows the affinity vector on demand; unknown affinities
// receive a pool with default parameters.
func (a *IntrusiveAllocator) getOrCreatePool(affinity Affinity) *MemoryBlocks {
	if int(affinity) >= len(a.pools) {
		grown := make([]*MemoryBlocks, int(affinity)+1)
		copy(grown, a.pools)
		a.pools = grown
	}
	if a.pools[affinity] == nil {
		name := fmt.Sprintf("MemoryBlocks_%d", affinity)
		a.pools[affinity] = newMemoryBlocks(a, name, megabyte, a.defaultAlignment)
	}
	return a.pools[affinity]
}

func (a *IntrusiveAllocator) Allocate(size int, affinity Affinity) unsafe.Pointer {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pool := a.getOrCreatePool(affinity)

	if size <= pool.maximumAllocationSize {
		if ptr := pool.allocate(size); ptr != nil {
			if a.memoryTracking&MemoryTrackingReportActions != 0 {
				a.logger.Info("allocated from pool",
					slog.String("pool", pool.name),
					slog.Int("size", size),
					slog.Uint64("ptr", uint64(uintptr(ptr))))
			}
			if a.memoryTracking&MemoryTrackingCheckActions != 0 {
				a.checkPools()
			}
			return ptr
		}
	}

	return a.allocateLarge(size, pool.alignment)
}

func (a *IntrusiveAllocator) allocateLarge(size int, alignment int) unsafe.Pointer {
	bufferSize := size
	if bufferSize == 0 {
		// zero-sized requests still get a distinct, freeable pointer
		bufferSize = 1
	}

	raw := newRawBuffer(bufferSize, alignment)
	a.largeAllocations.Put(raw.base(), largeAllocation{raw: raw, size: size})

	if a.memoryTracking&MemoryTrackingReportActions != 0 {
		a.logger.Info("large allocation",
			slog.Int("size", size),
			slog.Int("alignment", alignment),
			slog.Uint64("ptr", uint64(raw.base())))
	}

	return raw.pointer(0)
}

func (a *IntrusiveAllocator) Deallocate(ptr unsafe.Pointer, size int) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	addr := uintptr(ptr)

	if block, ok := a.blocks.find(addr); ok && block.deallocate(ptr, size) {
		if a.memoryTracking&MemoryTrackingReportActions != 0 {
			a.logger.Info("deallocated from block",
				slog.String("pool", block.name),
				slog.Uint64("ptr", uint64(addr)))
		}
		if a.memoryTracking&MemoryTrackingCheckActions != 0 {
			a.checkPools()
		}
		return true
	}

	if la, ok := a.largeAllocations.Get(addr); ok {
		// dropping the table entry releases the backing buffer to the
		// runtime
		a.largeAllocations.Delete(addr)
		if a.memoryTracking&MemoryTrackingReportActions != 0 {
			a.logger.Info("deallocated large allocation",
				slog.Int("size", la.size),
				slog.Uint64("ptr", uint64(addr)))
		}
		return true
	}

	if a.nested != nil && a.nested.Deallocate(ptr, size) {
		return true
	}

	return false
}

func (a *IntrusiveAllocator) checkPools() {
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		if err := pool.validate(); err != nil {
			panic(fmt.Sprintf("allocator state check failed: %+v", err))
		}
	}
}

// LargeAllocationCount returns the number of oversize allocations
// currently tracked outside the block pools.
func (a *IntrusiveAllocator) LargeAllocationCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.largeAllocations.Count()
}

func (a *IntrusiveAllocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var err error
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		err = cerrors.CombineErrors(err, pool.validate())
	}
	return err
}

func (a *IntrusiveAllocator) SetBlockSize(affinity Affinity, blockSize int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pool := a.getOrCreatePool(affinity)
	pool.blockSize = blockSize
	if len(pool.memoryBlocks) == 0 {
		pool.maximumAllocationSize = computeMaximumAllocationSize(blockSize, pool.alignment)
	}
}

func (a *IntrusiveAllocator) SetMemoryTracking(tracking MemoryTracking) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.memoryTracking = tracking
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		for _, block := range pool.memoryBlocks {
			block.tracking = tracking
		}
	}
}

func (a *IntrusiveAllocator) DeleteEmptyMemoryBlocks() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	reclaimed := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		reclaimed += pool.deleteEmptyMemoryBlocks()
	}
	return reclaimed
}

func (a *IntrusiveAllocator) TotalAvailableSize() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	size := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		size += pool.totalAvailableSize()
	}
	return size
}

func (a *IntrusiveAllocator) TotalReservedSize() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	size := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		size += pool.totalReservedSize()
	}
	a.largeAllocations.Iter(func(addr uintptr, la largeAllocation) bool {
		size += la.size
		return false
	})
	return size
}

func (a *IntrusiveAllocator) TotalMemorySize() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	size := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		size += pool.totalMemorySize()
	}
	a.largeAllocations.Iter(func(addr uintptr, la largeAllocation) bool {
		size += la.size
		return false
	})
	return size
}

func (a *IntrusiveAllocator) Report(w io.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	fmt.Fprintf(w, "IntrusiveAllocator::report() %d pools\n", len(a.pools))
	fmt.Fprintf(w, "largeAllocations = %d\n", a.largeAllocations.Count())

	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		fmt.Fprintf(w, "%s %d blocks\n", pool.name, len(pool.memoryBlocks))
		pool.report(w)
	}
}

func (a *IntrusiveAllocator) BuildStatsString(detailed bool) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Variant").String("intrusive")

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		pool.addDetailedStatistics(&stats)
	}
	general := obj.Name("General").Object()
	stats.PrintJson(&general)
	general.End()

	pools := obj.Name("Pools").Array()
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		poolObj := pools.Object()
		pool.poolJsonData(&poolObj, detailed)
		poolObj.End()
	}
	pools.End()

	large := obj.Name("LargeAllocations").Object()
	largeCount, largeBytes := 0, 0
	a.largeAllocations.Iter(func(addr uintptr, la largeAllocation) bool {
		largeCount++
		largeBytes += la.size
		return false
	})
	large.Name("Count").Int(largeCount)
	large.Name("Bytes").Int(largeBytes)
	large.End()

	obj.End()
	return string(writer.Bytes())
}
