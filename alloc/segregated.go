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

// segregatedBlock pairs one raw buffer with an external memorySlots
// table. Unlike the intrusive MemoryBlock it carries no control records
// inside the buffer, so there is no per-slot size cap.
type segregatedBlock struct {
	raw       rawBuffer
	slots     *memorySlots
	alignment int
}

func newSegregatedBlock(blockSize int, alignment int) *segregatedBlock {
	blockAlignment := alignment
	if blockAlignment < 16 {
		blockAlignment = 16
	}
	return &segregatedBlock{
		raw:       newRawBuffer(blockSize, blockAlignment),
		slots:     newMemorySlots(blockSize),
		alignment: alignment,
	}
}

func (b *segregatedBlock) base() uintptr { return b.raw.base() }

func (b *segregatedBlock) allocate(size int) unsafe.Pointer {
	offset, ok := b.slots.reserve(size+memutils.DebugMargin, b.alignment)
	if !ok {
		return nil
	}
	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(b.raw.pointer(0), offset+size)
	}
	return b.raw.pointer(offset)
}

func (b *segregatedBlock) deallocate(ptr unsafe.Pointer, size int) bool {
	if !b.raw.contains(ptr) {
		return false
	}
	offset := int(uintptr(ptr) - b.raw.base())

	if memutils.DebugMargin > 0 && !memutils.ValidateMagicValue(b.raw.pointer(0), offset+size) {
		panic(fmt.Sprintf("memory corruption: margin overwritten at offset %d size %d", offset, size))
	}

	return b.slots.release(offset)
}

// checkCorruption verifies the debug margin behind every live reservation.
// Only meaningful when built with the debug_mem_utils tag.
func (b *segregatedBlock) checkCorruption() error {
	if memutils.DebugMargin == 0 {
		return nil
	}

	var err error
	b.slots.used.Iter(func(offset int, size int) bool {
		if !memutils.ValidateMagicValue(b.raw.pointer(0), offset+size-memutils.DebugMargin) {
			err = cerrors.Errorf("margin overwritten behind reservation at offset %d", offset)
			return true
		}
		return false
	})
	return err
}

func (b *segregatedBlock) blockJsonData(json *jwriter.ObjectState, detailed bool) {
	json.Name("TotalBytes").Int(b.slots.totalMemorySize())
	json.Name("UnusedBytes").Int(b.slots.totalAvailableSize())
	json.Name("Allocations").Int(b.slots.used.Count())
	json.Name("UnusedRanges").Int(len(b.slots.free))

	if !detailed {
		return
	}

	arrayState := json.Name("FreeRanges").Array()
	defer arrayState.End()
	for _, r := range b.slots.free {
		obj := arrayState.Object()
		obj.Name("Offset").Int(r.offset)
		obj.Name("Size").Int(r.size)
		obj.End()
	}
}

// segregatedPool is the per-affinity collection of segregated blocks.
type segregatedPool struct {
	parent *BlockAllocator
	name   string

	blockSize int
	alignment int

	blocks blockRegistry[*segregatedBlock]
	latest *segregatedBlock
}

func newSegregatedPool(parent *BlockAllocator, name string, blockSize int, alignment int) *segregatedPool {
	return &segregatedPool{
		parent:    parent,
		name:      name,
		blockSize: blockSize,
		alignment: alignment,
	}
}

func (p *segregatedPool) allocate(size int) unsafe.Pointer {
	if p.latest != nil {
		if ptr := p.latest.allocate(size); ptr != nil {
			return ptr
		}
	}

	// newest blocks first; they are the most likely to have space
	for i := len(p.blocks.blocks) - 1; i >= 0; i-- {
		block := p.blocks.blocks[i]
		if block == p.latest {
			continue
		}
		if ptr := block.allocate(size); ptr != nil {
			p.latest = block
			return ptr
		}
	}

	newBlockSize := p.blockSize
	if needed := size + memutils.DebugMargin; needed > newBlockSize {
		newBlockSize = needed
	}

	block := newSegregatedBlock(newBlockSize, p.alignment)
	p.latest = block
	p.blocks.insert(block)

	if p.parent.memoryTracking&MemoryTrackingReportActions != 0 {
		p.parent.logger.Info("pool grew by one block",
			slog.String("pool", p.name),
			slog.Int("blockSize", newBlockSize),
			slog.Int("blocks", len(p.blocks.blocks)))
	}

	return block.allocate(size)
}

func (p *segregatedPool) deallocate(ptr unsafe.Pointer, size int) bool {
	if p.blocks.empty() {
		return false
	}
	if block, ok := p.blocks.find(uintptr(ptr)); ok && block.deallocate(ptr, size) {
		return true
	}
	return false
}

func (p *segregatedPool) deleteEmptyMemoryBlocks() int {
	reclaimed := 0

	for i := len(p.blocks.blocks) - 1; i >= 0; i-- {
		block := p.blocks.blocks[i]
		if !block.slots.empty() {
			continue
		}
		if block == p.latest {
			p.latest = nil
		}
		reclaimed += block.slots.totalMemorySize()
		p.blocks.remove(block)
	}

	return reclaimed
}

func (p *segregatedPool) totalAvailableSize() int {
	size := 0
	for _, block := range p.blocks.blocks {
		size += block.slots.totalAvailableSize()
	}
	return size
}

func (p *segregatedPool) totalReservedSize() int {
	size := 0
	for _, block := range p.blocks.blocks {
		size += block.slots.totalReservedSize()
	}
	return size
}

func (p *segregatedPool) totalMemorySize() int {
	size := 0
	for _, block := range p.blocks.blocks {
		size += block.slots.totalMemorySize()
	}
	return size
}

func (p *segregatedPool) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range p.blocks.blocks {
		stats.BlockCount++
		stats.BlockBytes += block.slots.totalMemorySize()
		block.slots.used.Iter(func(offset int, size int) bool {
			stats.AddAllocation(size)
			return false
		})
		for _, r := range block.slots.free {
			stats.AddUnusedRange(r.size)
		}
	}
}

func (p *segregatedPool) report(w io.Writer) {
	fmt.Fprintf(w, "%s %d blocks", p.name, len(p.blocks.blocks))
	for _, block := range p.blocks.blocks {
		fmt.Fprintf(w, " [used = %d, avail = %d]",
			block.slots.totalReservedSize(), block.slots.maximumAvailableSpace())
	}
	fmt.Fprintln(w)
}

func (p *segregatedPool) poolJsonData(json *jwriter.ObjectState, detailed bool) {
	json.Name("Name").String(p.name)
	json.Name("BlockSize").Int(p.blockSize)
	json.Name("Alignment").Int(p.alignment)

	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	for _, block := range p.blocks.blocks {
		obj := blocks.Object()
		block.blockJsonData(&obj, detailed)
		obj.End()
	}
}

func (p *segregatedPool) validate() error {
	var err error
	for _, block := range p.blocks.blocks {
		err = cerrors.CombineErrors(err, block.slots.Validate())
		err = cerrors.CombineErrors(err, block.checkCorruption())
	}
	return err
}

// BlockAllocator is the segregated allocator variant: reservations are
// tracked through an external sorted slot table per block rather than
// inside the managed memory. Simpler than the intrusive variant and free
// of the per-slot size cap, at roughly double the bookkeeping overhead
// for small allocations. It is the default when the selection environment
// variable is unset.
type BlockAllocator struct {
	mutex  sync.Mutex
	nested Allocator
	logger *slog.Logger

	allocatorType    AllocatorType
	memoryTracking   MemoryTracking
	defaultAlignment int

	pools []*segregatedPool

	largeAllocations *swiss.Map[uintptr, largeAllocation]
}

var _ Allocator = &BlockAllocator{}

// NewBlockAllocator creates the segregated allocator variant with the
// standard affinity pools. A nested allocator may be chained in; pass nil
// for none.
func NewBlockAllocator(nested Allocator) *BlockAllocator {
	a := &BlockAllocator{
		nested:           nested,
		logger:           slog.Default(),
		allocatorType:    AllocatorTypeNewDelete,
		defaultAlignment: 16,
		largeAllocations: swiss.NewMap[uintptr, largeAllocation](42),
	}

	a.pools = make([]*segregatedPool, AffinityLast)
	a.pools[AffinityObjects] = newSegregatedPool(a, "MemoryBlocks_OBJECTS", defaultObjectsBlockSize, a.defaultAlignment)
	a.pools[AffinityData] = newSegregatedPool(a, "MemoryBlocks_DATA", defaultDataBlockSize, a.defaultAlignment)
	a.pools[AffinityNodes] = newSegregatedPool(a, "MemoryBlocks_NODES", defaultNodesBlockSize, a.defaultAlignment)
	a.pools[AffinityPhysics] = newSegregatedPool(a, "MemoryBlocks_PHYSICS", defaultPhysicsBlockSize, physicsAlignment)

	return a
}

// SetLogger replaces the logger used for memory-tracking output.
func (a *BlockAllocator) SetLogger(logger *slog.Logger) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.logger = logger
}

// SetAllocatorType changes the policy for pointers that no block, the
// large-allocation table, and no nested allocator recognise.
func (a *BlockAllocator) SetAllocatorType(allocatorType AllocatorType) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.allocatorType = allocatorType
}

func (a *BlockAllocator) getOrCreatePool(affinity Affinity) *segregatedPool {
	if int(affinity) >= len(a.pools) {
		if a.memoryTracking&MemoryTrackingReportActions != 0 {
			a.logger.Info("affinity out of bounds, creating pool",
				slog.Uint64("affinity", uint64(affinity)))
		}
		grown := make([]*segregatedPool, int(affinity)+1)
		copy(grown, a.pools)
		a.pools = grown
	}
	if a.pools[affinity] == nil {
		name := fmt.Sprintf("MemoryBlocks_%d", affinity)
		a.pools[affinity] = newSegregatedPool(a, name, megabyte, a.defaultAlignment)
	}
	return a.pools[affinity]
}

func (a *BlockAllocator) Allocate(size int, affinity Affinity) unsafe.Pointer {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pool := a.getOrCreatePool(affinity)

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

	// The pool could not place the request at all; take it straight from
	// the system allocator and track it so Deallocate can find it again.
	bufferSize := size
	if bufferSize == 0 {
		bufferSize = 1
	}
	raw := newRawBuffer(bufferSize, pool.alignment)
	a.largeAllocations.Put(raw.base(), largeAllocation{raw: raw, size: size})
	return raw.pointer(0)
}

func (a *BlockAllocator) Deallocate(ptr unsafe.Pointer, size int) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		if pool.deallocate(ptr, size) {
			if a.memoryTracking&MemoryTrackingReportActions != 0 {
				a.logger.Info("deallocated from pool",
					slog.String("pool", pool.name),
					slog.Uint64("ptr", uint64(uintptr(ptr))))
			}
			if a.memoryTracking&MemoryTrackingCheckActions != 0 {
				a.checkPools()
			}
			return true
		}
	}

	addr := uintptr(ptr)
	if _, ok := a.largeAllocations.Get(addr); ok {
		a.largeAllocations.Delete(addr)
		return true
	}

	if a.nested != nil && a.nested.Deallocate(ptr, size) {
		return true
	}

	// Unknown pointers are disowned to the garbage collector, unless the
	// policy forbids releasing memory this allocator never issued.
	return a.allocatorType != AllocatorTypeNoDelete
}

func (a *BlockAllocator) checkPools() {
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		if err := pool.validate(); err != nil {
			panic(fmt.Sprintf("allocator state check failed: %+v", err))
		}
	}
}

// LargeAllocationCount returns the number of allocations currently served
// outside the block pools.
func (a *BlockAllocator) LargeAllocationCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.largeAllocations.Count()
}

func (a *BlockAllocator) Validate() error {
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

func (a *BlockAllocator) SetBlockSize(affinity Affinity, blockSize int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pool := a.getOrCreatePool(affinity)
	pool.blockSize = blockSize
}

func (a *BlockAllocator) SetMemoryTracking(tracking MemoryTracking) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.memoryTracking = tracking
}

func (a *BlockAllocator) DeleteEmptyMemoryBlocks() int {
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

func (a *BlockAllocator) TotalAvailableSize() int {
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

func (a *BlockAllocator) TotalReservedSize() int {
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

func (a *BlockAllocator) TotalMemorySize() int {
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

func (a *BlockAllocator) Report(w io.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	fmt.Fprintf(w, "BlockAllocator::report() %d pools\n", len(a.pools))
	fmt.Fprintf(w, "allocatorType = %d\n", a.allocatorType)

	totalReserved := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		totalReserved += pool.totalReservedSize()
	}
	fmt.Fprintf(w, "totalAvailableSize = %d, totalReservedSize = %d, totalMemorySize = %d\n",
		a.totalAvailableLocked(), totalReserved, a.totalMemoryLocked())

	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		used := pool.totalReservedSize()
		fmt.Fprintf(w, "%s used = %d", pool.name, used)
		if totalReserved > 0 {
			fmt.Fprintf(w, ", %.1f%% of total used.", float64(used)/float64(totalReserved)*100.0)
		}
		fmt.Fprintln(w)
	}

	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		pool.report(w)
	}
}

func (a *BlockAllocator) totalAvailableLocked() int {
	size := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		size += pool.totalAvailableSize()
	}
	return size
}

func (a *BlockAllocator) totalMemoryLocked() int {
	size := 0
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		size += pool.totalMemorySize()
	}
	return size
}

func (a *BlockAllocator) BuildStatsString(detailed bool) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Variant").String("segregated")

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
