package alloc

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/psi29a/vsgalloc/memutils"
)

// minimumSlotElements is the smallest span an allocated slot may shrink
// to: one header element plus the two index cells the slot needs to rejoin
// a free list when it is deallocated.
const minimumSlotElements = 3

// FreeList threads the free slots of one block into a doubly-linked list.
// The links live in the index cells directly after each free slot's
// header; the list itself only records the entry point and the population.
type FreeList struct {
	count uint32
	head  uint32
}

// MemoryBlock owns one aligned raw buffer and manages it through the
// intrusive control structure: a chain of slots, each opened by a header
// element, with free slots additionally threaded into a FreeList. All
// offsets are measured in elements. Position 0 is reserved as the "no
// slot" sentinel for both the slot chain and the free-list links.
//
// MemoryBlock is not safe for concurrent use; callers serialize through
// the facade mutex.
type MemoryBlock struct {
	name string
	raw  rawBuffer

	memory []element

	alignment        int
	blockAlignment   int
	blockSize        int
	elementAlignment uint32

	// firstSlot is where the slot chain begins: the smallest position >= 1
	// whose payload (one element further) lands on the payload alignment.
	firstSlot uint32
	capacity  uint32

	maximumAllocationSize int

	freeLists []FreeList

	tracking MemoryTracking
	logger   *slog.Logger
}

var _ memutils.Validatable = &MemoryBlock{}

// firstSlotPosition returns the position of the first slot header for a
// given element alignment, chosen so the payload at position+1 is aligned.
func firstSlotPosition(elementAlignment uint32) uint32 {
	return (1+elementAlignment)/elementAlignment*elementAlignment - 1
}

// computeMaximumAllocationSize returns the largest payload, in bytes, that
// a single slot of a block with the given parameters can carry. The bound
// comes from the u15 next offset in the slot header: carving aligns slot
// ends down from position+maxSlotSpan, so a slot spans at most
// maxSlotSpan-elementAlignment elements, one of which is the header.
// Smaller blocks are bounded by their own capacity instead.
func computeMaximumAllocationSize(blockSize int, alignment int) int {
	if alignment < elementSize {
		alignment = elementSize
	}
	blockSize = memutils.AlignUp(blockSize, uint(alignment))

	elementAlignment := uint32(alignment / elementSize)
	capacity := uint32(blockSize / alignment)
	head := firstSlotPosition(elementAlignment)

	if capacity <= head {
		return 0
	}

	maxSpan := uint32(maxSlotSpan) - elementAlignment
	if capacity-head < maxSpan {
		maxSpan = capacity - head
	}
	if maxSpan < minimumSlotElements {
		return 0
	}

	return int(maxSpan-1) * elementSize
}

func newMemoryBlock(name string, blockSize int, alignment int, tracking MemoryTracking, logger *slog.Logger) *MemoryBlock {
	if alignment < elementSize {
		alignment = elementSize
	}
	memutils.DebugCheckPow2(uint(alignment), "block alignment")

	blockAlignment := alignment
	if blockAlignment < 16 {
		blockAlignment = 16
	}

	blockSize = memutils.AlignUp(blockSize, uint(alignment))

	b := &MemoryBlock{
		name:             name,
		alignment:        alignment,
		blockAlignment:   blockAlignment,
		blockSize:        blockSize,
		elementAlignment: uint32(alignment / elementSize),
		tracking:         tracking,
		logger:           logger,
	}

	b.raw = newRawBuffer(blockSize, blockAlignment)
	b.memory = b.raw.elements()
	b.capacity = uint32(blockSize / alignment)
	b.firstSlot = firstSlotPosition(b.elementAlignment)
	b.maximumAllocationSize = computeMaximumAllocationSize(blockSize, alignment)

	// If the final carved slot would be too small to hold a header and two
	// link cells, shrink the working capacity so the chain ends on the
	// previous slot instead.
	b.capacity = b.trimmedCapacity()

	// position 0 is the sentinel
	b.memory[0] = 0

	freeList := FreeList{head: b.firstSlot}

	// Carve the whole buffer into maximally sized free slots, linked
	// forward in the slot chain and threaded into a single free list.
	previous := uint32(0)
	position := freeList.head
	for position < b.capacity {
		alignedStart := (position + maxSlotSpan) / b.elementAlignment * b.elementAlignment
		nextPosition := alignedStart - 1
		if nextPosition > b.capacity {
			nextPosition = b.capacity
		}

		previousOffset := uint32(0)
		if previous != 0 {
			previousOffset = position - previous
		}
		b.memory[position] = makeSlot(previousOffset, nextPosition-position, statusFree)
		b.memory[position+1] = element(previous)
		if nextPosition < b.capacity {
			b.memory[position+2] = element(nextPosition)
		} else {
			b.memory[position+2] = 0
		}

		previous = position
		position = nextPosition
		freeList.count++
	}

	if freeList.count == 0 {
		freeList.head = 0
	}
	b.freeLists = []FreeList{freeList}

	if tracking&MemoryTrackingReportActions != 0 {
		logger.Info("MemoryBlock created",
			slog.String("name", name),
			slog.Int("blockSize", blockSize),
			slog.Int("alignment", alignment),
			slog.Int("maximumAllocationSize", b.maximumAllocationSize))
	}

	return b
}

func (b *MemoryBlock) trimmedCapacity() uint32 {
	capacity := b.capacity
	if capacity <= b.firstSlot {
		return capacity
	}

	position := b.firstSlot
	for {
		next := (position+maxSlotSpan)/b.elementAlignment*b.elementAlignment - 1
		if next >= capacity {
			if capacity-position < minimumSlotElements {
				return position
			}
			return capacity
		}
		position = next
	}
}

func (b *MemoryBlock) base() uintptr { return b.raw.base() }

func (b *MemoryBlock) pointerTo(position uint32) unsafe.Pointer {
	return b.raw.pointer(int(position) * elementSize)
}

func (b *MemoryBlock) setPrevious(position, previous uint32) {
	e := b.memory[position]
	b.memory[position] = makeSlot(previous, e.next(), e.status())
}

func (b *MemoryBlock) setNext(position, next uint32) {
	e := b.memory[position]
	b.memory[position] = makeSlot(e.previous(), next, e.status())
}

func (b *MemoryBlock) setStatus(position, status uint32) {
	e := b.memory[position]
	b.memory[position] = makeSlot(e.previous(), e.next(), status)
}

// within reports whether ptr falls inside this block's byte range.
func (b *MemoryBlock) within(ptr unsafe.Pointer) bool {
	return b.raw.contains(ptr)
}

// freeSlotsAvailable reports whether the block could possibly satisfy an
// allocation of the given size. False positives are acceptable; the
// answer is a heuristic, not a reservation.
func (b *MemoryBlock) freeSlotsAvailable(size int) bool {
	if size > b.maximumAllocationSize {
		return false
	}
	for i := range b.freeLists {
		if b.freeLists[i].count > 0 {
			return true
		}
	}
	return false
}

// allocate reserves size bytes inside the block and returns a pointer to
// the payload, or nil if no free slot can carry the request. The first
// fitting slot in free-list traversal order wins; slots large enough to
// leave a usable remainder are split, anything smaller is consumed whole.
func (b *MemoryBlock) allocate(size int) unsafe.Pointer {
	if size > b.maximumAllocationSize {
		return nil
	}

	for i := range b.freeLists {
		freeList := &b.freeLists[i]
		if freeList.count == 0 {
			continue
		}

		freePosition := freeList.head
		for freePosition != 0 {
			slot := b.memory[freePosition]
			if slot.status() != statusFree {
				b.fatal(freePosition, "allocated slot found in free list")
			}
			if slot.next() == 0 {
				b.fatal(freePosition, "slot with zero span found in free list")
			}

			previousFreePosition := b.memory[freePosition+1].index()
			nextFreePosition := b.memory[freePosition+2].index()

			slotSpace := slot.next()
			nextPosition := freePosition + slotSpace
			slotSize := elementSize * (int(slotSpace) - 1)

			if size <= slotSize {
				elementsNeeded := uint32((size + elementSize - 1) / elementSize)
				if elementsNeeded < minimumSlotElements {
					elementsNeeded = minimumSlotElements
				}
				nextAlignedStart := (freePosition + 1 + elementsNeeded + b.elementAlignment) /
					b.elementAlignment * b.elementAlignment
				minimumAlignedEnd := nextAlignedStart + minimumSlotElements

				if minimumAlignedEnd < nextPosition {
					// Enough room behind the request to split: shrink this
					// slot and stand the remainder up as a new free slot in
					// its place within the free list.
					newSlotPosition := nextAlignedStart - 1
					b.setNext(freePosition, newSlotPosition-freePosition)

					b.memory[newSlotPosition] = makeSlot(newSlotPosition-freePosition,
						nextPosition-newSlotPosition, statusFree)
					b.memory[newSlotPosition+1] = element(previousFreePosition)
					b.memory[newSlotPosition+2] = element(nextFreePosition)

					if previousFreePosition != 0 {
						b.memory[previousFreePosition+2] = element(newSlotPosition)
					}
					if nextFreePosition != 0 {
						b.memory[nextFreePosition+1] = element(newSlotPosition)
					}
					if nextPosition < b.capacity {
						b.setPrevious(nextPosition, nextPosition-newSlotPosition)
					}
					if freePosition == freeList.head {
						freeList.head = newSlotPosition
					}
				} else {
					// Too tight to split; take the whole slot and unstitch
					// it from the free list.
					if previousFreePosition != 0 {
						b.memory[previousFreePosition+2] = element(nextFreePosition)
					}
					if nextFreePosition != 0 {
						b.memory[nextFreePosition+1] = element(previousFreePosition)
					}
					if freePosition == freeList.head {
						freeList.head = nextFreePosition
					}
					freeList.count--
				}

				b.setStatus(freePosition, statusAllocated)
				return b.pointerTo(freePosition + 1)
			}

			freePosition = nextFreePosition
		}
	}

	return nil
}

// deallocate frees the slot whose payload ptr points at. Pointers outside
// the block's range are rejected so the caller can retry other blocks.
// The freed slot is merged with whichever free neighbours it can join
// without the combined span overrunning the u15 header bound; otherwise
// it is inserted standalone at the head of the free list.
func (b *MemoryBlock) deallocate(ptr unsafe.Pointer, size int) bool {
	if !b.within(ptr) {
		return false
	}

	freeList := &b.freeLists[0]
	maxSize := uint32(1 + b.maximumAllocationSize/elementSize)

	// Slots around the one being deallocated: P (previous), C (current),
	// N (next), NN (beyond next). Free-list links of interest: PPF/PNF are
	// P's previous/next free indices, NPF/NNF are N's.
	C := uint32((uintptr(ptr)-b.raw.base())/elementSize) - 1
	slot := b.memory[C]

	if slot.next() == 0 {
		b.fatal(C, "deallocate hit a slot with zero span")
	}
	if slot.status() != statusAllocated {
		b.fatal(C, "attempt to deallocate an already free slot")
	}

	P := uint32(0)
	if slot.previous() > 0 {
		P = C - slot.previous()
	}
	N := C + slot.next()
	if N >= b.capacity {
		N = 0
	}

	var PPF, PNF uint32
	if P != 0 && b.memory[P].status() == statusFree {
		PPF = b.memory[P+1].index()
		PNF = b.memory[P+2].index()
	}

	var NN, NPF, NNF uint32
	if N != 0 {
		NN = N + b.memory[N].next()
		if NN >= b.capacity {
			NN = 0
		}
		if b.memory[N].status() == statusFree {
			NPF = b.memory[N+1].index()
			NNF = b.memory[N+2].index()
		}
	}

	// Three-way merge of P, C and N into P. N leaves the free list, so
	// the stitching depends on how P and N relate within it.
	mergePCN := func() {
		b.setNext(P, b.memory[P].next()+b.memory[C].next()+b.memory[N].next())
		if NN != 0 {
			b.setPrevious(NN, b.memory[P].next())
		}

		if PNF == N {
			// in order sequential: P links forward to N
			b.memory[P+2] = element(NNF)
			if NNF != 0 {
				b.memory[NNF+1] = element(P)
			}
		} else if PPF == N {
			// reverse sequential: N links forward to P
			if freeList.head == N {
				freeList.head = P
				b.memory[P+1] = 0
			} else {
				b.memory[P+1] = element(NPF)
				if NPF != 0 {
					b.memory[NPF+2] = element(P)
				}
			}
		} else {
			// P and N are not directly connected within the free list
			if NPF != 0 {
				b.memory[NPF+2] = element(NNF)
			}
			if NNF != 0 {
				b.memory[NNF+1] = element(NPF)
			}
			if freeList.head == N {
				freeList.head = NNF
			}
		}

		freeList.count--
	}

	// Two-way merge of P and C. P stays where it is in the free list.
	mergePC := func() {
		b.setNext(P, b.memory[P].next()+b.memory[C].next())
		if N != 0 {
			b.setPrevious(N, b.memory[P].next())
		}
	}

	// Two-way merge of C and N: C takes over N's place in the free list.
	mergeCN := func() {
		b.setStatus(C, statusFree)
		b.setNext(C, b.memory[C].next()+b.memory[N].next())
		if NN != 0 {
			b.setPrevious(NN, b.memory[C].next())
		}

		if NPF != 0 {
			b.memory[NPF+2] = element(C)
		}
		if NNF != 0 {
			b.memory[NNF+1] = element(C)
		}
		b.memory[C+1] = element(NPF)
		b.memory[C+2] = element(NNF)

		if freeList.head == N {
			freeList.head = C
		}
	}

	// Standalone insertion of C at the head of the free list.
	standalone := func() {
		b.setStatus(C, statusFree)
		b.memory[C+1] = 0
		b.memory[C+2] = element(freeList.head)

		if freeList.head != 0 {
			b.memory[freeList.head+1] = element(C)
		}

		freeList.head = C
		freeList.count++
	}

	pFree := P != 0 && b.memory[P].status() == statusFree
	nFree := N != 0 && b.memory[N].status() == statusFree

	switch {
	case pFree && nFree:
		pcn := b.memory[P].next() + b.memory[C].next() + b.memory[N].next()
		pc := b.memory[P].next() + b.memory[C].next()
		cn := b.memory[C].next() + b.memory[N].next()
		switch {
		case pcn <= maxSize:
			mergePCN()
		case pc <= maxSize:
			mergePC()
		case cn <= maxSize:
			mergeCN()
		default:
			standalone()
		}
	case pFree:
		if b.memory[P].next()+b.memory[C].next() <= maxSize {
			mergePC()
		} else {
			standalone()
		}
	case nFree:
		if b.memory[C].next()+b.memory[N].next() <= maxSize {
			mergeCN()
		} else {
			standalone()
		}
	default:
		standalone()
	}

	return true
}

// fatal dumps the neighbourhood of the failing slot and aborts. Corrupted
// control records and double frees are not recoverable: by the time they
// are observed the block's bookkeeping can no longer be trusted.
func (b *MemoryBlock) fatal(position uint32, message string) {
	tester := newSlotTester(b.memory, b.freeLists[0].head, b.capacity)
	tester.slot(position, "C")

	slot := b.memory[position]
	if slot.previous() > 0 && slot.previous() <= position {
		tester.slot(position-slot.previous(), "P")
	}
	if next := position + slot.next(); slot.next() > 0 && next < b.capacity {
		tester.slot(next, "N")
	}

	panic(fmt.Sprintf("%s: %s position %d in block %s\n%s", "memory corruption",
		message, position, b.name, tester.String()))
}

// visitSlots walks the slot chain, reporting each slot's payload byte
// offset and size. The walk stops early on a zero span so diagnostics can
// still run over a damaged block.
func (b *MemoryBlock) visitSlots(visit func(position uint32, offset, size int, free bool)) {
	position := b.firstSlot
	for position < b.capacity {
		slot := b.memory[position]
		span := slot.next()
		if span == 0 {
			return
		}
		visit(position, int(position+1)*elementSize, int(span-1)*elementSize, slot.status() == statusFree)
		position += span
	}
}

// empty reports whether every slot in the block is free.
func (b *MemoryBlock) empty() bool {
	allocated := false
	b.visitSlots(func(position uint32, offset, size int, free bool) {
		if !free {
			allocated = true
		}
	})
	return !allocated
}

func (b *MemoryBlock) totalAvailableSize() int {
	available := 0
	b.visitSlots(func(position uint32, offset, size int, free bool) {
		if free {
			available += size
		}
	})
	return available
}

func (b *MemoryBlock) totalReservedSize() int {
	reserved := 0
	b.visitSlots(func(position uint32, offset, size int, free bool) {
		if !free {
			reserved += size
		}
	})
	return reserved
}

func (b *MemoryBlock) totalMemorySize() int { return b.blockSize }

func (b *MemoryBlock) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += b.blockSize

	b.visitSlots(func(position uint32, offset, size int, free bool) {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
	})
}

// Validate sweeps the block's control structures: the slot chain must
// cover the block with consistent back-offsets, every free list must be
// consistent with its count, and the set of free slots must match the set
// of slots reachable from free-list heads.
func (b *MemoryBlock) Validate() error {
	if err := memutils.CheckMultipleOf(b.blockSize, b.alignment, "block size"); err != nil {
		return cerrors.Wrapf(err, "block %s", b.name)
	}

	available := map[uint32]struct{}{}

	previous := uint32(0)
	position := b.firstSlot
	for position < b.capacity {
		slot := b.memory[position]

		if slot.next() == 0 {
			return cerrors.Errorf("block %s: slot at position %d has zero span {%d, %d, %d}",
				b.name, position, slot.previous(), slot.next(), slot.status())
		}
		if position+slot.next() > b.capacity {
			return cerrors.Errorf("block %s: slot at position %d overruns capacity %d {%d, %d, %d}",
				b.name, position, b.capacity, slot.previous(), slot.next(), slot.status())
		}

		if slot.previous() != 0 {
			if slot.previous() > position {
				return cerrors.Errorf("block %s: slot at position %d has previous offset %d beyond block start",
					b.name, position, slot.previous())
			}
			if position-slot.previous() != previous {
				return cerrors.Errorf("block %s: slot at position %d disagrees with actual predecessor %d {%d, %d, %d}",
					b.name, position, previous, slot.previous(), slot.next(), slot.status())
			}
		} else if position != b.firstSlot {
			return cerrors.Errorf("block %s: interior slot at position %d has no previous offset",
				b.name, position)
		}

		if slot.status() == statusFree {
			available[position] = struct{}{}

			previousFree := b.memory[position+1].index()
			nextFree := b.memory[position+2].index()
			if previousFree == position || nextFree == position {
				return cerrors.Errorf("block %s: free slot at position %d links back to itself",
					b.name, position)
			}
		}

		previous = position
		position += slot.next()
	}

	inFreeList := map[uint32]struct{}{}

	for i := range b.freeLists {
		freeList := &b.freeLists[i]

		count := uint32(0)
		previousPosition := uint32(0)
		freePosition := freeList.head
		for freePosition != 0 && freePosition < b.capacity {
			slot := b.memory[freePosition]

			if _, seen := inFreeList[freePosition]; seen {
				return cerrors.Errorf("block %s: free list cycles through position %d",
					b.name, freePosition)
			}
			inFreeList[freePosition] = struct{}{}
			count++

			if slot.status() != statusFree {
				return cerrors.Errorf("block %s: allocated slot at position %d reachable from free list head %d",
					b.name, freePosition, freeList.head)
			}

			if b.memory[freePosition+1].index() != previousPosition {
				return cerrors.Errorf("block %s: free slot at position %d has previous-free %d, expected %d",
					b.name, freePosition, b.memory[freePosition+1].index(), previousPosition)
			}

			previousPosition = freePosition
			freePosition = b.memory[freePosition+2].index()
		}

		if count != freeList.count {
			return cerrors.Errorf("block %s: free list count %d does not match chain length %d",
				b.name, freeList.count, count)
		}
	}

	if len(available) != len(inFreeList) {
		return cerrors.Errorf("block %s: %d free slots in the chain but %d reachable from free lists",
			b.name, len(available), len(inFreeList))
	}

	return nil
}

// report writes the full diagnostic dump of the block: parameters, the
// slot walk with {previous, next, status} triples, and each free-list
// chain.
func (b *MemoryBlock) report(w io.Writer) {
	fmt.Fprintf(w, "MemoryBlock %#x %s\n", b.base(), b.name)
	fmt.Fprintf(w, "    alignment = %d\n", b.alignment)
	fmt.Fprintf(w, "    blockAlignment = %d\n", b.blockAlignment)
	fmt.Fprintf(w, "    blockSize = %d, capacity = %d\n", b.blockSize, b.capacity)
	fmt.Fprintf(w, "    maximumAllocationSize = %d\n", b.maximumAllocationSize)

	position := b.firstSlot
	for position < b.capacity {
		slot := b.memory[position]
		if slot.status() == statusFree {
			fmt.Fprintf(w, "   memory[%d] slot { %d, %d, %d }, %d, %d\n",
				position, slot.previous(), slot.next(), slot.status(),
				b.memory[position+1].index(), b.memory[position+2].index())
		} else {
			fmt.Fprintf(w, "   memory[%d] slot { %d, %d, %d }\n",
				position, slot.previous(), slot.next(), slot.status())
		}

		if slot.next() == 0 {
			break
		}
		position += slot.next()
	}

	fmt.Fprintf(w, "   freeLists = %d {\n", len(b.freeLists))
	for i := range b.freeLists {
		freeList := &b.freeLists[i]
		fmt.Fprintf(w, "   FreeList ( count = %d, head = %d ) {\n", freeList.count, freeList.head)

		freePosition := freeList.head
		for freePosition != 0 && freePosition < b.capacity {
			slot := b.memory[freePosition]
			fmt.Fprintf(w, "      slot %d { %d, %d, %d } previous = %d, next = %d\n",
				freePosition, slot.previous(), slot.next(), slot.status(),
				b.memory[freePosition+1].index(), b.memory[freePosition+2].index())
			freePosition = b.memory[freePosition+2].index()
		}

		fmt.Fprintf(w, "   }\n")
	}
	fmt.Fprintf(w, "}\n")
}

// blockJsonData populates a json object with information about this block
func (b *MemoryBlock) blockJsonData(json *jwriter.ObjectState, detailed bool) {
	var unusedBytes, allocationCount, unusedRangeCount int
	b.visitSlots(func(position uint32, offset, size int, free bool) {
		if free {
			unusedBytes += size
			unusedRangeCount++
		} else {
			allocationCount++
		}
	})

	json.Name("TotalBytes").Int(b.blockSize)
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)

	if !detailed {
		return
	}

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	b.visitSlots(func(position uint32, offset, size int, free bool) {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATED")
		}
		obj.Name("Size").Int(size)
	})
}

// slotTester collects the control records around a failure so a panic
// message carries enough context to diagnose the corruption.
type slotTester struct {
	mem      []element
	head     uint32
	capacity uint32

	entries []slotTesterEntry
}

type slotTesterEntry struct {
	name         string
	position     uint32
	slot         element
	previousFree uint32
	nextFree     uint32
}

func newSlotTester(mem []element, head uint32, capacity uint32) *slotTester {
	return &slotTester{mem: mem, head: head, capacity: capacity}
}

func (t *slotTester) slot(position uint32, name string) {
	if position == 0 || position+2 >= t.capacity {
		return
	}
	entry := slotTesterEntry{name: name, position: position, slot: t.mem[position]}
	if t.mem[position].status() != statusAllocated {
		entry.previousFree = t.mem[position+1].index()
		entry.nextFree = t.mem[position+2].index()
	}
	t.entries = append(t.entries, entry)
}

func (t *slotTester) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "head = %d\n", t.head)
	for _, entry := range t.entries {
		fmt.Fprintf(&sb, "    %s, pos = %d slot { %d, %d, %d }",
			entry.name, entry.position,
			entry.slot.previous(), entry.slot.next(), entry.slot.status())
		if entry.slot.status() != statusAllocated {
			fmt.Fprintf(&sb, " previous free = %d, next free = %d", entry.previousFree, entry.nextFree)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
