package alloc

import (
	"io"
	"log/slog"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/psi29a/vsgalloc/memutils"
)

// MemoryBlocks is the growable collection of MemoryBlocks serving one
// affinity. It routes allocations to the block most recently known to
// have space, falls back to scanning the rest, and grows by one block
// when every existing block refuses. Not safe for concurrent use; the
// facade's mutex covers it.
type MemoryBlocks struct {
	parent *IntrusiveAllocator
	name   string

	alignment int
	blockSize int

	// maximumAllocationSize tracks what a block of the current nominal
	// blockSize can carry; requests above it never enter the pool.
	maximumAllocationSize int

	memoryBlocks         []*MemoryBlock
	memoryBlockWithSpace *MemoryBlock
}

func newMemoryBlocks(parent *IntrusiveAllocator, name string, blockSize int, alignment int) *MemoryBlocks {
	return &MemoryBlocks{
		parent:                parent,
		name:                  name,
		alignment:             alignment,
		blockSize:             blockSize,
		maximumAllocationSize: computeMaximumAllocationSize(blockSize, alignment),
	}
}

func (p *MemoryBlocks) logger() *slog.Logger { return p.parent.logger }

func (p *MemoryBlocks) tracking() MemoryTracking { return p.parent.memoryTracking }

func (p *MemoryBlocks) allocate(size int) unsafe.Pointer {
	if p.memoryBlockWithSpace != nil {
		if ptr := p.memoryBlockWithSpace.allocate(size); ptr != nil {
			return ptr
		}
	}

	// scan from newest to oldest; recently added blocks are most likely
	// to have space
	for i := len(p.memoryBlocks) - 1; i >= 0; i-- {
		block := p.memoryBlocks[i]
		if block == p.memoryBlockWithSpace || !block.freeSlotsAvailable(size) {
			continue
		}
		if ptr := block.allocate(size); ptr != nil {
			p.memoryBlockWithSpace = block
			return ptr
		}
	}

	newBlockSize := p.blockSize
	if size > newBlockSize {
		newBlockSize = size
	}

	block := newMemoryBlock(p.name, newBlockSize, p.alignment, p.tracking(), p.logger())
	if p.parent != nil {
		p.parent.blocks.insert(block)
	}

	if len(p.memoryBlocks) == 0 {
		p.maximumAllocationSize = block.maximumAllocationSize
	}

	p.memoryBlockWithSpace = block
	p.memoryBlocks = append(p.memoryBlocks, block)

	if p.tracking()&MemoryTrackingReportActions != 0 {
		p.logger().Info("pool grew by one block",
			slog.String("pool", p.name),
			slog.Int("blockSize", newBlockSize),
			slog.Int("blocks", len(p.memoryBlocks)))
	}

	return block.allocate(size)
}

// deleteEmptyMemoryBlocks releases every block with no allocated slots
// and returns the number of bytes reclaimed.
func (p *MemoryBlocks) deleteEmptyMemoryBlocks() int {
	reclaimed := 0

	kept := p.memoryBlocks[:0]
	for _, block := range p.memoryBlocks {
		if !block.empty() {
			kept = append(kept, block)
			continue
		}

		if p.tracking()&MemoryTrackingReportActions != 0 {
			p.logger().Info("removing empty block",
				slog.String("pool", p.name),
				slog.Int("blockSize", block.blockSize))
		}

		if block == p.memoryBlockWithSpace {
			p.memoryBlockWithSpace = nil
		}
		if p.parent != nil {
			p.parent.blocks.remove(block)
		}
		reclaimed += block.totalMemorySize()
	}
	for i := len(kept); i < len(p.memoryBlocks); i++ {
		p.memoryBlocks[i] = nil
	}
	p.memoryBlocks = kept

	return reclaimed
}

func (p *MemoryBlocks) totalAvailableSize() int {
	size := 0
	for _, block := range p.memoryBlocks {
		size += block.totalAvailableSize()
	}
	return size
}

func (p *MemoryBlocks) totalReservedSize() int {
	size := 0
	for _, block := range p.memoryBlocks {
		size += block.totalReservedSize()
	}
	return size
}

func (p *MemoryBlocks) totalMemorySize() int {
	size := 0
	for _, block := range p.memoryBlocks {
		size += block.totalMemorySize()
	}
	return size
}

func (p *MemoryBlocks) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range p.memoryBlocks {
		block.addDetailedStatistics(stats)
	}
}

func (p *MemoryBlocks) report(w io.Writer) {
	for _, block := range p.memoryBlocks {
		block.report(w)
	}
}

func (p *MemoryBlocks) poolJsonData(json *jwriter.ObjectState, detailed bool) {
	json.Name("Name").String(p.name)
	json.Name("BlockSize").Int(p.blockSize)
	json.Name("Alignment").Int(p.alignment)
	json.Name("MaximumAllocationSize").Int(p.maximumAllocationSize)

	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	for _, block := range p.memoryBlocks {
		obj := blocks.Object()
		block.blockJsonData(&obj, detailed)
		obj.End()
	}
}

func (p *MemoryBlocks) validate() error {
	var err error
	for _, block := range p.memoryBlocks {
		err = cerrors.CombineErrors(err, block.Validate())
	}
	return err
}
