package alloc

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slices"

	"github.com/psi29a/vsgalloc/memutils"
)

// memoryRange is a contiguous span of free bytes within a segregated
// block's buffer.
type memoryRange struct {
	offset int
	size   int
}

// memorySlots tracks reservations for one segregated block outside the
// managed memory: free spans live in a slice ordered by offset, reserved
// spans in an offset-keyed table. This costs more per allocation than the
// intrusive control structure but places no cap on reservation size.
type memorySlots struct {
	totalSize int
	reserved  int

	free []memoryRange
	used *swiss.Map[int, int]
}

var _ memutils.Validatable = &memorySlots{}

func newMemorySlots(size int) *memorySlots {
	return &memorySlots{
		totalSize: size,
		free:      []memoryRange{{offset: 0, size: size}},
		used:      swiss.NewMap[int, int](42),
	}
}

func compareRangeOffset(r memoryRange, offset int) int {
	switch {
	case r.offset < offset:
		return -1
	case r.offset > offset:
		return 1
	}
	return 0
}

// reserve claims size bytes at the first free span that can hold them at
// the requested alignment. Alignment padding in front of the reservation
// stays free. Returns the byte offset of the reservation.
func (s *memorySlots) reserve(size int, alignment int) (int, bool) {
	if size == 0 {
		size = 1
	}

	for i := range s.free {
		r := s.free[i]
		alignedOffset := memutils.AlignUp(r.offset, uint(alignment))
		end := alignedOffset + size
		if end > r.offset+r.size {
			continue
		}

		lead := memoryRange{offset: r.offset, size: alignedOffset - r.offset}
		tail := memoryRange{offset: end, size: r.offset + r.size - end}
		switch {
		case lead.size > 0 && tail.size > 0:
			s.free[i] = lead
			s.free = slices.Insert(s.free, i+1, tail)
		case lead.size > 0:
			s.free[i] = lead
		case tail.size > 0:
			s.free[i] = tail
		default:
			s.free = slices.Delete(s.free, i, i+1)
		}

		s.used.Put(alignedOffset, size)
		s.reserved += size
		return alignedOffset, true
	}

	return 0, false
}

// release returns a reservation to the free list, merging it with any
// adjacent free spans. Unknown offsets are rejected.
func (s *memorySlots) release(offset int) bool {
	size, ok := s.used.Get(offset)
	if !ok {
		return false
	}
	s.used.Delete(offset)
	s.reserved -= size

	at, _ := slices.BinarySearchFunc(s.free, offset, compareRangeOffset)

	mergePrevious := at > 0 && s.free[at-1].offset+s.free[at-1].size == offset
	mergeNext := at < len(s.free) && offset+size == s.free[at].offset

	switch {
	case mergePrevious && mergeNext:
		s.free[at-1].size += size + s.free[at].size
		s.free = slices.Delete(s.free, at, at+1)
	case mergePrevious:
		s.free[at-1].size += size
	case mergeNext:
		s.free[at].offset = offset
		s.free[at].size += size
	default:
		s.free = slices.Insert(s.free, at, memoryRange{offset: offset, size: size})
	}

	return true
}

func (s *memorySlots) sizeOf(offset int) (int, bool) {
	return s.used.Get(offset)
}

func (s *memorySlots) empty() bool { return s.used.Count() == 0 }

func (s *memorySlots) totalMemorySize() int { return s.totalSize }

func (s *memorySlots) totalReservedSize() int { return s.reserved }

func (s *memorySlots) totalAvailableSize() int {
	size := 0
	for _, r := range s.free {
		size += r.size
	}
	return size
}

// maximumAvailableSpace returns the largest single reservation the block
// could currently satisfy, ignoring alignment.
func (s *memorySlots) maximumAvailableSpace() int {
	max := 0
	for _, r := range s.free {
		if r.size > max {
			max = r.size
		}
	}
	return max
}

func (s *memorySlots) Validate() error {
	end := 0
	accounted := 0
	for i, r := range s.free {
		if r.size <= 0 {
			return cerrors.Errorf("memory slots: free range %d at offset %d has size %d", i, r.offset, r.size)
		}
		if r.offset < end {
			return cerrors.Errorf("memory slots: free range %d at offset %d overlaps previous range ending at %d",
				i, r.offset, end)
		}
		end = r.offset + r.size
		accounted += r.size
	}
	if end > s.totalSize {
		return cerrors.Errorf("memory slots: free ranges extend to %d beyond total size %d", end, s.totalSize)
	}

	var err error
	s.used.Iter(func(offset int, size int) bool {
		if offset < 0 || offset+size > s.totalSize {
			err = cerrors.Errorf("memory slots: reservation at offset %d size %d outside block of %d bytes",
				offset, size, s.totalSize)
			return true
		}
		accounted += size
		return false
	})
	if err != nil {
		return err
	}

	if accounted > s.totalSize {
		return cerrors.Errorf("memory slots: %d bytes accounted in a block of %d", accounted, s.totalSize)
	}

	return nil
}
