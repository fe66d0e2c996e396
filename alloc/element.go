package alloc

// The intrusive control structure is built out of 4-byte elements overlaid
// directly on the managed buffer. The same cell is read either as a slot
// header (two 15-bit offsets plus a status bit) or as a free-list index,
// depending on context, so the layout is expressed as accessor functions
// over packed uint32 values rather than as a struct overlay.
type element uint32

const (
	elementSize = 4

	offsetBits  = 15
	offsetMask  = 1<<offsetBits - 1
	statusShift = 2 * offsetBits

	// maxSlotSpan bounds the span, in elements, that a slot header's u15
	// next offset can describe. Carving and merge decisions must stay
	// below it.
	maxSlotSpan = 1 << offsetBits
)

const (
	statusAllocated uint32 = 0
	statusFree      uint32 = 1
)

func makeSlot(previous, next, status uint32) element {
	return element(previous&offsetMask | (next&offsetMask)<<offsetBits | status<<statusShift)
}

func (e element) previous() uint32 { return uint32(e) & offsetMask }
func (e element) next() uint32     { return uint32(e) >> offsetBits & offsetMask }
func (e element) status() uint32   { return uint32(e) >> statusShift & 1 }

// index reads the element as a free-list index cell.
func (e element) index() uint32 { return uint32(e) }
