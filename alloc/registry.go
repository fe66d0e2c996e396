package alloc

import (
	"golang.org/x/exp/slices"
)

type baseAddressed interface {
	base() uintptr
}

// blockRegistry keeps blocks ordered by base address so the owner of a
// pointer can be recovered with a binary search: the candidate is the
// last block whose base address does not exceed the pointer.
type blockRegistry[B baseAddressed] struct {
	blocks []B
}

func compareBase[B baseAddressed](block B, addr uintptr) int {
	base := block.base()
	switch {
	case base < addr:
		return -1
	case base > addr:
		return 1
	}
	return 0
}

func (r *blockRegistry[B]) insert(block B) {
	at, _ := slices.BinarySearchFunc(r.blocks, block.base(), compareBase[B])
	r.blocks = slices.Insert(r.blocks, at, block)
}

func (r *blockRegistry[B]) remove(block B) {
	at, found := slices.BinarySearchFunc(r.blocks, block.base(), compareBase[B])
	if found {
		r.blocks = slices.Delete(r.blocks, at, at+1)
	}
}

// find returns the candidate block for addr: the registered block with the
// largest base address not greater than addr. The caller still has to
// range-check addr against the block.
func (r *blockRegistry[B]) find(addr uintptr) (B, bool) {
	at, found := slices.BinarySearchFunc(r.blocks, addr, compareBase[B])
	if found {
		return r.blocks[at], true
	}
	if at == 0 {
		var none B
		return none, false
	}
	return r.blocks[at-1], true
}

func (r *blockRegistry[B]) empty() bool { return len(r.blocks) == 0 }
