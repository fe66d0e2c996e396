package alloc

import (
	"unsafe"

	"github.com/psi29a/vsgalloc/memutils"
)

// rawBuffer is a single aligned allocation obtained from the Go runtime.
// make does not promise alignment beyond the natural alignment of the
// slice's element type, so the buffer is over-allocated and the data view
// shifted up to the requested boundary. Holding buf keeps every address
// derived from data reachable for as long as the buffer is owned.
type rawBuffer struct {
	buf  []byte
	data []byte
}

func newRawBuffer(size int, alignment int) rawBuffer {
	memutils.DebugCheckPow2(uint(alignment), "buffer alignment")

	buf := make([]byte, size+alignment)
	addr := int(uintptr(unsafe.Pointer(&buf[0])))
	shift := memutils.AlignUp(addr, uint(alignment)) - addr
	return rawBuffer{
		buf:  buf,
		data: buf[shift : shift+size : shift+size],
	}
}

func (r *rawBuffer) size() int { return len(r.data) }

func (r *rawBuffer) base() uintptr {
	return uintptr(unsafe.Pointer(&r.data[0]))
}

func (r *rawBuffer) pointer(offset int) unsafe.Pointer {
	return unsafe.Pointer(&r.data[offset])
}

func (r *rawBuffer) contains(ptr unsafe.Pointer) bool {
	addr := uintptr(ptr)
	base := r.base()
	return addr >= base && addr < base+uintptr(len(r.data))
}

// elements views the buffer as the element array the intrusive control
// structure is threaded through.
func (r *rawBuffer) elements() []element {
	return unsafe.Slice((*element)(unsafe.Pointer(&r.data[0])), len(r.data)/elementSize)
}
