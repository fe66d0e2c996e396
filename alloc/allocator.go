package alloc

import (
	"io"
	"unsafe"
)

// Allocator is the affinity-based allocation facade the rest of the
// toolkit goes through. Two implementations exist behind it: the
// IntrusiveAllocator, which stores its bookkeeping inside the managed
// buffers, and the BlockAllocator, which tracks reservations in an
// external slot table. All methods are safe for concurrent use; each
// implementation serializes through a single facade-level mutex.
type Allocator interface {
	// Allocate obtains size bytes from the pool serving affinity. It
	// returns nil when neither the pool nor the system allocator can
	// satisfy the request.
	Allocate(size int, affinity Affinity) unsafe.Pointer
	// Deallocate returns memory obtained from Allocate. The owning block
	// is located by pointer-range lookup; on a miss the large-allocation
	// table and then the nested allocator are consulted. It reports
	// whether any path accepted the pointer.
	Deallocate(ptr unsafe.Pointer, size int) bool

	// Report writes a human-readable dump of every pool and block. The
	// format is diagnostic only and carries no stability guarantee.
	Report(w io.Writer)
	// BuildStatsString returns a json summary of the allocator. When
	// detailed is set it includes a full slot map of every block.
	BuildStatsString(detailed bool) string
	// Validate sweeps every block's control structures and returns the
	// combined errors found, or nil.
	Validate() error

	// SetBlockSize changes the nominal block size used for future blocks
	// of the given affinity. Existing blocks are unaffected.
	SetBlockSize(affinity Affinity, blockSize int)
	// SetMemoryTracking toggles diagnostic behaviour on the facade and on
	// every existing block.
	SetMemoryTracking(tracking MemoryTracking)
	// DeleteEmptyMemoryBlocks releases blocks that contain no allocated
	// slots and returns the total number of bytes reclaimed.
	DeleteEmptyMemoryBlocks() int

	TotalAvailableSize() int
	TotalReservedSize() int
	TotalMemorySize() int
}

// Allocate obtains memory from the process-wide allocator singleton.
func Allocate(size int, affinity Affinity) unsafe.Pointer {
	return Instance().Allocate(size, affinity)
}

// Deallocate returns memory to the process-wide allocator singleton.
func Deallocate(ptr unsafe.Pointer, size int) bool {
	return Instance().Deallocate(ptr, size)
}
