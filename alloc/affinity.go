package alloc

// Affinity partitions allocations by usage class. Each affinity is served
// by its own pool of memory blocks with independent sizing, so allocations
// with similar lifetimes and access patterns stay together. Values above
// AffinityLast are legal; a pool with default parameters is created for
// them on first use.
type Affinity uint32

const (
	AffinityObjects Affinity = iota
	AffinityData
	AffinityNodes
	AffinityPhysics
	// AffinityLast names the number of predefined affinities.
	AffinityLast
)

var affinityMapping = map[Affinity]string{
	AffinityObjects: "AffinityObjects",
	AffinityData:    "AffinityData",
	AffinityNodes:   "AffinityNodes",
	AffinityPhysics: "AffinityPhysics",
}

func (a Affinity) String() string {
	name, ok := affinityMapping[a]
	if !ok {
		return "AffinityCustom"
	}
	return name
}

// AllocatorType selects the policy applied to pointers that no block, the
// large-allocation table, and no nested allocator recognise on Deallocate.
// Under a garbage collector, accepting such a pointer means disowning it
// to the runtime; AllocatorTypeNoDelete refuses to do that.
type AllocatorType uint32

const (
	AllocatorTypeNoDelete AllocatorType = iota
	AllocatorTypeNewDelete
	AllocatorTypeMallocFree
)

// MemoryTracking is a bitmask of diagnostic behaviours applied to every
// allocate and deallocate.
type MemoryTracking uint32

const (
	MemoryTrackingNoChecks MemoryTracking = 0
	// MemoryTrackingReportActions logs each allocation action.
	MemoryTrackingReportActions MemoryTracking = 0x1
	// MemoryTrackingCheckActions validates the affected block after each
	// action. Expensive.
	MemoryTrackingCheckActions MemoryTracking = 0x2
)

const megabyte = 1 << 20

// Default pool parameters. These must match existing deployments: OBJECTS,
// NODES and PHYSICS pools grow in 1 MiB blocks, the DATA pool in 16 MiB
// blocks, and PHYSICS payloads are aligned to 16 bytes.
const (
	defaultObjectsBlockSize = megabyte
	defaultDataBlockSize    = 16 * megabyte
	defaultNodesBlockSize   = megabyte
	defaultPhysicsBlockSize = megabyte

	physicsAlignment = 16
)
