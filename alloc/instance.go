package alloc

import (
	"os"
	"sync"
)

// AllocatorEnv is the environment variable consulted when the process-wide
// allocator is first used. Set it to "NEW" to select the intrusive variant;
// any other value, or none, selects the segregated variant.
const AllocatorEnv = "VSG_ALLOCATOR"

var (
	instanceMutex sync.Mutex
	instance      Allocator
)

// NewAllocatorFromEnv builds an allocator whose variant is chosen by the
// named environment variable.
func NewAllocatorFromEnv(envVar string) Allocator {
	if os.Getenv(envVar) == "NEW" {
		return NewIntrusiveAllocator(nil)
	}
	return NewBlockAllocator(nil)
}

// Instance returns the process-wide allocator, creating it on first use
// from the AllocatorEnv environment variable.
func Instance() Allocator {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if instance == nil {
		instance = NewAllocatorFromEnv(AllocatorEnv)
	}
	return instance
}

// SetInstance replaces the process-wide allocator and returns the previous
// one, which may be nil. The caller takes over any memory still held by
// the previous allocator.
func SetInstance(a Allocator) Allocator {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	previous := instance
	instance = a
	return previous
}
