// Package rawmem is the raw memory facade consumed by the allocator
// core: page-granularity allocate/free of backing regions, and the
// byte-level set/copy/move/compare primitives allocators use on their
// own bookkeeping. Grounded on the C original's zmemory_allocate/
// zmemory_free/zmemory_set/zmemory_copy/zmemory_move/zmemory_compare,
// with the backing store acquired from the OS via golang.org/x/sys/unix
// mmap rather than malloc, since Go allocators carving up a single
// region benefit from a real page mapping instead of a GC-managed slice
// (the GC cannot move or collect bytes the allocator is handing out
// raw pointers into).
package rawmem

import (
	"sync"
	"sync/atomic"
)

// counter is the process-wide allocated_memory total from zmemory.c's
// static zmemory_state, maintained under a lock so tests can inspect it.
var counter struct {
	mu        sync.Mutex
	allocated uint64
}

// AllocatedMemory returns the total bytes currently outstanding across
// every region acquired through Allocate and not yet returned via Free.
func AllocatedMemory() uint64 {
	counter.mu.Lock()
	defer counter.mu.Unlock()

	return counter.allocated
}

func trackAlloc(n uint64) {
	counter.mu.Lock()
	counter.allocated += n
	counter.mu.Unlock()
}

func trackFree(n uint64) {
	counter.mu.Lock()
	counter.allocated -= n
	counter.mu.Unlock()
}

// SetZero zeroes size bytes of block, matching zmemory_set_zero.
func SetZero(block []byte) {
	for i := range block {
		block[i] = 0
	}
}

// Set fills block with value, matching zmemory_set.
func Set(block []byte, value byte) {
	for i := range block {
		block[i] = value
	}
}

// Copy copies src into dst, matching zmemory_copy (non-overlapping
// regions; use Move for overlapping ones).
func Copy(dst, src []byte) int {
	return copy(dst, src)
}

// Move copies src into dst even when the two slices overlap, matching
// zmemory_move. Go's builtin copy already handles overlap correctly
// regardless of direction, so Move and Copy share an implementation;
// both are kept because the C facade exposes them as distinct
// operations and allocator call sites name the one they mean.
func Move(dst, src []byte) int {
	return copy(dst, src)
}

// Compare lexically compares two byte blocks, matching zmemory_compare's
// memcmp semantics (0 means equal); when one block is a prefix of the
// other, the shorter one compares as less.
func Compare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// globalAllocCount backs AllocCount: the number of successful Allocate
// calls, never decremented by Free.
var globalAllocCount uint64

// AllocCount returns the number of Allocate calls made so far.
func AllocCount() uint64 { return atomic.LoadUint64(&globalAllocCount) }
