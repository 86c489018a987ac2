//go:build unix

package rawmem

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/regionalloc/memalloc/allocerr"
)

// Allocate reserves size bytes of zeroed, page-backed memory via an
// anonymous private mmap, matching zmemory_allocate's
// "malloc then memset(0)" contract but with a real page mapping instead
// of heap memory the Go GC might otherwise try to scan or move.
func Allocate(size uint64) ([]byte, error) {
	if size == 0 {
		return nil, allocerr.Parameter("rawmem.Allocate", "size must be > 0")
	}

	block, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, allocerr.Platform("rawmem.Allocate", fmt.Sprintf("mmap failed: %v", err))
	}

	trackAlloc(size)
	atomic.AddUint64(&globalAllocCount, 1)

	return block, nil
}

// Free releases a region acquired via Allocate, matching zmemory_free.
func Free(block []byte) {
	if len(block) == 0 {
		return
	}

	size := uint64(len(block))
	if err := unix.Munmap(block); err != nil {
		// A Munmap failure is neither logged nor propagated: Free has no
		// return value (zmemory_free returns void) and this package has
		// no trace hook. The allocated-memory counter is left unchanged.
		return
	}

	trackFree(size)
}
