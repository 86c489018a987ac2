//go:build !unix

package rawmem

import (
	"sync/atomic"

	"github.com/regionalloc/memalloc/allocerr"
)

// Allocate reserves size bytes of zeroed memory from the Go heap. Used
// on build targets without an mmap syscall (e.g. windows, wasm); the
// unix build carries the real page-granularity facade (raw_unix.go).
func Allocate(size uint64) ([]byte, error) {
	if size == 0 {
		return nil, allocerr.Parameter("rawmem.Allocate", "size must be > 0")
	}

	block := make([]byte, size)

	trackAlloc(size)
	atomic.AddUint64(&globalAllocCount, 1)

	return block, nil
}

// Free releases a region acquired via Allocate.
func Free(block []byte) {
	if len(block) == 0 {
		return
	}

	trackFree(uint64(len(block)))
}
