// Package pool implements the fixed-chunk pool allocator: the region is
// sliced into equal chunk_size chunks, each threaded into a singly-linked
// free list at construction. Allocate and Free take no size argument
// (every chunk is the same size). Grounded on pool_allocator.c,
// restructured onto region.Region; offsets replace raw next-pointers per
// the allocator design notes' preference for index-based headers over
// raw pointer fields.
package pool

import (
	"unsafe"

	"github.com/regionalloc/memalloc/allocerr"
	"github.com/regionalloc/memalloc/internal/bitutil"
	"github.com/regionalloc/memalloc/internal/leaktrack"
	"github.com/regionalloc/memalloc/platform"
	"github.com/regionalloc/memalloc/region"
)

// headerSize is the width of a chunk header: an offset-sized next link
// followed by a 64-bit canary. The canary is the last field so it
// occupies the 8 bytes immediately preceding the payload, matching the
// original's {next, unique} layout.
const headerSize = int(unsafe.Sizeof(uintptr(0))) + 8

const nextFieldOffset = 0

func canaryFieldOffset() uintptr { return uintptr(unsafe.Sizeof(uintptr(0))) }

// Config configures a pool allocator.
type Config struct {
	Trace           allocerr.Trace
	EnableLeakCheck bool
}

// Option configures a Config.
type Option func(*Config)

// WithTrace installs a tracing hook for create/allocate/free/reset
// events.
func WithTrace(t allocerr.Trace) Option {
	return func(c *Config) { c.Trace = t }
}

// WithLeakCheck enables per-chunk leak tracking (grounded on the
// teacher's WithLeakCheck option on SystemAllocatorImpl's Config):
// every successful Allocate is recorded, every successful Free forgets
// it, and LeakReport surfaces whatever is still outstanding.
func WithLeakCheck(enabled bool) Option {
	return func(c *Config) { c.EnableLeakCheck = enabled }
}

// Allocator is a fixed-chunk pool allocator.
type Allocator struct {
	mu        *platform.Mutex
	region    *region.Region
	chunkSize uint64
	chunks    uint64
	head      uintptr // offset of the head free chunk, or region.NullOffset
	trace     allocerr.Trace
	leaks     *leaktrack.Tracker
}

// Create constructs a pool allocator over a region of size bytes sliced
// into chunkSize chunks. chunkSize must be a power of two strictly
// greater than the chunk header size.
func Create(size, chunkSize uint64, opts ...Option) (*Allocator, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	trace := allocerr.OrDiscard(cfg.Trace)

	if size == 0 {
		err := allocerr.Parameter("pool.Create", "size must be > 0")
		trace("pool_allocator_create: %v", err)

		return nil, err
	}

	if !bitutil.IsPowerOfTwo(chunkSize) || chunkSize <= uint64(headerSize) {
		err := allocerr.Parameter("pool.Create", "chunk_size must be a power of two greater than the chunk header size")
		trace("pool_allocator_create: %v", err)

		return nil, err
	}

	chunks := size / chunkSize
	if chunks == 0 {
		err := allocerr.Parameter("pool.Create", "region too small for a single chunk")
		trace("pool_allocator_create: %v", err)

		return nil, err
	}

	r, err := region.New(chunks * chunkSize)
	if err != nil {
		trace("pool_allocator_create: %v", err)
		return nil, err
	}

	a := &Allocator{
		mu:        platform.NewMutex(),
		region:    r,
		chunkSize: chunkSize,
		chunks:    chunks,
		trace:     trace,
		leaks:     leaktrack.New(cfg.EnableLeakCheck),
	}
	a.threadFreeList()

	trace("pool_allocator_create: %d chunks of %d bytes", chunks, chunkSize)

	return a, nil
}

// threadFreeList links every chunk into the free list from scratch:
// chunk i's next points to chunk i+1, the last chunk's next is null.
func (a *Allocator) threadFreeList() {
	for i := uint64(0); i < a.chunks; i++ {
		off := i * a.chunkSize
		a.region.StoreU64(off+canaryFieldOffset(), 0)

		if i+1 < a.chunks {
			a.region.StoreOffset(off+nextFieldOffset, uintptr((i+1)*a.chunkSize))
		} else {
			a.region.StoreOffset(off+nextFieldOffset, region.NullOffset)
		}
	}

	if a.chunks > 0 {
		a.head = 0
	} else {
		a.head = region.NullOffset
	}

	a.region.SetUsed(0)
}

// Destroy releases the allocator's backing region.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.Destroy()
	a.mu.Destroy()
	a.trace("pool_allocator_destroy")
}

// Allocate pops the head chunk off the free list and returns its
// payload pointer, or nil if the pool is exhausted.
func (a *Allocator) Allocate() unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.head == region.NullOffset {
		a.trace("pool_allocator_allocate: exhausted")
		return nil
	}

	chunkOff := a.head
	nextOff := a.region.LoadOffset(chunkOff + nextFieldOffset)
	a.head = nextOff

	a.region.StoreU64(chunkOff+canaryFieldOffset(), region.Canary)
	a.region.StoreOffset(chunkOff+nextFieldOffset, region.NullOffset)
	a.region.AddUsed(uintptr(a.chunkSize))

	p := a.region.Ptr(chunkOff + uintptr(headerSize))
	a.leaks.Record(p, uintptr(a.chunkSize))

	return p
}

// Free validates p's header canary and pushes its chunk back onto the
// free list as the new head. Freeing an invalid pointer is a logged
// no-op.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		a.trace("pool_allocator_free: nil pointer")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	addr := uintptr(p)
	headerAddr := addr - uintptr(headerSize)

	chunkOff, ok := a.region.OffsetOf(headerAddr)
	if !ok || chunkOff%a.chunkSize != 0 {
		a.trace("pool_allocator_free: out of range")
		return
	}

	if a.region.LoadU64(chunkOff+canaryFieldOffset()) != region.Canary {
		a.trace("pool_allocator_free: bad canary")
		return
	}

	a.region.StoreU64(chunkOff+canaryFieldOffset(), 0)
	a.region.StoreOffset(chunkOff+nextFieldOffset, a.head)
	a.head = chunkOff
	a.region.SubUsed(uintptr(a.chunkSize))
	a.leaks.Forget(p)

	a.trace("pool_allocator_free")
}

// Reset re-threads the entire region's chunks from scratch, as if the
// pool had just been created.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.threadFreeList()
	a.leaks.Reset()
	a.trace("pool_allocator_reset")
}

// UsedMemory returns the number of bytes currently allocated (live
// chunks).
func (a *Allocator) UsedMemory() uint64 {
	return uint64(a.region.Used())
}

// UnusedMemory returns the number of bytes still available.
func (a *Allocator) UnusedMemory() uint64 {
	return uint64(a.region.Size() - a.region.Used())
}

// ChunkSize returns the fixed chunk size this pool was constructed with.
func (a *Allocator) ChunkSize() uint64 { return a.chunkSize }

// LeakReport returns every chunk currently considered outstanding, or
// nil if this pool was not constructed with WithLeakCheck(true).
func (a *Allocator) LeakReport() []leaktrack.LeakInfo {
	return a.leaks.Report()
}
