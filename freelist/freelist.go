// Package freelist implements the best-fit, splitting, coalescing
// variable-size allocator. The region starts as one free block; each
// block carries a header of {size, prev, next, canary} with prev/next
// offsets into a doubly-linked free list. Allocation searches for the
// smallest free block that fits (best fit), splitting off the
// remainder when it is large enough to host another header. Free
// scans the free list once for a physically adjacent free block to
// merge with, and allocation pressure triggers an O(F) hash-set-driven
// coalescing sweep before giving up.
//
// Grounded on freelist_allocator.c, with the coalescing sweep
// implemented using internal/intset (the hash-set variant the original
// source carries in one build configuration; see the design notes for
// why that variant, not the simpler adjacency-only one, was kept).
package freelist

import (
	"unsafe"

	"github.com/regionalloc/memalloc/allocerr"
	"github.com/regionalloc/memalloc/internal/bitutil"
	"github.com/regionalloc/memalloc/internal/intset"
	"github.com/regionalloc/memalloc/internal/leaktrack"
	"github.com/regionalloc/memalloc/platform"
	"github.com/regionalloc/memalloc/region"
)

// header field layout: size(8) | prev(ptr) | next(ptr) | canary(8).
// Canary is the last field so it occupies the 8 bytes immediately
// preceding the payload.
const fieldSize = 0

var (
	fieldPrev   = uintptr(8)
	fieldNext   = uintptr(8) + uintptr(unsafe.Sizeof(uintptr(0)))
	fieldCanary = uintptr(8) + 2*uintptr(unsafe.Sizeof(uintptr(0)))
)

// headerSize is the total width of a free-list block header.
var headerSize = uint64(16) + 2*uint64(unsafe.Sizeof(uintptr(0)))

// Config configures a free-list allocator.
type Config struct {
	Trace           allocerr.Trace
	EnableLeakCheck bool
}

// Option configures a Config.
type Option func(*Config)

// WithTrace installs a tracing hook for create/allocate/free/reset/
// coalesce events.
func WithTrace(t allocerr.Trace) Option {
	return func(c *Config) { c.Trace = t }
}

// WithLeakCheck enables per-block leak tracking (grounded on the
// teacher's WithLeakCheck option): every successful Allocate is
// recorded, every successful Free forgets it, and LeakReport surfaces
// whatever is still outstanding.
func WithLeakCheck(enabled bool) Option {
	return func(c *Config) { c.EnableLeakCheck = enabled }
}

// Allocator is a best-fit, splitting, coalescing free-list allocator.
type Allocator struct {
	mu     *platform.Mutex
	region *region.Region
	head   uintptr // offset of the first free block, or region.NullOffset
	trace  allocerr.Trace
	leaks  *leaktrack.Tracker
}

// Create constructs a free-list allocator over a freshly acquired
// region of size bytes, initialized as a single free block.
func Create(size uint64, opts ...Option) (*Allocator, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	trace := allocerr.OrDiscard(cfg.Trace)

	if size == 0 || size <= headerSize {
		err := allocerr.Parameter("freelist.Create", "size must be greater than the block header size")
		trace("freelist_allocator_create: %v", err)

		return nil, err
	}

	r, err := region.New(size)
	if err != nil {
		trace("freelist_allocator_create: %v", err)
		return nil, err
	}

	a := &Allocator{mu: platform.NewMutex(), region: r, trace: trace, leaks: leaktrack.New(cfg.EnableLeakCheck)}
	a.resetLocked()

	trace("freelist_allocator_create")

	return a, nil
}

func (a *Allocator) resetLocked() {
	a.region.StoreU64(fieldCanary, 0)
	a.region.StoreU64(fieldSize, uint64(a.region.Size()))
	a.region.StoreOffset(fieldPrev, region.NullOffset)
	a.region.StoreOffset(fieldNext, region.NullOffset)
	a.head = 0
	a.region.SetUsed(0)
}

// Destroy releases the allocator's backing region.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.Destroy()
	a.mu.Destroy()
	a.trace("freelist_allocator_destroy")
}

func (a *Allocator) blockSize(off uintptr) uint64  { return a.region.LoadU64(off + fieldSize) }
func (a *Allocator) setBlockSize(off uintptr, v uint64) {
	a.region.StoreU64(off+fieldSize, v)
}
func (a *Allocator) blockPrev(off uintptr) uintptr { return a.region.LoadOffset(off + fieldPrev) }
func (a *Allocator) blockNext(off uintptr) uintptr { return a.region.LoadOffset(off + fieldNext) }
func (a *Allocator) setBlockPrev(off, v uintptr)   { a.region.StoreOffset(off+fieldPrev, v) }
func (a *Allocator) setBlockNext(off, v uintptr)   { a.region.StoreOffset(off+fieldNext, v) }

// unlink removes the block at off from the free list.
func (a *Allocator) unlink(off uintptr) {
	prev := a.blockPrev(off)
	next := a.blockNext(off)

	if prev == region.NullOffset {
		a.head = next
	} else {
		a.setBlockNext(prev, next)
	}

	if next != region.NullOffset {
		a.setBlockPrev(next, prev)
	}
}

// insertAtHead pushes the block at off onto the front of the free list.
func (a *Allocator) insertAtHead(off uintptr) {
	a.setBlockPrev(off, region.NullOffset)
	a.setBlockNext(off, a.head)

	if a.head != region.NullOffset {
		a.setBlockPrev(a.head, off)
	}

	a.head = off
}

// insertAtTail appends the block at off to the back of the free list.
func (a *Allocator) insertAtTail(off uintptr) {
	if a.head == region.NullOffset {
		a.setBlockPrev(off, region.NullOffset)
		a.setBlockNext(off, region.NullOffset)
		a.head = off

		return
	}

	tail := a.head
	for a.blockNext(tail) != region.NullOffset {
		tail = a.blockNext(tail)
	}

	a.setBlockNext(tail, off)
	a.setBlockPrev(off, tail)
	a.setBlockNext(off, region.NullOffset)
}

// bestFit returns the offset of the smallest free block whose size is
// >= need, or region.NullOffset if none fits.
func (a *Allocator) bestFit(need uint64) uintptr {
	best := region.NullOffset
	bestSize := uint64(0)

	for off := a.head; off != region.NullOffset; off = a.blockNext(off) {
		sz := a.blockSize(off)
		if sz >= need && (best == region.NullOffset || sz < bestSize) {
			best = off
			bestSize = sz
		}
	}

	return best
}

// Allocate reserves n bytes, returning nil if no block fits even after
// a coalescing sweep.
func (a *Allocator) Allocate(n uint64) unsafe.Pointer {
	if n == 0 {
		a.trace("freelist_allocator_allocate: invalid params")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n >= uint64(a.region.Size()) {
		a.trace("freelist_allocator_allocate: request exceeds region size")
		return nil
	}

	usedSize := bitutil.AlignUp(headerSize+n, 8)

	off := a.bestFit(usedSize)
	if off == region.NullOffset {
		a.coalesceLocked()

		off = a.bestFit(usedSize)
		if off == region.NullOffset {
			a.trace("freelist_allocator_allocate: no fit for %d bytes", n)
			return nil
		}
	}

	blockSize := a.blockSize(off)

	a.unlink(off)

	if blockSize-usedSize > headerSize {
		remainderOff := off + uintptr(usedSize)
		a.region.StoreU64(remainderOff+fieldCanary, 0)
		a.setBlockSize(remainderOff, blockSize-usedSize)
		a.insertAtHead(remainderOff)
		a.setBlockSize(off, usedSize)
	} else {
		usedSize = blockSize
		a.setBlockSize(off, usedSize)
	}

	a.region.StoreU64(off+fieldCanary, region.Canary)
	a.region.AddUsed(uintptr(usedSize))

	p := a.region.Ptr(off + uintptr(headerSize))
	a.leaks.Record(p, uintptr(usedSize))

	return p
}

// Free validates p's header, clears its canary, and attempts an
// adjacency merge against the free list before placing it back on the
// list. Freeing an invalid pointer is a logged no-op.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		a.trace("freelist_allocator_free: nil pointer")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	headerAddr := uintptr(p) - uintptr(headerSize)

	off, ok := a.region.OffsetOf(headerAddr)
	if !ok {
		a.trace("freelist_allocator_free: out of range")
		return
	}

	if a.region.LoadU64(off+fieldCanary) != region.Canary {
		a.trace("freelist_allocator_free: bad canary")
		return
	}

	size := a.blockSize(off)
	a.region.StoreU64(off+fieldCanary, 0)
	a.region.SubUsed(uintptr(size))
	a.leaks.Forget(p)

	if a.head == region.NullOffset {
		a.setBlockSize(off, size)
		a.insertAtHead(off)
		a.trace("freelist_allocator_free")

		return
	}

	for cur := a.head; cur != region.NullOffset; cur = a.blockNext(cur) {
		curSize := a.blockSize(cur)

		if cur+uintptr(curSize) == off {
			a.setBlockSize(cur, curSize+size)
			a.trace("freelist_allocator_free: absorbed into preceding block")

			return
		}

		if off+uintptr(size) == cur {
			a.unlink(cur)
			a.setBlockSize(off, size+curSize)
			a.insertAtHead(off)
			a.trace("freelist_allocator_free: absorbed following block")

			return
		}
	}

	a.setBlockSize(off, size)
	a.insertAtTail(off)
	a.trace("freelist_allocator_free")
}

// coalesceLocked builds a hash set of all currently-free header
// addresses, then walks each free block merging it with its immediate
// successor whenever that successor is also free. Invoked only under
// allocation pressure.
func (a *Allocator) coalesceLocked() {
	free := intset.New(8)

	for off := a.head; off != region.NullOffset; off = a.blockNext(off) {
		free.Insert(a.region.Addr(off))
	}

	merges := 0

	for off := a.head; off != region.NullOffset; {
		size := a.blockSize(off)
		nextAddr := a.region.Addr(off) + uintptr(size)

		if a.region.Contains(nextAddr) && free.Contains(nextAddr) {
			nextOff, _ := a.region.OffsetOf(nextAddr)
			mergedSize := size + a.blockSize(nextOff)

			a.unlink(nextOff)
			free.Remove(nextAddr)
			a.setBlockSize(off, mergedSize)
			merges++

			continue // re-check the same, now larger, block
		}

		off = a.blockNext(off)
	}

	a.trace("freelist_allocator_coalesce: merged %d blocks", merges)
}

// Reset re-initializes the single free-block state. Outstanding user
// pointers are invalidated but not detected, a caller contract.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()
	a.leaks.Reset()
	a.trace("freelist_allocator_reset")
}

// UsedMemory returns the number of bytes currently accounted as used,
// including header overhead.
func (a *Allocator) UsedMemory() uint64 {
	return uint64(a.region.Used())
}

// UnusedMemory returns the number of bytes still available.
func (a *Allocator) UnusedMemory() uint64 {
	return uint64(a.region.Size() - a.region.Used())
}

// LeakReport returns every block currently considered outstanding, or
// nil if this allocator was not constructed with WithLeakCheck(true).
func (a *Allocator) LeakReport() []leaktrack.LeakInfo {
	return a.leaks.Report()
}
