// Package buddy implements the power-of-two buddy allocator: the region
// starts as one free block covering the whole size, and allocation
// splits it down the free-list array (indexed by log2 size class)
// until a block of the right class is reached. Freeing an already-split
// block recombines it with its buddy — found via the buddy's
// address-XOR-size identity — repeatedly, up to the top class.
//
// Grounded on buddy_allocator.c, restructured onto region.Region with
// offset-based doubly-linked free lists per allocator. The original's
// check_its_buddy unlink has a bug (it clears the buddy's predecessor's
// next pointer instead of relinking around the removed node, corrupting
// the list whenever the buddy being removed isn't already the free
// list's head); this implementation fixes the unlink to fully relink
// both neighbors, per the corrected behavior called for in the
// allocator design notes' open questions.
package buddy

import (
	"unsafe"

	"github.com/regionalloc/memalloc/allocerr"
	"github.com/regionalloc/memalloc/internal/bitutil"
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

// headerSize is the total width of a buddy block header.
var headerSize = uint64(16) + 2*uint64(unsafe.Sizeof(uintptr(0)))

// Config configures a buddy allocator.
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

// WithLeakCheck enables per-block leak tracking (grounded on the
// teacher's WithLeakCheck option): every successful Allocate is
// recorded, every successful Free forgets it, and LeakReport surfaces
// whatever is still outstanding.
func WithLeakCheck(enabled bool) Option {
	return func(c *Config) { c.EnableLeakCheck = enabled }
}

// Allocator is a power-of-two buddy allocator.
type Allocator struct {
	mu         *platform.Mutex
	region     *region.Region
	topClass   uint32
	freeLists  []uintptr // indexed by size class; region.NullOffset when empty
	regionSize uint64
	trace      allocerr.Trace
	leaks      *leaktrack.Tracker
}

// Create constructs a buddy allocator over a freshly acquired region of
// size bytes, which must be a power of two strictly greater than the
// block header size.
func Create(size uint64, opts ...Option) (*Allocator, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	trace := allocerr.OrDiscard(cfg.Trace)

	if !bitutil.IsPowerOfTwo(size) || size <= headerSize {
		err := allocerr.Parameter("buddy.Create", "size must be a power of two greater than the block header size")
		trace("buddy_allocator_create: %v", err)

		return nil, err
	}

	r, err := region.New(size)
	if err != nil {
		trace("buddy_allocator_create: %v", err)
		return nil, err
	}

	topClass := bitutil.Log2CeilBits(size) - 1

	a := &Allocator{
		mu:         platform.NewMutex(),
		region:     r,
		topClass:   topClass,
		regionSize: size,
		trace:      trace,
		leaks:      leaktrack.New(cfg.EnableLeakCheck),
	}
	a.resetLocked()

	trace("buddy_allocator_create: top class %d", topClass)

	return a, nil
}

func (a *Allocator) resetLocked() {
	a.freeLists = make([]uintptr, a.topClass+1)
	for i := range a.freeLists {
		a.freeLists[i] = region.NullOffset
	}

	a.region.StoreU64(fieldCanary, 0)
	a.region.StoreU64(fieldSize, a.regionSize)
	a.region.StoreOffset(fieldPrev, region.NullOffset)
	a.region.StoreOffset(fieldNext, region.NullOffset)
	a.freeLists[a.topClass] = 0
	a.region.SetUsed(0)
	a.leaks.Reset()
}

// Destroy releases the allocator's backing region.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.Destroy()
	a.mu.Destroy()
	a.trace("buddy_allocator_destroy")
}

func (a *Allocator) blockSize(off uintptr) uint64      { return a.region.LoadU64(off + fieldSize) }
func (a *Allocator) setBlockSize(off uintptr, v uint64) { a.region.StoreU64(off+fieldSize, v) }
func (a *Allocator) blockPrev(off uintptr) uintptr     { return a.region.LoadOffset(off + fieldPrev) }
func (a *Allocator) blockNext(off uintptr) uintptr     { return a.region.LoadOffset(off + fieldNext) }
func (a *Allocator) setBlockPrev(off, v uintptr)       { a.region.StoreOffset(off+fieldPrev, v) }
func (a *Allocator) setBlockNext(off, v uintptr)       { a.region.StoreOffset(off+fieldNext, v) }

func classOf(size uint64) uint32 { return bitutil.Log2CeilBits(size) - 1 }

// unlinkFromClass removes the block at off from size class k's free
// list, fully relinking its neighbors. This is the corrected version of
// the original's buggy unlink (see package doc).
func (a *Allocator) unlinkFromClass(k uint32, off uintptr) {
	prev := a.blockPrev(off)
	next := a.blockNext(off)

	if prev == region.NullOffset {
		a.freeLists[k] = next
	} else {
		a.setBlockNext(prev, next)
	}

	if next != region.NullOffset {
		a.setBlockPrev(next, prev)
	}
}

// insertIntoClass pushes the block at off onto the front of size class
// k's free list.
func (a *Allocator) insertIntoClass(k uint32, off uintptr) {
	head := a.freeLists[k]

	a.setBlockPrev(off, region.NullOffset)
	a.setBlockNext(off, head)

	if head != region.NullOffset {
		a.setBlockPrev(head, off)
	}

	a.freeLists[k] = off
}

// Allocate reserves at least n bytes, rounded up to the smallest
// power-of-two block that also accommodates the header, splitting
// larger free blocks as needed. Returns nil if no block of sufficient
// class is free.
func (a *Allocator) Allocate(n uint64) unsafe.Pointer {
	if n == 0 {
		a.trace("buddy_allocator_allocate: invalid params")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	req := bitutil.NextPow2(n + headerSize)
	class := classOf(req)

	if int(class) > int(a.topClass) {
		a.trace("buddy_allocator_allocate: request exceeds top class")
		return nil
	}

	k := class
	for k <= a.topClass && a.freeLists[k] == region.NullOffset {
		k++
	}

	if k > a.topClass {
		a.trace("buddy_allocator_allocate: no free block for %d bytes", n)
		return nil
	}

	off := a.freeLists[k]
	a.unlinkFromClass(k, off)

	for k > class {
		half := a.blockSize(off) / 2
		a.setBlockSize(off, half)

		buddyOff := off + uintptr(half)
		a.region.StoreU64(buddyOff+fieldCanary, 0)
		a.setBlockSize(buddyOff, half)

		k--
		a.insertIntoClass(k, buddyOff)
	}

	a.region.StoreU64(off+fieldCanary, region.Canary)
	a.region.AddUsed(uintptr(req))

	p := a.region.Ptr(off + uintptr(headerSize))
	a.leaks.Record(p, uintptr(req))

	return p
}

// Free validates p's header, clears its canary, and merges it with its
// buddy repeatedly until no further buddy is free or the top class is
// reached. Freeing an invalid pointer is a logged no-op.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		a.trace("buddy_allocator_free: nil pointer")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	headerAddr := uintptr(p) - uintptr(headerSize)

	off, ok := a.region.OffsetOf(headerAddr)
	if !ok {
		a.trace("buddy_allocator_free: out of range")
		return
	}

	if a.region.LoadU64(off+fieldCanary) != region.Canary {
		a.trace("buddy_allocator_free: bad canary")
		return
	}

	size := a.blockSize(off)
	a.region.StoreU64(off+fieldCanary, 0)
	a.region.SubUsed(uintptr(size))
	a.leaks.Forget(p)

	if size == a.regionSize {
		a.resetLocked()
		a.trace("buddy_allocator_free: whole-region block freed")

		return
	}

	k := classOf(size)

	for k < a.topClass {
		buddyOff := off ^ uintptr(size)

		if !a.region.Contains(a.region.Addr(buddyOff)) {
			break
		}

		if !a.blockIsFreeAt(k, buddyOff) {
			break
		}

		a.unlinkFromClass(k, buddyOff)

		if buddyOff < off {
			off = buddyOff
		}

		size *= 2
		k++
		a.setBlockSize(off, size)
		a.region.StoreU64(off+fieldCanary, 0)
	}

	a.setBlockSize(off, size)
	a.insertIntoClass(k, off)
	a.trace("buddy_allocator_free")
}

// blockIsFreeAt reports whether off is currently a member of size class
// k's free list (as opposed to merely having the right size but being
// live or part of a larger block).
func (a *Allocator) blockIsFreeAt(k uint32, off uintptr) bool {
	for cur := a.freeLists[k]; cur != region.NullOffset; cur = a.blockNext(cur) {
		if cur == off {
			return true
		}
	}

	return false
}

// Reset re-initializes the allocator to a single free block covering
// the whole region. Outstanding user pointers are invalidated but not
// detected, a caller contract.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetLocked()
	a.trace("buddy_allocator_reset")
}

// UsedMemory returns the number of bytes currently accounted as used.
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
