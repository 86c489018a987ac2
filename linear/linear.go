// Package linear implements the monotonic bump allocator: O(1)
// allocation, no per-block free, whole-arena reset. Grounded on the C
// original's linear_allocator.c, restructured into the teacher's
// Config/Option constructor pattern (SeleniaProject-Orizon's
// allocator.go) and backed by region.Region instead of a bare
// zmemory_allocate/[]byte pair.
package linear

import (
	"unsafe"

	"github.com/regionalloc/memalloc/allocerr"
	"github.com/regionalloc/memalloc/internal/bitutil"
	"github.com/regionalloc/memalloc/platform"
	"github.com/regionalloc/memalloc/region"
)

// DefaultAlignment is used by Allocate (as opposed to AllocateAligned).
const DefaultAlignment = 8

// Config configures a linear allocator, following the teacher's
// functional-option pattern.
type Config struct {
	Trace allocerr.Trace
}

// Option configures a Config.
type Option func(*Config)

// WithTrace installs a tracing hook for create/allocate/reset events.
func WithTrace(t allocerr.Trace) Option {
	return func(c *Config) { c.Trace = t }
}

// Allocator is a linear (bump) allocator: allocations advance a single
// cursor through the region and are never freed individually; reset
// rewinds the cursor to the start.
type Allocator struct {
	mu     *platform.Mutex
	region *region.Region
	trace  allocerr.Trace
}

// Create constructs a linear allocator over a freshly acquired region of
// size bytes. Returns a Parameter fault if size is 0.
func Create(size uint64, opts ...Option) (*Allocator, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	trace := allocerr.OrDiscard(cfg.Trace)

	if size == 0 {
		err := allocerr.Parameter("linear.Create", "size must be > 0")
		trace("linear_allocator_create: %v", err)

		return nil, err
	}

	r, err := region.New(size)
	if err != nil {
		trace("linear_allocator_create: %v", err)
		return nil, err
	}

	trace("linear_allocator_create")

	return &Allocator{mu: platform.NewMutex(), region: r, trace: trace}, nil
}

// Destroy releases the allocator's backing region.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.Destroy()
	a.mu.Destroy()
	a.trace("linear_allocator_destroy")
}

// Allocate reserves n bytes aligned to DefaultAlignment (8).
func (a *Allocator) Allocate(n uint64) unsafe.Pointer {
	return a.AllocateAligned(n, DefaultAlignment)
}

// AllocateAligned reserves n bytes aligned to alignment, which must be
// one of {8, 16, 32, 64}. Returns nil (logged) on invalid parameters or
// on allocation pressure (used + padding + n > size).
func (a *Allocator) AllocateAligned(n, alignment uint64) unsafe.Pointer {
	if n == 0 || !bitutil.ValidAlignment(alignment) {
		a.trace("linear_allocator_allocate: invalid params")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	currAddr := uint64(a.region.Base()) + uint64(a.region.Used())
	alignedAddr := bitutil.AlignUp(currAddr, alignment)
	padding := alignedAddr - currAddr

	if uint64(a.region.Used())+padding+n > uint64(a.region.Size()) {
		a.trace("linear_allocator_allocate: no free space (requested %d, padding %d, alignment %d)", n, padding, alignment)
		return nil
	}

	a.region.AddUsed(uintptr(padding + n))

	return unsafe.Pointer(uintptr(alignedAddr))
}

// Reset rewinds the allocator to empty; all previously returned pointers
// become invalid, a caller contract the allocator does not enforce.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.SetUsed(0)
	a.trace("linear_allocator_reset")
}

// UsedMemory returns the number of bytes currently accounted as used.
func (a *Allocator) UsedMemory() uint64 {
	return uint64(a.region.Used())
}

// UnusedMemory returns the number of bytes still available.
func (a *Allocator) UnusedMemory() uint64 {
	return uint64(a.region.Size() - a.region.Used())
}
