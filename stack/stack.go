// Package stack implements the LIFO stack allocator: each allocation
// pushes a trailing header recording the used-byte mark before the
// allocation, so the most recent allocation can be popped without a
// caller-supplied size. Grounded on stack_allocator.c, restructured onto
// region.Region. Unlike the C original, which has no synchronization at
// all, this allocator embeds a mutex: the library-wide concurrency
// model requires every allocator to serialize access on one mutex, and
// the stack allocator is no exception even though its source material
// predates that requirement.
package stack

import (
	"unsafe"

	"github.com/regionalloc/memalloc/allocerr"
	"github.com/regionalloc/memalloc/internal/bitutil"
	"github.com/regionalloc/memalloc/platform"
	"github.com/regionalloc/memalloc/region"
)

// DefaultAlignment is used by Allocate (as opposed to AllocateAligned).
const DefaultAlignment = 8

// headerSize is the width of the trailing "previous used mark" header,
// one 64-bit word.
const headerSize = 8

// Config configures a stack allocator.
type Config struct {
	Trace allocerr.Trace
}

// Option configures a Config.
type Option func(*Config)

// WithTrace installs a tracing hook for create/allocate/free/reset
// events.
func WithTrace(t allocerr.Trace) Option {
	return func(c *Config) { c.Trace = t }
}

// Allocator is a LIFO stack allocator: Free always releases the most
// recent live allocation, recovering the used mark from its trailing
// header.
type Allocator struct {
	mu     *platform.Mutex
	region *region.Region
	trace  allocerr.Trace
}

// Create constructs a stack allocator over a freshly acquired region of
// size bytes.
func Create(size uint64, opts ...Option) (*Allocator, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	trace := allocerr.OrDiscard(cfg.Trace)

	if size == 0 {
		err := allocerr.Parameter("stack.Create", "size must be > 0")
		trace("stack_allocator_create: %v", err)

		return nil, err
	}

	r, err := region.New(size)
	if err != nil {
		trace("stack_allocator_create: %v", err)
		return nil, err
	}

	trace("stack_allocator_create")

	return &Allocator{mu: platform.NewMutex(), region: r, trace: trace}, nil
}

// Destroy releases the allocator's backing region.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.Destroy()
	a.mu.Destroy()
	a.trace("stack_allocator_destroy")
}

// Allocate reserves n bytes aligned to DefaultAlignment (8).
func (a *Allocator) Allocate(n uint64) unsafe.Pointer {
	return a.AllocateAligned(n, DefaultAlignment)
}

// AllocateAligned reserves n bytes aligned to alignment (one of
// {8, 16, 32, 64}), pushing a trailing header that records the used
// mark immediately preceding this allocation so Free can pop it.
func (a *Allocator) AllocateAligned(n, alignment uint64) unsafe.Pointer {
	if n == 0 || !bitutil.ValidAlignment(alignment) {
		a.trace("stack_allocator_allocate: invalid params")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	priorUsed := uint64(a.region.Used())
	currAddr := uint64(a.region.Base()) + priorUsed
	alignedAddr := bitutil.AlignUp(currAddr, alignment)
	padding := alignedAddr - currAddr

	total := padding + n + headerSize
	if priorUsed+total > uint64(a.region.Size()) {
		a.trace("stack_allocator_allocate: no free space (requested %d)", n)
		return nil
	}

	headerOffset := uintptr(priorUsed) + uintptr(padding+n)
	a.region.StoreU64(headerOffset, priorUsed)
	a.region.AddUsed(uintptr(total))

	return unsafe.Pointer(uintptr(alignedAddr))
}

// Free releases the most recently allocated live block, restoring the
// used mark recorded in its trailing header. It is a no-op on an empty
// stack.
func (a *Allocator) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.region.Used() == 0 {
		a.trace("stack_allocator_free: empty stack")
		return
	}

	headerOffset := a.region.Used() - headerSize
	priorUsed := a.region.LoadU64(headerOffset)
	a.region.SetUsed(uintptr(priorUsed))
	a.trace("stack_allocator_free")
}

// Reset empties the stack in one step, equivalent to repeatedly calling
// Free until empty.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.region.SetUsed(0)
	a.trace("stack_allocator_reset")
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
