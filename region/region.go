// Package region factors out the "one contiguous backing region with
// in-place bookkeeping" shape shared by the pool, free-list and buddy
// allocators: acquiring the backing bytes from the raw memory facade,
// bounds-checked offset<->pointer conversion, and the canary liveness
// marker every header carries. The teacher (SeleniaProject-Orizon's
// allocator.go/arena.go/pool.go) duplicates this arithmetic per
// allocator; here it is pulled into one narrow unsafe boundary per the
// allocator design notes ("encapsulate all such arithmetic behind a
// narrow unsafe/raw boundary and expose only safe operations").
package region

import (
	"unsafe"

	"github.com/regionalloc/memalloc/allocerr"
	"github.com/regionalloc/memalloc/rawmem"
)

// Canary is the fixed 64-bit liveness marker every live block header
// carries; a freed header's canary is cleared to 0.
const Canary uint64 = 0xF7B3D591E6A4C208

// NullOffset represents "no link" for offset-based prev/next fields
// (offset 0 is a legitimate header position, so it cannot double as a
// sentinel).
const NullOffset = ^uintptr(0)

// Region is the backing byte range an allocator carves blocks out of,
// plus the used-byte counter every variant maintains. It owns no lock
// of its own: per the concurrency design, each allocator embeds a
// single mutex and serializes all Region mutation through it.
type Region struct {
	buf  []byte
	base uintptr
	size uintptr
	used uintptr
}

// New acquires a region of the given size from the raw memory facade.
func New(size uint64) (*Region, error) {
	if size == 0 {
		return nil, allocerr.Parameter("region.New", "size must be > 0")
	}

	buf, err := rawmem.Allocate(size)
	if err != nil {
		return nil, err
	}

	return &Region{
		buf:  buf,
		base: uintptr(unsafe.Pointer(&buf[0])),
		size: uintptr(size),
	}, nil
}

// Destroy releases the backing bytes back to the raw memory facade.
func (r *Region) Destroy() {
	rawmem.Free(r.buf)
	r.buf = nil
	r.base = 0
	r.size = 0
	r.used = 0
}

// Size returns the region's total capacity in bytes.
func (r *Region) Size() uintptr { return r.size }

// Used returns the currently accounted byte count.
func (r *Region) Used() uintptr { return r.used }

// SetUsed overwrites the accounted byte count; callers must maintain
// invariant 1 (used <= size) themselves.
func (r *Region) SetUsed(used uintptr) { r.used = used }

// AddUsed adjusts the accounted byte count by delta (which may be
// negative, expressed as a two's-complement uintptr by the caller via
// SubUsed for clarity).
func (r *Region) AddUsed(delta uintptr) { r.used += delta }

// SubUsed decreases the accounted byte count by delta.
func (r *Region) SubUsed(delta uintptr) { r.used -= delta }

// Base returns the region's base address, for callers (e.g. the linear
// and stack allocators) that compute absolute payload addresses from
// the used offset.
func (r *Region) Base() uintptr { return r.base }

// Addr returns the absolute address of the given region-relative
// offset, the inverse of OffsetOf. Used by allocators (free-list,
// buddy) that key data structures like the coalescing hash set on
// absolute header addresses rather than offsets.
func (r *Region) Addr(offset uintptr) uintptr { return r.base + offset }

// Contains reports whether addr lies in [base, base+size).
func (r *Region) Contains(addr uintptr) bool {
	return addr >= r.base && addr < r.base+r.size
}

// Ptr returns the address of byte offset within the region. Callers are
// responsible for keeping offset+width within bounds; use Contains or
// OffsetOf to validate untrusted addresses before calling Ptr.
func (r *Region) Ptr(offset uintptr) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(&r.buf[0]), offset)
}

// OffsetOf converts an absolute address into a region-relative offset,
// reporting false if addr does not lie within the region.
func (r *Region) OffsetOf(addr uintptr) (uintptr, bool) {
	if !r.Contains(addr) {
		return 0, false
	}

	return addr - r.base, true
}

// LoadU64 reads a 64-bit word at the given region offset.
func (r *Region) LoadU64(offset uintptr) uint64 {
	return *(*uint64)(r.Ptr(offset))
}

// StoreU64 writes a 64-bit word at the given region offset.
func (r *Region) StoreU64(offset uintptr, v uint64) {
	*(*uint64)(r.Ptr(offset)) = v
}

// LoadOffset reads a region-relative offset field (stored as a raw
// uintptr-sized word) at the given region offset.
func (r *Region) LoadOffset(offset uintptr) uintptr {
	return *(*uintptr)(r.Ptr(offset))
}

// StoreOffset writes a region-relative offset field at the given region
// offset.
func (r *Region) StoreOffset(offset uintptr, v uintptr) {
	*(*uintptr)(r.Ptr(offset)) = v
}

// Zero overwrites the entire region with zero bytes, used by Reset paths
// that want a clean slate (not required by every allocator's reset,
// which mostly just re-initializes headers, but kept available for
// callers that want to scrub stale payload bytes too).
func (r *Region) Zero() {
	rawmem.SetZero(r.buf)
}
