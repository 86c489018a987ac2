package memalloc

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/regionalloc/memalloc/buddy"
	"github.com/regionalloc/memalloc/freelist"
	"github.com/regionalloc/memalloc/internal/xrand"
	"github.com/regionalloc/memalloc/linear"
	"github.com/regionalloc/memalloc/platform"
	"github.com/regionalloc/memalloc/pool"
	"github.com/regionalloc/memalloc/stack"
)

const (
	concurrencyThreads = 8
	concurrencyOps     = 200
)

// TestConcurrentPoolAllocateFreeStaysConsistent spawns K threads each
// performing M allocate/free pairs against one pool allocator, matching
// the concurrency property: every allocation is null or distinct from
// every other live allocation, and used memory stays within capacity
// once all threads join.
func TestConcurrentPoolAllocateFreeStaysConsistent(t *testing.T) {
	a, err := pool.Create(1<<16, 64)
	require.NoError(t, err)
	defer a.Destroy()

	var mu sync.Mutex
	seen := map[unsafe.Pointer]bool{}
	var overlaps int64

	var handles []*platform.Handle

	for i := 0; i < concurrencyThreads; i++ {
		h := platform.ThreadSpawn(func(seedArg any) {
			seed := seedArg.(uint64)
			rnd := xrand.New(seed)

			for j := 0; j < concurrencyOps; j++ {
				p := a.Allocate()
				if p == nil {
					continue
				}

				mu.Lock()
				if seen[p] {
					atomic.AddInt64(&overlaps, 1)
				}
				seen[p] = true
				mu.Unlock()

				if rnd.Int(0, 2) == 0 {
					mu.Lock()
					delete(seen, p)
					mu.Unlock()

					a.Free(p)
				}
			}
		}, uint64(1000+i))

		handles = append(handles, h)
	}

	platform.ThreadJoinAll(handles)

	require.Zero(t, overlaps)
	require.LessOrEqual(t, a.UsedMemory(), uint64(1<<16))
}

// TestConcurrentFreeListAllocateFreeStaysConsistent exercises the same
// property against the free-list allocator, whose allocate path also
// triggers coalescing under pressure.
func TestConcurrentFreeListAllocateFreeStaysConsistent(t *testing.T) {
	a, err := freelist.Create(1 << 16)
	require.NoError(t, err)
	defer a.Destroy()

	var mu sync.Mutex
	var live []unsafe.Pointer

	var handles []*platform.Handle

	for i := 0; i < concurrencyThreads; i++ {
		h := platform.ThreadSpawn(func(seedArg any) {
			seed := seedArg.(uint64)
			rnd := xrand.New(seed)

			for j := 0; j < concurrencyOps; j++ {
				size := uint64(rnd.Int(8, 256))
				p := a.Allocate(size)

				mu.Lock()
				if p != nil {
					live = append(live, p)
				}

				if len(live) > 0 && rnd.Int(0, 2) == 0 {
					idx := int(rnd.Int(0, uint32(len(live))))
					victim := live[idx]
					live = append(live[:idx], live[idx+1:]...)
					mu.Unlock()

					a.Free(victim)
				} else {
					mu.Unlock()
				}
			}
		}, uint64(2000+i))

		handles = append(handles, h)
	}

	platform.ThreadJoinAll(handles)

	for _, p := range live {
		a.Free(p)
	}

	require.Zero(t, a.UsedMemory())
}

// TestConcurrentBuddyAllocateFreeStaysConsistent exercises the
// concurrency property against the buddy allocator; after every
// outstanding block is freed, the allocator's "empty" invariant (one
// free top-class block) holds, verified indirectly by a subsequent
// whole-region allocation succeeding.
func TestConcurrentBuddyAllocateFreeStaysConsistent(t *testing.T) {
	a, err := buddy.Create(1 << 16)
	require.NoError(t, err)
	defer a.Destroy()

	var mu sync.Mutex
	var live []unsafe.Pointer

	var handles []*platform.Handle

	for i := 0; i < concurrencyThreads; i++ {
		h := platform.ThreadSpawn(func(seedArg any) {
			seed := seedArg.(uint64)
			rnd := xrand.New(seed)

			for j := 0; j < concurrencyOps; j++ {
				size := uint64(rnd.Int(16, 512))
				p := a.Allocate(size)

				mu.Lock()
				if p != nil {
					live = append(live, p)
				}

				if len(live) > 0 && rnd.Int(0, 2) == 0 {
					idx := int(rnd.Int(0, uint32(len(live))))
					victim := live[idx]
					live = append(live[:idx], live[idx+1:]...)
					mu.Unlock()

					a.Free(victim)
				} else {
					mu.Unlock()
				}
			}
		}, uint64(3000+i))

		handles = append(handles, h)
	}

	platform.ThreadJoinAll(handles)

	for _, p := range live {
		a.Free(p)
	}

	require.Zero(t, a.UsedMemory())

	whole := a.Allocate(1<<16 - 64)
	require.NotNil(t, whole)
}

// TestConcurrentLinearAllocateStaysWithinCapacity checks the linear
// allocator's invariant under concurrent pressure: used never exceeds
// capacity and every granted allocation is within region bounds.
func TestConcurrentLinearAllocateStaysWithinCapacity(t *testing.T) {
	a, err := linear.Create(1 << 16)
	require.NoError(t, err)
	defer a.Destroy()

	var handles []*platform.Handle

	for i := 0; i < concurrencyThreads; i++ {
		h := platform.ThreadSpawn(func(seedArg any) {
			seed := seedArg.(uint64)
			rnd := xrand.New(seed)

			for j := 0; j < concurrencyOps; j++ {
				a.Allocate(uint64(rnd.Int(8, 128)))
			}
		}, uint64(4000+i))

		handles = append(handles, h)
	}

	platform.ThreadJoinAll(handles)

	require.LessOrEqual(t, a.UsedMemory(), uint64(1<<16))
	require.Equal(t, uint64(1<<16), a.UsedMemory()+a.UnusedMemory())
}

// TestConcurrentStackAllocateFreeStaysBalanced drives concurrent
// allocate/free pairs against one stack allocator; since free always
// pops the most recent block, the net effect of K threads racing is
// still a sequence of paired pushes/pops that must leave used
// non-negative and bounded.
func TestConcurrentStackAllocateFreeStaysBalanced(t *testing.T) {
	a, err := stack.Create(1 << 16)
	require.NoError(t, err)
	defer a.Destroy()

	var handles []*platform.Handle

	for i := 0; i < concurrencyThreads; i++ {
		h := platform.ThreadSpawn(func(seedArg any) {
			seed := seedArg.(uint64)
			rnd := xrand.New(seed)

			for j := 0; j < concurrencyOps; j++ {
				p := a.Allocate(uint64(rnd.Int(8, 64)))
				if p != nil {
					a.Free()
				}
			}
		}, uint64(5000+i))

		handles = append(handles, h)
	}

	platform.ThreadJoinAll(handles)

	require.LessOrEqual(t, a.UsedMemory(), uint64(1<<16))
}
