// Package platform is the platform facade consumed by the allocator core:
// monotonic time, sleep, threads, mutual-exclusion locks, and counting
// semaphores. It mirrors the external collaborator contract described by
// the allocator specification's platform facade (out of scope for the
// core's own algorithms, but depended on for concurrency), grounded on
// the C original's zthread/zmutex/zsemaphore headers and platform_linux.c.
package platform

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// monoStart anchors Now's readings to the monotonic clock.
var monoStart = time.Now()

// Now returns a monotonic timestamp in seconds, measured from package
// initialization, matching platform_time()'s contract
// (clock_gettime(CLOCK_MONOTONIC, ...)).
func Now() float64 {
	return time.Since(monoStart).Seconds()
}

// Sleep suspends the calling goroutine for the given number of
// milliseconds, matching platform_sleep(ms).
func Sleep(ms uint64) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Handle identifies a spawned thread, returned by ThreadSpawn and
// consumed by ThreadJoin/ThreadJoinAll.
type Handle struct {
	done chan struct{}
}

// ThreadSpawn runs entry(arg) on a new goroutine and returns a handle
// that ThreadJoin can wait on, matching zthread_create's
// spawn-with-argument contract.
func ThreadSpawn(entry func(arg any), arg any) *Handle {
	h := &Handle{done: make(chan struct{})}

	go func() {
		defer close(h.done)
		entry(arg)
	}()

	return h
}

// ThreadJoin blocks until the thread identified by h has returned,
// matching zthread_wait.
func ThreadJoin(h *Handle) {
	if h == nil {
		return
	}

	<-h.done
}

// ThreadJoinAll waits for every handle in hs, matching
// zthread_wait_on_all.
func ThreadJoinAll(hs []*Handle) {
	for _, h := range hs {
		ThreadJoin(h)
	}
}

// Mutex is a mutual-exclusion lock matching zmutex_create/lock/unlock/
// destroy. Go's sync.Mutex already embeds create/destroy (zero value is
// ready, and there is nothing to release), so Create/Destroy here exist
// only to keep the facade's shape symmetric with the spec's contract —
// Destroy is a no-op, consistent with zmutex_destroy having nothing to
// free once pthread_mutex_destroy succeeds.
type Mutex struct {
	mu sync.Mutex
}

// NewMutex creates a ready-to-use mutex.
func NewMutex() *Mutex { return &Mutex{} }

// Lock acquires the mutex, blocking indefinitely. The concurrency model
// requires treating a lock held by a panicking goroutine as
// unrecoverable: Go's sync.Mutex already does not unpoison on panic, so
// no extra bookkeeping is required here.
func (m *Mutex) Lock() { m.mu.Lock() }

// Unlock releases the mutex.
func (m *Mutex) Unlock() { m.mu.Unlock() }

// Destroy tears down the mutex. No-op: Go mutexes have no OS resource
// to release.
func (m *Mutex) Destroy() {}

// Semaphore is a counting semaphore matching zsemaphore_create/destroy/
// signal/wait, backed by golang.org/x/sync/semaphore's weighted
// semaphore instead of a hand-rolled channel ring.
type Semaphore struct {
	w *semaphore.Weighted
}

// NewSemaphore creates a semaphore with the given maximum count.
func NewSemaphore(maxCount int64) *Semaphore {
	return &Semaphore{w: semaphore.NewWeighted(maxCount)}
}

// Signal releases one unit of the semaphore, matching zsemaphore_signal.
func (s *Semaphore) Signal() {
	s.w.Release(1)
}

// Wait acquires one unit of the semaphore, blocking indefinitely,
// matching zsemaphore_wait.
func (s *Semaphore) Wait() {
	// context.Background never cancels; Acquire only returns an error
	// on context cancellation, so this cannot fail.
	_ = s.w.Acquire(context.Background(), 1)
}

// Destroy releases the semaphore's resources. No-op: there is nothing
// OS-level to free for a weighted semaphore.
func (s *Semaphore) Destroy() {}

// Clock abstracts Now() so tests can control time
// deterministically; go.uber.org/mock generates MockClock from this
// interface (see clock_mock.go).
type Clock interface {
	Now() float64
}

// SystemClock is the default Clock, backed by platform.Now.
type SystemClock struct{}

// Now returns the current monotonic time in seconds.
func (SystemClock) Now() float64 { return Now() }
