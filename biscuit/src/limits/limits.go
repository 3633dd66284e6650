// Package limits tracks system-wide resource admission control: a fixed
// budget per resource kind (tasks, vnodes, futexes, pipes, buffer-cache
// pages, block-cache blocks), decremented as resources are handed out
// and returned when they're freed.
//
// Grounded on the teacher's limits/limits.go (Syslimit_t field set,
// Sysatomic_t.Taken/Given/Take/Give naming), trimmed of the
// networking-specific counters (Arpents, Routes, Tcpsegs, Socks) that
// have no home now that networking above the link layer is out of
// scope. Sysatomic_t is rebuilt on golang.org/x/sync/semaphore.Weighted
// instead of a hand-rolled atomic.AddInt64-and-check-for-negative loop:
// a weighted semaphore is exactly this "bounded pool of N units, try to
// take k, give k back" concern, and TryAcquire/Release already give the
// non-blocking admission check the teacher built by hand.
package limits

import (
	"context"

	"golang.org/x/sync/semaphore"
)

/// Sysatomic_t is a numeric resource pool that can be atomically taken
/// from and given back to, without ever going negative.
type Sysatomic_t struct {
	sem *semaphore.Weighted
}

/// NewSysatomic creates a pool with the given total capacity.
func NewSysatomic(n int64) Sysatomic_t {
	return Sysatomic_t{sem: semaphore.NewWeighted(n)}
}

/// Given returns n units to the pool.
func (s *Sysatomic_t) Given(n uint) {
	s.sem.Release(int64(n))
}

/// Taken tries to take n units from the pool without blocking. It
/// reports whether the units were available.
func (s *Sysatomic_t) Taken(n uint) bool {
	return s.sem.TryAcquire(int64(n))
}

/// Take takes a single unit from the pool, reporting success.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give returns a single unit to the pool.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// TakeWait blocks until a single unit is available or ctx is done.
func (s *Sysatomic_t) TakeWait(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

/// Syslimit_t tracks system-wide resource limits relevant to this
/// kernel's scope: tasks, filesystem vnodes, futexes, pipes, and the
/// buffer/block caches.
type Syslimit_t struct {
	Sysprocs Sysatomic_t
	Vnodes   Sysatomic_t
	Futexes  Sysatomic_t
	Pipes    Sysatomic_t
	// Mfspgs is a pool for per-page objects of the in-memory
	// filesystem; nothing in this tree takes from it.
	Mfspgs Sysatomic_t
	Blocks Sysatomic_t
}

/// Syslimit holds the configured system-wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: NewSysatomic(1e4),
		Futexes:  NewSysatomic(1024),
		Vnodes:   NewSysatomic(20000),
		Pipes:    NewSysatomic(1e4),
		Mfspgs:   NewSysatomic(1e5),
		// about 400MB of 4 KiB block pages
		Blocks: NewSysatomic(100000),
	}
}
