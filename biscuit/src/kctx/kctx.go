// Package kctx replaces tinfo's runtime.Gptr/Setgptr-based "current
// task" lookup with explicit context threading. The teacher's
// tinfo.Current looked up the running thread's note via two entry
// points patched directly into its forked Go runtime (runtime.Gptr,
// runtime.Setgptr) — thread-local storage a stock toolchain has no
// equivalent for. Since every task in this kernel is already a real
// goroutine (sched's design note), the idiomatic stand-in isn't a
// goroutine-local lookup hack; it's passing the calling task's *T down
// the call chain like any other argument, the way a context.Context
// is threaded through an ordinary Go server.
//
// Grounded on tinfo/tinfo.go's Tnote_t field set (State, Alive, Killed,
// Isdoomed, Killnaps) and Threadinfo_t's registry, kept as the
// directory lookup by Tid_t that genuinely is cross-task (signal
// delivery, waitpid) rather than a thread-local concern.
package kctx

import (
	"fmt"
	"sync"

	"caller"
	"defs"
)

/// T is the kernel-side context of one running task, passed explicitly
/// into every operation that needs to know "who is calling". It
/// replaces tinfo.Tnote_t plus the thread-local lookup that used to
/// find one.
type T struct {
	Tid   defs.Tid_t
	State interface{}

	// protects Killed, Killnaps.Cond and Kerr; a leaf lock.
	sync.Mutex
	Alive    bool
	Killed   bool
	Isdoomed bool
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// New returns a fresh context for the given task id.
func New(tid defs.Tid_t) *T {
	t := &T{Tid: tid, Alive: true}
	t.Killnaps.Killch = make(chan bool)
	t.Killnaps.Cond = sync.NewCond(&t.Mutex)
	return t
}

/// Doomed reports whether the task is marked to die at its next
/// preemption-safe point.
func (t *T) Doomed() bool {
	t.Lock()
	d := t.Isdoomed
	t.Unlock()
	return d
}

/// Doom marks the task doomed and wakes anything waiting on Killnaps.
func (t *T) Doom() {
	t.Lock()
	t.Isdoomed = true
	t.Killnaps.Cond.Broadcast()
	t.Unlock()
}

/// Registry is a directory of live task contexts keyed by tid, for the
/// genuinely cross-task lookups (signal delivery, waitpid) that are not
/// "what is the calling task" but "where is task N".
type Registry struct {
	sync.Mutex
	m map[defs.Tid_t]*T

	// dupRemoves flags distinct call chains that Remove a tid the
	// registry never held (or already removed) — a double-reap bug
	// would show up here the first time it happens from each call
	// site, rather than once per occurrence. Disabled by default; set
	// dupRemoves.Enabled to turn it on for debugging.
	dupRemoves caller.Distinct_caller_t
}

/// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[defs.Tid_t]*T)}
}

/// Put registers a task context.
func (r *Registry) Put(t *T) {
	r.Lock()
	r.m[t.Tid] = t
	r.Unlock()
}

/// Get looks up a task context by tid, reporting whether it was found.
func (r *Registry) Get(tid defs.Tid_t) (*T, bool) {
	r.Lock()
	t, ok := r.m[tid]
	r.Unlock()
	return t, ok
}

/// Remove drops a task context from the registry, e.g. on exit/reap.
func (r *Registry) Remove(tid defs.Tid_t) {
	r.Lock()
	_, ok := r.m[tid]
	delete(r.m, tid)
	r.Unlock()
	if !ok {
		if isNew, trace := r.dupRemoves.Distinct(); isNew {
			fmt.Printf("kctx: redundant Registry.Remove(%d):\n%s", tid, trace)
		}
	}
}

/// Len reports the number of live tasks tracked.
func (r *Registry) Len() int {
	r.Lock()
	n := len(r.m)
	r.Unlock()
	return n
}
