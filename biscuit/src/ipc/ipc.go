// Package ipc implements spec.md §4.7's kernel-only IPC primitives:
// the counting semaphore ({count, wait queue}, FIFO down/up) and
// shared memory segments (shmget/shmat/shmdt/shmctl).
//
// Grounded on original_source/kernel/include/ipc/semaphore.h's
// semaphore_t{count, wait}/down/up (the richer of the two competing
// semaphore_t variants original_source carries, per SPEC_FULL.md's
// Open Question resolution to pick one and not support both), built on
// sched.WaitQueue_t for the wait list since it already dequeues FIFO
// (WakeOne pops queue[0]) — exactly the "guaranteed to dequeue in FIFO
// order" invariant spec.md §4.7 states for down/up. Shared memory has
// no original_source precedent (it is a feature spec.md added beyond
// the distillation source), so Shm_t is grounded instead on spec.md
// §4.7's shmget/shmat/shmdt/shmctl description directly, built on
// vm.Vm_t.Map (the same map primitive a page fault handler uses) to
// place a segment's frames into a caller's address space.
package ipc

import (
	"sync"

	"defs"
	"mem"
	"sched"
	"vm"
)

/// Sema_t is a kernel semaphore: a count plus a FIFO wait queue.
type Sema_t struct {
	mu    sync.Mutex
	count int
	wait  *sched.WaitQueue_t
	sched *sched.Sched_t
}

/// NewSema creates a semaphore with the given initial count, serviced
/// by s.
func NewSema(s *sched.Sched_t, count int) *Sema_t {
	return &Sema_t{count: count, wait: s.NewWaitQueue(), sched: s}
}

/// Down decrements the count if positive, else sleeps until a
/// matching Up wakes it (FIFO). self/tok are the calling task's
/// sched.Runnable_i and CPU token, as threaded through every blocking
/// kernel call in this tree.
func (s *Sema_t) Down(self sched.Runnable_i, tok chan struct{}) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.wait.Wait(self, tok, true)
	}
}

/// Up increments the count and wakes the longest-waiting sleeper, if
/// any, then calls Schedule so a woken sleeper can be handed the CPU.
func (s *Sema_t) Up() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.wait.WakeOne()
	s.sched.Schedule()
}

/// segment_t is one shared-memory segment: the physical frames backing
/// it and how many live attachments (shmat calls not yet shmdt'd)
/// reference it.
type segment_t struct {
	frames   []mem.Pa_t
	npages   uint32
	attached int
	removed  bool // shmctl(IPC_RMID): deallocate once attached hits 0
}

/// Shm_t is the kernel-wide shared-memory segment table, keyed by the
/// caller-chosen key spec.md §4.7's shmget takes.
type Shm_t struct {
	mu   sync.Mutex
	segs map[int]*segment_t
	mem  mem.Page_i
}

/// NewShm creates an empty segment table backed by allocator.
func NewShm(allocator mem.Page_i) *Shm_t {
	return &Shm_t{segs: make(map[int]*segment_t), mem: allocator}
}

/// Shmget creates a segment of the given size (rounded up to whole
/// pages) under key if none exists yet, or returns the existing one,
/// matching spec.md's "creates-or-finds".
func (s *Shm_t) Shmget(key int, size uint32) (int, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segs[key]; ok {
		return key, 0
	}
	npages := (size + uint32(mem.PGSIZE) - 1) / uint32(mem.PGSIZE)
	if npages == 0 {
		npages = 1
	}
	frames := make([]mem.Pa_t, 0, npages)
	for i := uint32(0); i < npages; i++ {
		_, pa, ok := s.mem.Refpg_new()
		if !ok {
			for _, pa := range frames {
				s.mem.Refdown(pa)
			}
			return 0, -defs.ENOMEM
		}
		frames = append(frames, pa)
	}
	s.segs[key] = &segment_t{frames: frames, npages: npages}
	return key, 0
}

/// Shmat maps key's segment into as starting at addr (page-aligned),
/// bumping its attach count.
func (s *Shm_t) Shmat(key int, as *vm.Vm_t, addr uint32, perms uint32) (uint32, defs.Err_t) {
	s.mu.Lock()
	seg, ok := s.segs[key]
	if !ok {
		s.mu.Unlock()
		return 0, -defs.EINVAL
	}
	seg.attached++
	frames := append([]mem.Pa_t(nil), seg.frames...)
	allocator := s.mem
	s.mu.Unlock()

	for i, pa := range frames {
		allocator.Refup(pa)
		va := addr + uint32(i)*uint32(mem.PGSIZE)
		if err := as.Map(va, pa, perms); err != 0 {
			return 0, err
		}
	}
	return addr, 0
}

/// Shmdt unmaps a previously-attached segment from as at addr and
/// drops its attach count, freeing the segment's frames if it was
/// already marked removed and this was the last attachment.
func (s *Shm_t) Shmdt(key int, as *vm.Vm_t, addr uint32) defs.Err_t {
	s.mu.Lock()
	seg, ok := s.segs[key]
	if !ok {
		s.mu.Unlock()
		return -defs.EINVAL
	}
	s.mu.Unlock()

	for i := uint32(0); i < seg.npages; i++ {
		va := addr + i*uint32(mem.PGSIZE)
		if pa, err := as.Unmap(va); err == 0 {
			s.mem.Refdown(pa)
		}
	}

	s.mu.Lock()
	seg.attached--
	done := seg.removed && seg.attached <= 0
	if done {
		delete(s.segs, key)
		for _, pa := range seg.frames {
			s.mem.Refdown(pa)
		}
	}
	s.mu.Unlock()
	return 0
}

/// Shmctl removes key from the table, deferring actual frame
/// deallocation until the last shmdt, per spec.md's "removal defers
/// actual deallocation until the last detach."
func (s *Shm_t) Shmctl(key int) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segs[key]
	if !ok {
		return -defs.EINVAL
	}
	seg.removed = true
	if seg.attached <= 0 {
		delete(s.segs, key)
		for _, pa := range seg.frames {
			s.mem.Refdown(pa)
		}
	}
	return 0
}
