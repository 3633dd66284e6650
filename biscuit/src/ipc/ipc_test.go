package ipc

import (
	"testing"
	"time"

	"defs"
	"mem"
	"sched"
	"vm"
)

type fakeTask struct {
	tid      defs.Tid_t
	priority int
	counter  int
	state    defs.TaskState_t
}

func (f *fakeTask) Tid() defs.Tid_t             { return f.tid }
func (f *fakeTask) Priority() int               { return f.priority }
func (f *fakeTask) Counter() int                { return f.counter }
func (f *fakeTask) SetCounter(c int)            { f.counter = c }
func (f *fakeTask) State() defs.TaskState_t     { return f.state }
func (f *fakeTask) SetState(s defs.TaskState_t) { f.state = s }

func TestSemaDownBlocksUntilUp(t *testing.T) {
	s := sched.New()
	sem := NewSema(s, 0)

	waiter := &fakeTask{tid: 1, priority: 10}
	tok := s.Enter(waiter)
	<-tok

	done := make(chan struct{})
	go func() {
		sem.Down(waiter, tok)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Down returned before a matching Up")
	case <-time.After(20 * time.Millisecond):
	}

	sem.Up()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Down never woke after Up")
	}
}

func TestSemaDownSucceedsImmediatelyWhenPositive(t *testing.T) {
	s := sched.New()
	sem := NewSema(s, 1)
	waiter := &fakeTask{tid: 1, priority: 10}
	tok := s.Enter(waiter)
	<-tok

	doneCh := make(chan struct{})
	go func() {
		sem.Down(waiter, tok)
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatalf("Down blocked despite a positive count")
	}
}

func TestShmgetCreatesOrFinds(t *testing.T) {
	alloc := mem.Phys_init(64, 0)
	shm := NewShm(alloc)

	id1, err := shm.Shmget(7, uint32(mem.PGSIZE))
	if err != 0 {
		t.Fatalf("shmget: %v", err)
	}
	id2, err := shm.Shmget(7, uint32(mem.PGSIZE))
	if err != 0 || id2 != id1 {
		t.Fatalf("expected shmget on an existing key to return the same id")
	}
}

func TestShmatShmdtMapsAndUnmaps(t *testing.T) {
	alloc := mem.Phys_init(64, 0)
	shm := NewShm(alloc)
	as, err := vm.NewVm(alloc)
	if err != 0 {
		t.Fatalf("NewVm: %v", err)
	}

	id, err := shm.Shmget(1, uint32(mem.PGSIZE))
	if err != 0 {
		t.Fatalf("shmget: %v", err)
	}
	const addr = 0x40000000
	got, err := shm.Shmat(id, as, addr, 0x7)
	if err != 0 || got != addr {
		t.Fatalf("shmat: %v", err)
	}
	if err := shm.Shmdt(id, as, addr); err != 0 {
		t.Fatalf("shmdt: %v", err)
	}
}

func TestShmctlDefersRemovalUntilLastDetach(t *testing.T) {
	alloc := mem.Phys_init(64, 0)
	shm := NewShm(alloc)
	as, err := vm.NewVm(alloc)
	if err != 0 {
		t.Fatalf("NewVm: %v", err)
	}

	id, _ := shm.Shmget(3, uint32(mem.PGSIZE))
	const addr = 0x50000000
	if _, err := shm.Shmat(id, as, addr, 0x7); err != 0 {
		t.Fatalf("shmat: %v", err)
	}

	if err := shm.Shmctl(id); err != 0 {
		t.Fatalf("shmctl: %v", err)
	}
	if _, ok := shm.segs[id]; !ok {
		t.Fatalf("expected segment to still exist while attached")
	}

	if err := shm.Shmdt(id, as, addr); err != 0 {
		t.Fatalf("shmdt: %v", err)
	}
	if _, ok := shm.segs[id]; ok {
		t.Fatalf("expected segment to be freed after last detach")
	}
}
