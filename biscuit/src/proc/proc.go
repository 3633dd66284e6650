// Package proc is the task layer: task lifecycle (fork/exec/exit/
// waitpid), file descriptor tables, credentials, and signal delivery
// (spec.md §4.5, §3's Task data model). It sits on sched for the run
// queue and wait queues, vm for per-task address spaces, fd for the
// descriptor table and cwd, kctx for the explicit per-task context
// that replaces tinfo's thread-local lookup, accnt for CPU-time
// accounting, and limits for the system-wide process-count ceiling
// fork(2) admits against.
//
// Grounded on spec.md §3's Task field list and §4.5's fork/exec/exit/
// wait/signal algorithms, with original_source/include/proc/task.h's
// thread_state enum (THREAD_READY, surfaced here as defs.READY, the
// sub-state a task holds between creation and its first scheduler
// entry) and original_source/include/proc/sched.h's
// run_task/kill_task/current_task naming.
package proc

import (
	"fmt"
	"sync"

	"accnt"
	"defs"
	"fd"
	"kctx"
	"limits"
	"sched"
	"ustr"
	"vm"
)

/// DefaultPriority is the base priority new tasks start with, matching
/// typical dynamic-priority schedulers' "nice 0" baseline.
const DefaultPriority = 20

/// Task_t is one schedulable unit of execution with its own address
/// space; this kernel does not separate thread from process (spec.md
/// §3), so Tid and Pid coincide.
type Task_t struct {
	Pid  defs.Pid_t
	Ppid defs.Pid_t
	Pgid defs.Pid_t
	Sid  defs.Pid_t

	Ctx *kctx.T

	sync.Mutex // protects every field below
	state      defs.TaskState_t
	priority   int
	counter    int

	Parent   *Task_t
	Children []*Task_t

	Uid, Euid, Gid, Egid int
	Umask                int
	Brk                  uint32

	Vm   *vm.Vm_t
	Cwd  *fd.Cwd_t
	Root *fd.Cwd_t

	fds    map[int]*fd.Fd_t
	nextFd int

	sigMask   uint32
	sigPend   uint32
	sigAction [defs.NSIG]defs.SigAction_t

	Acct accnt.Accnt_t

	ExitStatus int

	tok        chan struct{}
	childExitQ *sched.WaitQueue_t
	sched      *sched.Sched_t
}

// Tid satisfies sched.Runnable_i; this kernel does not separate
// thread from process, so a task's tid and pid are the same value.
func (t *Task_t) Tid() defs.Tid_t { return defs.Tid_t(t.Pid) }

// Runnable_i, satisfied for sched.Sched_t/WaitQueue_t.
func (t *Task_t) Priority() int { t.Lock(); defer t.Unlock(); return t.priority }
func (t *Task_t) Counter() int  { t.Lock(); defer t.Unlock(); return t.counter }
func (t *Task_t) SetCounter(c int) {
	t.Lock()
	t.counter = c
	t.Unlock()
}
func (t *Task_t) State() defs.TaskState_t {
	t.Lock()
	defer t.Unlock()
	return t.state
}
func (t *Task_t) SetState(s defs.TaskState_t) {
	t.Lock()
	t.state = s
	t.Unlock()
}

var _ sched.Runnable_i = (*Task_t)(nil)

/// GetBrk/SetBrk expose the task's current heap-segment top (spec.md
/// §3's brk), read/written by the sbrk/brk syscalls.
func (t *Task_t) GetBrk() uint32 {
	t.Lock()
	defer t.Unlock()
	return t.Brk
}

func (t *Task_t) SetBrk(b uint32) {
	t.Lock()
	t.Brk = b
	t.Unlock()
}

/// Tok returns the task's CPU token channel, which any blocking
/// syscall passes to a sched.WaitQueue_t's Wait alongside the task
/// itself.
func (t *Task_t) Tok() chan struct{} { return t.tok }

/// SleepQ returns a fresh private wait queue scoped to one blocking
/// call (e.g. nanosleep, which has no shared condition to wait on,
/// unlike childExitQ's fixed per-parent queue).
func (t *Task_t) SleepQ() *sched.WaitQueue_t {
	return t.sched.NewWaitQueue()
}

/// Sys_t bundles the kernel-wide state a task's lifecycle operations
/// need: the scheduler, the task registry, and pid allocation. One
/// Sys_t exists per running kernel instance.
type Sys_t struct {
	Sched *sched.Sched_t
	Tasks *kctx.Registry

	mu      sync.Mutex
	nextPid defs.Pid_t

	Init *Task_t
}

/// NewSys creates kernel-wide task-management state.
func NewSys() *Sys_t {
	return &Sys_t{
		Sched:   sched.New(),
		Tasks:   kctx.NewRegistry(),
		nextPid: 1,
	}
}

func (s *Sys_t) allocPid() defs.Pid_t {
	s.mu.Lock()
	p := s.nextPid
	s.nextPid++
	s.mu.Unlock()
	return p
}

// newTask allocates a bare task registered with sys but not yet
// runnable; callers finish wiring Vm/Cwd/fds before calling Start.
// Pid 1 (init) is whichever task the kernel bootstrap's first Spawn
// call produces (spec.md §3: "exactly one task has pid 1").
func (s *Sys_t) newTask(parent *Task_t, as *vm.Vm_t) *Task_t {
	pid := s.allocPid()
	t := &Task_t{
		Pid:        pid,
		Ctx:        kctx.New(pid),
		state:      defs.READY,
		priority:   DefaultPriority,
		counter:    DefaultPriority,
		Vm:         as,
		fds:        make(map[int]*fd.Fd_t),
		nextFd:     0,
		Umask:      0022,
		childExitQ: s.Sched.NewWaitQueue(),
		sched:      s.Sched,
	}
	for i := range t.sigAction {
		t.sigAction[i] = defs.SIG_DFL
	}
	if parent != nil {
		t.Ppid = parent.Pid
		t.Pgid = parent.Pgid
		t.Sid = parent.Sid
		t.Uid, t.Euid, t.Gid, t.Egid = parent.Uid, parent.Euid, parent.Gid, parent.Egid
		parent.Lock()
		parent.Children = append(parent.Children, t)
		t.Parent = parent
		parent.Unlock()
	} else {
		t.Pgid, t.Sid = pid, pid
	}
	s.Tasks.Put(t.Ctx)
	return t
}

/// Start registers t on the run queue, making it eligible for
/// scheduling, and records its CPU token.
func (s *Sys_t) Start(t *Task_t) {
	t.SetState(defs.RUNNING)
	t.tok = s.Sched.Enter(t)
}

/// Spawn creates the very first task (init) with a fresh address
/// space and no parent.
func (s *Sys_t) Spawn(as *vm.Vm_t) *Task_t {
	t := s.newTask(nil, as)
	t.Root = fd.MkRootCwd(nil)
	t.Cwd = fd.MkRootCwd(nil)
	s.Start(t)
	if s.Init == nil {
		s.Init = t
	}
	return t
}

/// AddFile installs f at the lowest free descriptor slot and returns
/// it (spec.md §4.4's open: "allocate a file-descriptor in the task's
/// table (lowest free slot)").
func (t *Task_t) AddFile(f *fd.Fd_t) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	for i := 0; i < defs.NR_OPEN; i++ {
		if _, taken := t.fds[i]; !taken {
			t.fds[i] = f
			if i >= t.nextFd {
				t.nextFd = i + 1
			}
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

/// AddFileFrom installs f at the lowest free descriptor slot that is
/// >= floor (fcntl(2)'s F_DUPFD: "duplicate to the lowest available
/// descriptor greater than or equal to arg").
func (t *Task_t) AddFileFrom(f *fd.Fd_t, floor int) (int, defs.Err_t) {
	if floor < 0 {
		floor = 0
	}
	t.Lock()
	defer t.Unlock()
	for i := floor; i < defs.NR_OPEN; i++ {
		if _, taken := t.fds[i]; !taken {
			t.fds[i] = f
			if i >= t.nextFd {
				t.nextFd = i + 1
			}
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

/// GetFile looks up an open descriptor by number.
func (t *Task_t) GetFile(fdn int) (*fd.Fd_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	f, ok := t.fds[fdn]
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}

/// InstallFile binds f at the specific descriptor number fdn, replacing
/// whatever was there (dup2's "onto a chosen slot" semantics, distinct
/// from AddFile's lowest-free-slot policy).
func (t *Task_t) InstallFile(fdn int, f *fd.Fd_t) defs.Err_t {
	if fdn < 0 || fdn >= defs.NR_OPEN {
		return -defs.EBADF
	}
	t.Lock()
	t.fds[fdn] = f
	if fdn >= t.nextFd {
		t.nextFd = fdn + 1
	}
	t.Unlock()
	return 0
}

/// CloseFile closes and removes descriptor fdn.
func (t *Task_t) CloseFile(fdn int) defs.Err_t {
	t.Lock()
	f, ok := t.fds[fdn]
	if !ok {
		t.Unlock()
		return -defs.EBADF
	}
	delete(t.fds, fdn)
	t.Unlock()
	return f.Fops.Close()
}

/// Fork duplicates parent into a new task: cloned (COW-eligible)
/// address space, a duplicated fd table (each entry reopened so its
/// refcount reflects the extra reference), copied signal state and
/// credentials — per spec.md §4.5's fork algorithm. The new task
/// starts RUNNING on the run queue; the child task is returned to the
/// caller, which is expected to arrange that the child's own first return
/// from Fork reports 0 (this kernel models a task as a goroutine, so
/// the child-returns-0 illusion is the caller's job, e.g. by spawning
/// the child's goroutine with the child Task_t and never executing
/// the parent's continuation inside it).
func (s *Sys_t) Fork(parent *Task_t) (*Task_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, -defs.ENOMEM
	}
	childVm, err := parent.Vm.Clone()
	if err != 0 {
		limits.Syslimit.Sysprocs.Give()
		return nil, err
	}
	child := s.newTask(parent, childVm)

	parent.Lock()
	child.sigMask = parent.sigMask
	child.sigAction = parent.sigAction
	child.Brk = parent.Brk
	pfds := make(map[int]*fd.Fd_t, len(parent.fds))
	for i, f := range parent.fds {
		pfds[i] = f
	}
	pnextFd := parent.nextFd
	parent.Unlock()

	for i, f := range pfds {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			continue
		}
		child.fds[i] = nf
	}
	child.nextFd = pnextFd
	child.Cwd = forkCwd(parent.Cwd)
	child.Root = parent.Root

	s.Start(child)
	return child, 0
}

// forkCwd gives a forked child its own independent cwd binding: the
// same directory as parent, but its own dentry reference (fd.Copyfd's
// Reopen), so a chdir(2) in one task never relocates the other out
// from under it. Falls back to sharing parent's binding if parent has
// none yet (only possible before kernel bootstrap wires the first
// task's cwd) or the reopen fails.
func forkCwd(parent *fd.Cwd_t) *fd.Cwd_t {
	if parent == nil || parent.Fd == nil {
		return parent
	}
	parent.Lock()
	path := parent.Path
	pfd := parent.Fd
	parent.Unlock()
	nfd, err := fd.Copyfd(pfd)
	if err != 0 {
		return parent
	}
	return &fd.Cwd_t{Fd: nfd, Path: path}
}

/// Exit marks t ZOMBIE, tears down its address space and descriptors,
/// reparents its children to init, and wakes its parent's child-exit
/// wait queue — per spec.md §4.5's exit algorithm.
func (s *Sys_t) Exit(t *Task_t, status int) {
	t.Lock()
	for fdn, f := range t.fds {
		f.Fops.Close()
		delete(t.fds, fdn)
	}
	t.Unlock()

	if t.Cwd != nil && t.Cwd.Fd != nil {
		t.Cwd.Fd.Fops.Close()
	}

	t.Vm.Uvmfree()

	t.Lock()
	kids := t.Children
	t.Children = nil
	t.Unlock()
	for _, c := range kids {
		c.Lock()
		c.Parent = s.Init
		c.Unlock()
		if s.Init != nil {
			s.Init.Lock()
			s.Init.Children = append(s.Init.Children, c)
			s.Init.Unlock()
		}
	}

	t.Lock()
	t.state = defs.ZOMBIE
	t.ExitStatus = status
	parent := t.Parent
	t.Unlock()

	if parent != nil {
		parent.childExitQ.WakeAll()
	}

	if t != s.Init {
		limits.Syslimit.Sysprocs.Give()
	}
}

/// Waitpid blocks until a child matching pid (-1 for any) is a
/// zombie, reaps it, and returns its pid and exit status. WNOHANG
/// makes the call non-blocking, returning (0, 0, 0) if no zombie is
/// ready yet (spec.md §4.5).
func (s *Sys_t) Waitpid(parent *Task_t, pid defs.Pid_t, opts int) (defs.Pid_t, int, defs.Err_t) {
	for {
		parent.Lock()
		for i, c := range parent.Children {
			if pid != -1 && c.Pid != pid {
				continue
			}
			if c.State() == defs.ZOMBIE {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				parent.Unlock()
				status := c.ExitStatus
				cpid := c.Pid
				s.Sched.Leave(c)
				s.Tasks.Remove(c.Tid())
				return cpid, status, 0
			}
		}
		noKids := len(parent.Children) == 0
		parent.Unlock()
		if noKids {
			return 0, 0, -defs.ECHILD
		}
		if opts&defs.WNOHANG != 0 {
			return 0, 0, 0
		}
		parent.childExitQ.Wait(parent, parent.tok, true)
		if parent.Ctx.Doomed() {
			return 0, 0, -defs.EINTR
		}
	}
}

/// Kill ORs sig's bit into target's pending mask (spec.md §4.5).
/// SIGKILL additionally dooms the task so a blocking sleep aborts
/// promptly even if the signal is (illegally) masked by a caller bug:
/// SIGKILL and SIGSTOP can never actually be blocked.
func Kill(target *Task_t, sig int) defs.Err_t {
	if sig <= 0 || sig >= defs.NSIG {
		return -defs.EINVAL
	}
	target.Lock()
	target.sigPend |= 1 << uint(sig-1)
	target.Unlock()
	if sig == defs.SIGKILL {
		target.Ctx.Doom()
	}
	return 0
}

// unmaskable is the bit mask of signals that can never be blocked,
// caught, or ignored (spec.md §4.5: "SIGKILL and SIGSTOP cannot be
// blocked, caught, or ignored").
const unmaskable = 1<<uint(defs.SIGKILL-1) | 1<<uint(defs.SIGSTOP-1)

/// SetSigMask installs a new block mask, silently clearing the
/// unmaskable bits.
func (t *Task_t) SetSigMask(mask uint32) {
	t.Lock()
	t.sigMask = mask &^ unmaskable
	t.Unlock()
}

/// SetSigAction installs act for sig; attempts to change SIGKILL/
/// SIGSTOP's disposition are rejected.
func (t *Task_t) SetSigAction(sig int, act defs.SigAction_t) defs.Err_t {
	if sig <= 0 || sig >= defs.NSIG {
		return -defs.EINVAL
	}
	if sig == defs.SIGKILL || sig == defs.SIGSTOP {
		return -defs.EINVAL
	}
	t.Lock()
	t.sigAction[sig-1] = act
	t.Unlock()
	return 0
}

/// NextSignal pops and returns the lowest-numbered deliverable signal
/// (pending & ~blocked, with SIGKILL/SIGSTOP always deliverable) along
/// with its disposition, or (0, _, false) if none is due. Called at
/// the return-to-userspace boundary per spec.md §4.5.
func (t *Task_t) NextSignal() (int, defs.SigAction_t, bool) {
	t.Lock()
	defer t.Unlock()
	deliverable := t.sigPend &^ (t.sigMask &^ unmaskable)
	if deliverable == 0 {
		return 0, 0, false
	}
	for sig := 1; sig < defs.NSIG; sig++ {
		bit := uint32(1) << uint(sig-1)
		if deliverable&bit != 0 {
			t.sigPend &^= bit
			return sig, t.sigAction[sig-1], true
		}
	}
	return 0, 0, false
}

// procStatFormat is the exact field layout guillermo-go.procstat scans
// a /proc/<pid>/stat line with; ProcStat fills in the fields this
// kernel tracks (pid, comm, state, ppid, pgrp, session, utime, stime)
// and zeroes the rest (flags/faults/vm sizes this core doesn't model),
// so the output still round-trips through the same format string.
const procStatFormat = "%d %s %c %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d %d"

/// ProcStat renders a Linux /proc/<pid>/stat-shaped line for
/// diagnostics, grounded on the field order guillermo-go.procstat
/// reads (pid, comm, state, ppid, pgrp, session, ... utime, stime ...
/// — the subset this kernel tracks; everything else is zeroed).
func (t *Task_t) ProcStat(comm ustr.Ustr) string {
	t.Lock()
	st := stateChar(t.state)
	pid, ppid, pgid, sid := int(t.Pid), int(t.Ppid), int(t.Pgid), int(t.Sid)
	t.Unlock()
	// utime/stime are reported in clock ticks (HZ=100), matching
	// /proc/pid/stat's units, converted from the accounted nanoseconds.
	t.Acct.Lock()
	utime := t.Acct.Userns / (1e9 / 100)
	stime := t.Acct.Sysns / (1e9 / 100)
	t.Acct.Unlock()
	return fmt.Sprintf(
		"%d %s %c %d %d %d 0 0 0 0 0 0 0 %d %d 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0",
		pid, comm.String(), st, ppid, pgid, sid, utime, stime)
}

func stateChar(s defs.TaskState_t) byte {
	switch s {
	case defs.RUNNING:
		return 'R'
	case defs.SLEEPING_INTERRUPTIBLE:
		return 'S'
	case defs.SLEEPING_UNINTERRUPTIBLE:
		return 'D'
	case defs.STOPPED:
		return 'T'
	case defs.ZOMBIE:
		return 'Z'
	default:
		return 'X'
	}
}
