package proc

import (
	"fmt"
	"testing"

	"defs"
	"fd"
	"fdops"
	"mem"
	"ustr"
	"vm"
)

type countingFdops struct {
	reopens int
	closes  int
}

func (c *countingFdops) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (c *countingFdops) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (c *countingFdops) Lseek(off, whence int) (int, defs.Err_t)    { return 0, -defs.ESPIPE }
func (c *countingFdops) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
func (c *countingFdops) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ, 0
}
func (c *countingFdops) Reopen() defs.Err_t {
	c.reopens++
	return 0
}
func (c *countingFdops) Close() defs.Err_t {
	c.closes++
	return 0
}

func freshVm(t *testing.T) *vm.Vm_t {
	alloc := mem.Phys_init(64, 0)
	as, err := vm.NewVm(alloc)
	if err != 0 {
		t.Fatalf("NewVm: %v", err)
	}
	return as
}

func TestSpawnIsInit(t *testing.T) {
	s := NewSys()
	init := s.Spawn(freshVm(t))
	if s.Init != init {
		t.Fatalf("expected first spawned task to become init")
	}
	if init.Ppid != 0 {
		t.Fatalf("expected init to have no parent")
	}
}

func TestForkDuplicatesAddressSpaceAndFds(t *testing.T) {
	s := NewSys()
	parent := s.Spawn(freshVm(t))
	child, err := s.Fork(parent)
	if err != 0 {
		t.Fatalf("fork: %v", err)
	}
	if child.Ppid != parent.Pid {
		t.Fatalf("expected child's ppid to be parent's pid")
	}
	if child.Vm == parent.Vm {
		t.Fatalf("expected cloned address space, not shared pointer")
	}
	parent.Lock()
	nkids := len(parent.Children)
	parent.Unlock()
	if nkids != 1 {
		t.Fatalf("expected parent to have 1 child, got %d", nkids)
	}
}

func TestForkGivesChildAnIndependentCwdBinding(t *testing.T) {
	s := NewSys()
	parent := s.Spawn(freshVm(t))
	cf := &countingFdops{}
	parent.Cwd = &fd.Cwd_t{Fd: &fd.Fd_t{Fops: cf, Perms: fd.FD_READ}, Path: ustr.MkUstrRoot()}

	child, err := s.Fork(parent)
	if err != 0 {
		t.Fatalf("fork: %v", err)
	}
	if child.Cwd == parent.Cwd {
		t.Fatalf("expected child to get its own *fd.Cwd_t, not share parent's")
	}
	if child.Cwd.Fd == parent.Cwd.Fd {
		t.Fatalf("expected child's cwd fd to be a distinct reopened descriptor")
	}
	if cf.reopens != 1 {
		t.Fatalf("expected forking to reopen the parent's cwd descriptor once, got %d", cf.reopens)
	}

	// A later chdir-style rebind on the child must not touch parent's cwd.
	child.Cwd.Fd = &fd.Fd_t{Fops: &countingFdops{}, Perms: fd.FD_READ}
	if parent.Cwd.Fd.Fops != cf {
		t.Fatalf("expected parent's cwd fd to be unaffected by child's rebind")
	}
}

func TestExitClosesCwdFd(t *testing.T) {
	s := NewSys()
	parent := s.Spawn(freshVm(t))
	cf := &countingFdops{}
	parent.Cwd = &fd.Cwd_t{Fd: &fd.Fd_t{Fops: cf, Perms: fd.FD_READ}, Path: ustr.MkUstrRoot()}

	s.Exit(parent, 0)
	if cf.closes != 1 {
		t.Fatalf("expected Exit to close the task's cwd fd, got %d closes", cf.closes)
	}
}

func TestExitThenWaitpidReaps(t *testing.T) {
	s := NewSys()
	parent := s.Spawn(freshVm(t))
	child, _ := s.Fork(parent)

	s.Exit(child, 42)
	pid, status, err := s.Waitpid(parent, -1, 0)
	if err != 0 {
		t.Fatalf("waitpid: %v", err)
	}
	if pid != child.Pid || status != 42 {
		t.Fatalf("expected (%d, 42), got (%d, %d)", child.Pid, pid, status)
	}
}

func TestWaitpidNohangWithNoZombie(t *testing.T) {
	s := NewSys()
	parent := s.Spawn(freshVm(t))
	s.Fork(parent)

	pid, _, err := s.Waitpid(parent, -1, defs.WNOHANG)
	if err != 0 || pid != 0 {
		t.Fatalf("expected (0, 0, 0) with no zombie yet, got (%d, _, %v)", pid, err)
	}
}

func TestSigkillCannotBeBlocked(t *testing.T) {
	s := NewSys()
	task := s.Spawn(freshVm(t))
	task.SetSigMask(^uint32(0))
	Kill(task, defs.SIGKILL)

	sig, _, ok := task.NextSignal()
	if !ok || sig != defs.SIGKILL {
		t.Fatalf("expected SIGKILL deliverable despite full block mask")
	}
	if !task.Ctx.Doomed() {
		t.Fatalf("expected SIGKILL to doom the task")
	}
}

func TestSigstopActionCannotBeChanged(t *testing.T) {
	s := NewSys()
	task := s.Spawn(freshVm(t))
	if err := task.SetSigAction(defs.SIGSTOP, defs.SIG_IGN); err == 0 {
		t.Fatalf("expected SIGSTOP disposition change to be rejected")
	}
}

func TestNextSignalOrdersLowestFirst(t *testing.T) {
	s := NewSys()
	task := s.Spawn(freshVm(t))
	Kill(task, defs.SIGTERM)
	Kill(task, defs.SIGHUP)

	sig, _, ok := task.NextSignal()
	if !ok || sig != defs.SIGHUP {
		t.Fatalf("expected SIGHUP (lowest) delivered first, got %d", sig)
	}
}

func TestProcStatRoundTrips(t *testing.T) {
	s := NewSys()
	task := s.Spawn(freshVm(t))
	line := task.ProcStat(ustr.MkUstrDot())

	var pid, ppid, pgid, sid int
	var comm string
	var st byte
	rest := make([]int, 38)
	args := []interface{}{&pid, &comm, &st, &ppid, &pgid, &sid}
	for i := range rest {
		args = append(args, &rest[i])
	}
	if _, err := fmt.Sscanf(line, procStatFormat, args...); err != nil {
		t.Fatalf("ProcStat output did not round-trip through its own format: %v", err)
	}
	if pid != int(task.Pid) {
		t.Fatalf("expected pid %d, got %d", task.Pid, pid)
	}
}
