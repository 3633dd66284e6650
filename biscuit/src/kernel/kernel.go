// Package kernel wires every subsystem into one bootable instance:
// frame allocator, in-memory root filesystem, scheduler, timer wheel,
// and the syscall table, mirroring the teacher's own kernel/main.go as
// the place where "main allocates physical memory, then builds the
// root filesystem, then starts the scheduler" happens in one spot.
// Boot-time configuration is a plain struct passed by value
// (mem.Phys_init's constant-parameter style), not a flag/env-parsing
// library — there is no OS underneath this kernel to supply a command
// line.
package kernel

import (
	"fmt"
	"io"
	"os"

	"defs"
	"fd"
	"mem"
	"memfs"
	"proc"
	"sysc"
	"ustr"
	"vm"
)

// Config bounds a booted kernel's resources. PhysFrames is the number
// of simulated physical page frames (mem.Phys_init's nframes);
// Console, if nil, defaults to os.Stdout, matching every retrieved
// biscuit file's plain fmt.Printf-to-stdout logging convention.
type Config struct {
	PhysFrames int
	Console    io.Writer
}

// Kernel_t is one booted instance: the numbered syscall table plus the
// console sink klog writes to.
type Kernel_t struct {
	Sysc    *sysc.Kernel_t
	Console io.Writer
	Devices *DeviceTable_t
}

// Boot brings up a kernel instance: a physical frame allocator, an
// in-memory root filesystem, the syscall table bundling every
// subsystem, and the timer wheel's tick. It spawns and returns the
// first task (init, pid 1) alongside the Kernel_t.
func Boot(cfg Config) (*Kernel_t, *proc.Task_t) {
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	if cfg.PhysFrames <= 0 {
		cfg.PhysFrames = 4096
	}
	alloc := mem.Phys_init(cfg.PhysFrames, 0)
	root := memfs.NewMemfs()
	sk := sysc.NewKernel(root, alloc)
	sk.Timer.Start()

	as, err := vm.NewVm(alloc)
	if err != 0 {
		panic(fmt.Sprintf("kernel: boot address space: %v", err))
	}
	init := sk.Procs.Spawn(as)

	// Give init a real cwd binding on the root directory, so any
	// relative-path syscall has a dentry to resolve against instead of
	// finding Cwd.Fd nil (every forked descendant inherits its own bound
	// copy via proc.forkCwd).
	if _, fops, err := sk.Vfs.Open(sk.Vfs.Root(), ustr.MkUstrRoot(), defs.O_DIRECTORY, 0, 0); err == 0 {
		init.Cwd.Fd = &fd.Fd_t{Fops: fops, Perms: fd.FD_READ}
	}

	k := &Kernel_t{Sysc: sk, Console: cfg.Console}
	k.Devices = newDeviceTable(k)
	return k, init
}

// Shutdown stops the timer wheel's ticking goroutine. Tasks and
// mappings are left as-is; this kernel has no notion of a clean
// power-off sequence beyond halting the clock.
func (k *Kernel_t) Shutdown() {
	k.Sysc.Timer.Stop()
}

// klog writes a formatted line to the kernel's console sink, the
// structured-logging-free fmt.Printf convention every retrieved
// biscuit file uses (no logging library appears anywhere in the pack).
func (k *Kernel_t) klog(format string, args ...interface{}) {
	fmt.Fprintf(k.Console, format, args...)
}
