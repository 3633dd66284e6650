// Character devices: minimal pseudo-devices in the teacher's sense of
// "a Fdops_i implementation backed by something other than a file's
// bytes" (memfs/driver.go's console_t stub played the same role before
// it was replaced, see DESIGN.md). Major/minor numbering follows
// defs.go's device constants (spec.md §6: "character majors 4/5 denote
// TTYs and the system console").
package kernel

import (
	"bytes"
	"runtime/pprof"
	"strconv"

	"github.com/google/pprof/profile"

	"defs"
	"fdops"
	"proc"
	"ustr"
)

// DeviceTable_t resolves a (major, minor) device number to the Fdops_i
// a task's open(2) on a device-special file would install, per
// spec.md's "every block/character device exposes {read, write, ioctl,
// poll} over (device minor, buffer, length, offset)".
type DeviceTable_t struct {
	k *Kernel_t
}

func newDeviceTable(k *Kernel_t) *DeviceTable_t {
	return &DeviceTable_t{k: k}
}

// Open resolves dev to a fresh Fdops_i. D_STAT and D_PROF snapshot
// their content at open time, matching /proc's usual semantics: a
// concurrent change after open is not reflected in that open file's
// bytes.
func (dt *DeviceTable_t) Open(dev uint32) (fdops.Fdops_i, defs.Err_t) {
	maj, min := defs.Unmkdev(dev)
	switch maj {
	case defs.MAJ_CONSOLE:
		switch min {
		case defs.D_CONSOLE:
			return &consoleFdops_t{k: dt.k}, 0
		}
	case defs.MAJ_MEM:
		switch min {
		case defs.D_DEVNULL:
			return &nullFdops_t{}, 0
		case defs.D_STAT:
			return newStatFdops(dt.k), 0
		case defs.D_PROF:
			return newProfFdops(), 0
		}
	}
	return nil, -defs.ENXIO
}

// consoleFdops_t is the system console: writes go to the kernel's
// console sink; reads return EOF, since this simulation has no
// keyboard/serial input source to drive (spec.md's Out-of-scope list
// names concrete device drivers; the console sink itself is ambient
// kernel logging, not a driver).
type consoleFdops_t struct {
	k *Kernel_t
}

func (c *consoleFdops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (c *consoleFdops_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	c.k.klog("%s", string(buf[:n]))
	return n, 0
}
func (c *consoleFdops_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (c *consoleFdops_t) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
func (c *consoleFdops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_WRITE, 0
}
func (c *consoleFdops_t) Reopen() defs.Err_t { return 0 }
func (c *consoleFdops_t) Close() defs.Err_t  { return 0 }

// nullFdops_t is /dev/null: writes are discarded, reads return EOF.
type nullFdops_t struct{}

func (n *nullFdops_t) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (n *nullFdops_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return src.Totalsz(), 0 }
func (n *nullFdops_t) Lseek(off, whence int) (int, defs.Err_t)    { return 0, -defs.ESPIPE }
func (n *nullFdops_t) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
func (n *nullFdops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ | fdops.R_WRITE, 0
}
func (n *nullFdops_t) Reopen() defs.Err_t { return 0 }
func (n *nullFdops_t) Close() defs.Err_t  { return 0 }

// statFdops_t backs the D_STAT device: a process-table dump, one
// ProcStat line per live task reachable from init, snapshotted at open
// time. Grounded on proc.Task_t.ProcStat's /proc/pid/stat-format line
// and the parent/Children tree proc.Sys_t already maintains.
type statFdops_t struct {
	data []byte
	pos  int
}

func newStatFdops(k *Kernel_t) *statFdops_t {
	var b bytes.Buffer
	if k.Sysc.Procs.Init != nil {
		dumpTaskTree(&b, k.Sysc.Procs.Init)
	}
	return &statFdops_t{data: b.Bytes()}
}

func dumpTaskTree(b *bytes.Buffer, t *proc.Task_t) {
	b.WriteString(t.ProcStat(taskComm(t)))
	b.WriteByte('\n')
	t.Lock()
	kids := append([]*proc.Task_t(nil), t.Children...)
	t.Unlock()
	for _, c := range kids {
		dumpTaskTree(b, c)
	}
}

func taskComm(t *proc.Task_t) ustr.Ustr {
	return ustr.Ustr("(task" + strconv.Itoa(int(t.Pid)) + ")")
}

func (f *statFdops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if f.pos >= len(f.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.data[f.pos:])
	f.pos += n
	return n, err
}
func (f *statFdops_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (f *statFdops_t) Lseek(off, whence int) (int, defs.Err_t) {
	var newpos int
	switch whence {
	case defs.SEEK_SET:
		newpos = off
	case defs.SEEK_CUR:
		newpos = f.pos + off
	case defs.SEEK_END:
		newpos = len(f.data) + off
	default:
		return 0, -defs.EINVAL
	}
	if newpos < 0 {
		return 0, -defs.EINVAL
	}
	f.pos = newpos
	return newpos, 0
}
func (f *statFdops_t) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
func (f *statFdops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ, 0
}
func (f *statFdops_t) Reopen() defs.Err_t { return 0 }
func (f *statFdops_t) Close() defs.Err_t  { return 0 }

// profFdops_t backs the D_PROF device: reading it returns a
// human-readable dump of the kernel process's own heap profile,
// captured at open time into an in-memory buffer. Grounded directly on
// justanotherdot-biscuit/biscuit/src/kernel/main.go's commented-out
// "bp := &bprof_t{}; pprof.WriteHeapProfile(bp)" path and its
// accumulating []byte io.Writer shim (bprof_t), here wired live instead
// of left commented out. runtime/pprof is the acquisition call (there
// is no acquisition API in google/pprof/profile, which models an
// already-parsed profile for post-processing); profile.Parse turns the
// acquired gzip'd proto back into that model so profFdops_t can render
// a text summary instead of forcing a reader to pipe raw bytes through
// an external pprof tool.
type profFdops_t struct {
	data []byte
	pos  int
}

func newProfFdops() *profFdops_t {
	var b bytes.Buffer
	// WriteHeapProfile's only failure mode is a write error from the
	// sink; bytes.Buffer never returns one.
	_ = pprof.WriteHeapProfile(&b)
	prof, err := profile.Parse(bytes.NewReader(b.Bytes()))
	if err != nil {
		return &profFdops_t{data: b.Bytes()}
	}
	return &profFdops_t{data: []byte(prof.String())}
}

func (f *profFdops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if f.pos >= len(f.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.data[f.pos:])
	f.pos += n
	return n, err
}
func (f *profFdops_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (f *profFdops_t) Lseek(off, whence int) (int, defs.Err_t)    { return 0, -defs.ESPIPE }
func (f *profFdops_t) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	return 0, -defs.ENOTTY
}
func (f *profFdops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ, 0
}
func (f *profFdops_t) Reopen() defs.Err_t { return 0 }
func (f *profFdops_t) Close() defs.Err_t  { return 0 }
