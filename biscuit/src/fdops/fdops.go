// Package fdops defines the vtable every open file description
// implements (spec.md §4.3's {read, write, ioctl, poll} driver/
// filesystem contract plus lseek/reopen/close) and the buffer interface
// (Userio_i) those methods copy through. It sits below fd, fs, circbuf
// and vm in the import order so all four can depend on it without a
// cycle — vm.Userbuf_t/Useriovec_t/Fakeubuf_t implement Userio_i
// structurally, without vm importing this package.
//
// Grounded on the call sites that survived retrieval: fd/fd.go's
// Fd_t.Fops field and Copyfd/Close_panic (Reopen/Close), memfs/ufs.go's
// fd.Fops.Read/Write/Lseek calls, circbuf/circbuf.go's Copyin/Copyout
// (Userio_i), and memfs/driver.go's console_t stub (Pollmsg_t/Ready_t).
package fdops

import "defs"

/// Userio_i abstracts a source or sink for a read/write: either real
/// user memory (vm.Userbuf_t/Useriovec_t) or a kernel buffer standing in
/// for one (vm.Fakeubuf_t).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Ready_t is a bitmask of poll readiness conditions.
type Ready_t uint8

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
	R_HUP   Ready_t = 1 << 3
)

/// Pollmsg_t describes one poll request against a descriptor: which
/// readiness conditions the caller cares about, and whether it is
/// willing to block (register on a wait queue) waiting for them.
type Pollmsg_t struct {
	Events Ready_t
	Dowait bool
}

/// Fdops_i is the operation vtable every open file description
/// (regular file, pipe, socket, device) implements (spec.md §4.3).
type Fdops_i interface {
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	// Lseek repositions the descriptor; whence is one of
	// defs.SEEK_SET/SEEK_CUR/SEEK_END. Character devices return
	// -defs.ESPIPE.
	Lseek(off, whence int) (int, defs.Err_t)
	Ioctl(cmd int, arg uintptr) (int, defs.Err_t)
	Poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
	// Reopen bumps any reference-counted state shared with the
	// descriptor being duplicated (fd.Copyfd).
	Reopen() defs.Err_t
	Close() defs.Err_t
}
