// Package pipe implements the kernel pipe: a single-page ring buffer
// shared between a read end and a write end (spec.md §4.7). Unlike the
// rest of the kernel's wait-queue-plus-schedule() suspension points,
// blocking here is expressed directly with sync.Cond rather than a
// hand-rolled wait queue: every task in this kernel is already a real
// goroutine (see sched's design notes), so Go's own scheduler is the
// idiomatic stand-in for the suspend/wake primitive spec.md §5 and §4.5
// describe — reimplementing it atop an explicit run queue would just be
// recreating goroutines badly.
//
// Grounded on spec.md §4.7's pipe semantics (rpos/wpos mod PAGE_SIZE,
// full when the gap is PAGE_SIZE-1, EOF on writer-close, SIGPIPE on
// reader-gone) and built on circbuf.Circbuf_t for the backing ring,
// matching how the teacher's pipe (referenced but not retrieved) would
// have sat on top of circbuf.
package pipe

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
	"mem"
)

const pipesz = int(mem.PGSIZE) - 1

/// Pipe_t is the shared ring buffer and wait state between a pipe's two
/// ends. Readers and writers is a live count of open descriptors on each
/// end, used to detect EOF/EPIPE.
type Pipe_t struct {
	sync.Mutex
	cond    sync.Cond
	cb      circbuf.Circbuf_t
	readers int
	writers int
	// onSigpipe is invoked (outside the lock) when a write is attempted
	// with no readers left; proc wires this to raise SIGPIPE in the
	// writing task. Nil is tolerated in tests that don't care about
	// signal delivery.
	onSigpipe func()
}

/// New creates a pipe with both ends open (readers=writers=1, as
/// returned by the pipe(2) syscall) and the given allocator backing the
/// ring's single page.
func New(allocator mem.Page_i, onSigpipe func()) *Pipe_t {
	p := &Pipe_t{readers: 1, writers: 1, onSigpipe: onSigpipe}
	p.cond.L = &p.Mutex
	if err := p.cb.Cb_init(pipesz, allocator); err != 0 {
		panic("pipe: cb_init cannot fail eagerly")
	}
	return p
}

/// ReadEnd returns an fdops.Fdops_i for the pipe's read side. nonblock
/// mirrors O_NONBLOCK: a would-block read/write returns -EAGAIN instead
/// of sleeping.
func (p *Pipe_t) ReadEnd(nonblock bool) fdops.Fdops_i {
	return &pipeReader_t{p: p, nonblock: nonblock}
}

/// WriteEnd returns an fdops.Fdops_i for the pipe's write side.
func (p *Pipe_t) WriteEnd(nonblock bool) fdops.Fdops_i {
	return &pipeWriter_t{p: p, nonblock: nonblock}
}

type pipeReader_t struct {
	p        *Pipe_t
	nonblock bool
}
type pipeWriter_t struct {
	p        *Pipe_t
	nonblock bool
}

func (r *pipeReader_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return r.p.read(dst, r.nonblock)
}
func (r *pipeReader_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (r *pipeReader_t) Lseek(int, int) (int, defs.Err_t)       { return 0, -defs.ESPIPE }
func (r *pipeReader_t) Ioctl(int, uintptr) (int, defs.Err_t)   { return 0, -defs.ENOTTY }
func (r *pipeReader_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return r.p.poll(pm, false)
}
func (r *pipeReader_t) Reopen() defs.Err_t { r.p.addReader(); return 0 }
func (r *pipeReader_t) Close() defs.Err_t  { return r.p.closeReader() }

func (w *pipeWriter_t) Read(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (w *pipeWriter_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return w.p.write(src, w.nonblock)
}
func (w *pipeWriter_t) Lseek(int, int) (int, defs.Err_t)     { return 0, -defs.ESPIPE }
func (w *pipeWriter_t) Ioctl(int, uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
func (w *pipeWriter_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return w.p.poll(pm, true)
}
func (w *pipeWriter_t) Reopen() defs.Err_t { w.p.addWriter(); return 0 }
func (w *pipeWriter_t) Close() defs.Err_t  { return w.p.closeWriter() }

func (p *Pipe_t) addReader() { p.Lock(); p.readers++; p.Unlock() }
func (p *Pipe_t) addWriter() { p.Lock(); p.writers++; p.Unlock() }

func (p *Pipe_t) closeReader() defs.Err_t {
	p.Lock()
	p.readers--
	left := p.readers
	p.Unlock()
	if left == 0 {
		p.cond.Broadcast()
	}
	return 0
}

func (p *Pipe_t) closeWriter() defs.Err_t {
	p.Lock()
	p.writers--
	left := p.writers
	p.Unlock()
	if left == 0 {
		p.cond.Broadcast()
	}
	return 0
}

func (p *Pipe_t) read(dst fdops.Userio_i, nonblock bool) (int, defs.Err_t) {
	p.Lock()
	for p.cb.Empty() && p.writers > 0 {
		if nonblock {
			p.Unlock()
			return 0, -defs.EAGAIN
		}
		p.cond.Wait()
	}
	if p.cb.Empty() && p.writers == 0 {
		p.Unlock()
		return 0, 0
	}
	n, err := p.cb.Copyout(dst)
	p.Unlock()
	if err == 0 {
		p.cond.Broadcast()
	}
	return n, err
}

func (p *Pipe_t) write(src fdops.Userio_i, nonblock bool) (int, defs.Err_t) {
	p.Lock()
	if p.readers == 0 {
		p.Unlock()
		if p.onSigpipe != nil {
			p.onSigpipe()
		}
		return 0, -defs.EPIPE
	}
	for p.cb.Full() && p.readers > 0 {
		if nonblock {
			p.Unlock()
			return 0, -defs.EAGAIN
		}
		p.cond.Wait()
	}
	if p.readers == 0 {
		p.Unlock()
		if p.onSigpipe != nil {
			p.onSigpipe()
		}
		return 0, -defs.EPIPE
	}
	n, err := p.cb.Copyin(src)
	p.Unlock()
	if err == 0 {
		p.cond.Broadcast()
	}
	return n, err
}

func (p *Pipe_t) poll(pm fdops.Pollmsg_t, writer bool) (fdops.Ready_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	var rdy fdops.Ready_t
	if writer {
		if !p.cb.Full() || p.readers == 0 {
			rdy |= fdops.R_WRITE
		}
		if p.readers == 0 {
			rdy |= fdops.R_ERROR
		}
	} else {
		if !p.cb.Empty() || p.writers == 0 {
			rdy |= fdops.R_READ
		}
		if p.writers == 0 {
			rdy |= fdops.R_HUP
		}
	}
	return rdy & pm.Events, 0
}
