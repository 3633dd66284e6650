package pipe

import (
	"testing"

	"defs"
	"fdops"
	"mem"
)

type sliceio_t struct{ b []byte }

func (s *sliceio_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, s.b)
	s.b = s.b[n:]
	return n, 0
}
func (s *sliceio_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	s.b = append(s.b, src...)
	return len(src), 0
}
func (s *sliceio_t) Remain() int  { return len(s.b) }
func (s *sliceio_t) Totalsz() int { return len(s.b) }

func freshAlloc() mem.Page_i { return mem.Phys_init(16, 0) }

func TestWriteThenRead(t *testing.T) {
	p := New(freshAlloc(), nil)
	w := p.WriteEnd(false)
	r := p.ReadEnd(false)

	src := &sliceio_t{b: []byte("hello")}
	n, err := w.Write(src)
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	dst := &sliceio_t{b: make([]byte, 5)}
	n, err = r.Read(dst)
	if err != 0 || n != 5 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
}

func TestEOFOnWriterClose(t *testing.T) {
	p := New(freshAlloc(), nil)
	r := p.ReadEnd(false)
	w := p.WriteEnd(false)
	w.Close()

	dst := &sliceio_t{b: make([]byte, 5)}
	n, err := r.Read(dst)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (0, nil) after writer close, got n=%d err=%v", n, err)
	}
}

func TestEPIPEAfterReaderClose(t *testing.T) {
	sig := false
	p := New(freshAlloc(), func() { sig = true })
	r := p.ReadEnd(false)
	w := p.WriteEnd(false)
	r.Close()

	src := &sliceio_t{b: []byte("x")}
	_, err := w.Write(src)
	if err != -defs.EPIPE {
		t.Fatalf("expected EPIPE, got %v", err)
	}
	if !sig {
		t.Fatalf("expected SIGPIPE hook to fire")
	}
}

func TestPollReflectsState(t *testing.T) {
	p := New(freshAlloc(), nil)
	r := p.ReadEnd(false)
	w := p.WriteEnd(false)

	rdy, _ := r.Poll(fdops.Pollmsg_t{Events: fdops.R_READ})
	if rdy&fdops.R_READ != 0 {
		t.Fatalf("empty pipe should not be readable")
	}

	src := &sliceio_t{b: []byte("x")}
	w.Write(src)

	rdy, _ = r.Poll(fdops.Pollmsg_t{Events: fdops.R_READ})
	if rdy&fdops.R_READ == 0 {
		t.Fatalf("non-empty pipe should be readable")
	}
}
