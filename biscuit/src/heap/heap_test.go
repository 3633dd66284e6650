package heap

import (
	"testing"

	"mem"
)

func freshPhys(t *testing.T, nframes int) *mem.Physmem_t {
	t.Helper()
	return mem.Phys_init(nframes, 0)
}

func TestAllocFreeReuse(t *testing.T) {
	phys := freshPhys(t, 64)
	h := NewSized(phys, 0x1000, uint32(mem.PGSIZE), uint32(mem.PGSIZE)*8)

	a, err := h.Alloc(32)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	h.Free(a)

	b, err := h.Alloc(32)
	if err != 0 {
		t.Fatalf("alloc after free: %v", err)
	}
	if a != b {
		t.Fatalf("expected freed block to be reused: got %#x, want %#x", b, a)
	}
}

func TestAllocSplitsLargeBlock(t *testing.T) {
	phys := freshPhys(t, 64)
	h := NewSized(phys, 0x1000, uint32(mem.PGSIZE), uint32(mem.PGSIZE)*8)

	a, err := h.Alloc(16)
	if err != 0 {
		t.Fatalf("alloc a: %v", err)
	}
	b, err := h.Alloc(16)
	if err != 0 {
		t.Fatalf("alloc b: %v", err)
	}
	if a == b {
		t.Fatalf("two live allocations got the same address")
	}
	if b < a {
		t.Fatalf("expected first-fit to hand out addresses in ascending order")
	}
}

func TestCoalesceOnFree(t *testing.T) {
	phys := freshPhys(t, 64)
	h := NewSized(phys, 0x1000, uint32(mem.PGSIZE), uint32(mem.PGSIZE)*8)

	a, _ := h.Alloc(16)
	b, _ := h.Alloc(16)
	c, _ := h.Alloc(16)

	h.Free(a)
	h.Free(c)
	h.Free(b)

	// after freeing everything the whole region should be one free block
	// again, so a large allocation should succeed without growing.
	sz := h.Size()
	big, err := h.Alloc(int(sz) - int(hdrsz))
	if err != 0 {
		t.Fatalf("alloc after full coalesce: %v", err)
	}
	if h.Size() != sz {
		t.Fatalf("heap grew even though coalesced space should have sufficed")
	}
	h.Free(big)
}

func TestGrowBeyondMaxFails(t *testing.T) {
	phys := freshPhys(t, 64)
	h := NewSized(phys, 0x1000, uint32(mem.PGSIZE), uint32(mem.PGSIZE)*2)

	_, err := h.Alloc(int(mem.PGSIZE) * 100)
	if err == 0 {
		t.Fatalf("expected allocation past maxsize to fail")
	}
}

func TestAllocAlignedIsPageAligned(t *testing.T) {
	phys := freshPhys(t, 64)
	h := NewSized(phys, 0x1000, uint32(mem.PGSIZE), uint32(mem.PGSIZE)*8)

	// force some slack ahead of the aligned allocation first.
	_, err := h.Alloc(16)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}

	a, err := h.AllocAligned(64)
	if err != 0 {
		t.Fatalf("alloc aligned: %v", err)
	}
	if a%uintptr(mem.PGSIZE) != 0 {
		t.Fatalf("AllocAligned returned unaligned address %#x", a)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	phys := freshPhys(t, 64)
	h := NewSized(phys, 0x1000, uint32(mem.PGSIZE), uint32(mem.PGSIZE)*8)
	a, _ := h.Alloc(16)
	h.Free(a)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected double free to panic")
		}
	}()
	h.Free(a)
}
