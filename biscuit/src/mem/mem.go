// Package mem implements the physical frame allocator: a bitmap-style
// allocator over a contiguous range of simulated physical RAM, handing
// out refcounted 4 KiB frames. This is the teacher's mem.Physmem_t
// (upstream mem/mem.go) re-derived for a 32-bit single-CPU target: the
// upstream version backs an x86-64 direct map built from 512-entry page
// tables with per-CPU free lists (runtime.MAXCPUS); neither applies here
// (Non-goals: no SMP, no 64-bit addressing), so the per-CPU split is gone
// and physical memory is a plain []byte arena rather than a hardware
// direct-map region — in vanilla Go the arena's own slice indexing
// already gives Dmap-style direct access, so no recursive page-table
// trick (the upstream VREC/VDIRECT scheme) is needed to get it.
package mem

import (
	"fmt"
	"sync"
	"unsafe"

	"oommsg"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// Page directory / page table entry flags, matching the 32-bit x86 PDE
// and PTE bit layout (spec.md §4.1: 1024-entry page directories and
// tables).
const (
	PTE_P  Pa_t = 1 << 0
	PTE_W  Pa_t = 1 << 1
	PTE_U  Pa_t = 1 << 2
	PTE_PS Pa_t = 1 << 7 // 4MB large page in the PD (unused, kept for fidelity)
	// PTE_COW is a software-only bit (one of the OS-available bits in a
	// real x86 PTE) this kernel uses to mark a read-only page that is
	// actually copy-on-write rather than genuinely read-only.
	PTE_COW  Pa_t = 1 << 9
	PTE_ADDR Pa_t = PGMASK
)

/// PTENTRIES is the entry count of one level of a 32-bit page table.
const PTENTRIES = 1024

/// Pa_t represents a physical address: an offset into the simulated RAM
/// arena, not a host pointer.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t views a page as 1024 32-bit words: the shape of a page directory
/// or page table on a 32-bit x86 target.
type Pg_t [PTENTRIES]uint32

/// Page_i abstracts physical page allocation, as used by vm and fs to
/// avoid a direct dependency on Physmem_t's concrete type.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Dmap8(Pa_t) *Bytepg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of words to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg >> PGSHIFT)
}

/// Physpg_t is the per-frame bookkeeping record. Refcnt > 1 marks a
/// frame shared (copy-on-write eligible); refcnt == 0 marks it free.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32
}

/// Physmem_t manages all simulated physical memory for the system: a
/// single free list (no per-CPU split — this is a single-CPU kernel) plus
/// the byte arena standing in for RAM.
type Physmem_t struct {
	sync.Mutex
	arena   []byte
	Pgs     []Physpg_t
	startn  uint32
	freei   uint32
	freelen int32
}

// / Refaddr returns the refcount pointer and index for the given frame.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := pg2pgn(p_pg) - phys.startn
	return &phys.Pgs[idx].Refcnt, idx
}

/// Refcnt returns the current reference count of a frame.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	phys.Lock()
	defer phys.Unlock()
	return int(*ref)
}

/// Refup increments the reference count of a frame.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	ref, _ := phys.Refaddr(p_pg)
	*ref++
	if *ref <= 0 {
		panic("refup of free frame")
	}
}

// returns true if p_pg should be freed, and its index in Pgs.
func (phys *Physmem_t) _refdec(p_pg Pa_t) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	*ref--
	if *ref < 0 {
		panic("refdown of free frame")
	}
	return *ref == 0, idx
}

/// Refdown decrements the reference count of a frame. Returns true when
/// the frame was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	phys.Lock()
	defer phys.Unlock()
	add, idx := phys._refdec(p_pg)
	if add {
		phys.Pgs[idx].nexti = phys.freei
		phys.freei = idx
		phys.freelen++
	}
	return add
}

/// Zeropg is a zero-filled page used to seed freshly allocated frames.
var Zeropg Pg_t

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()
	ff := phys.freei
	if ff == ^uint32(0) {
		phys._notifyOOM()
		return nil, 0, false
	}
	phys.freei = phys.Pgs[ff].nexti
	phys.freelen--
	if phys.Pgs[ff].Refcnt != 0 {
		panic("free frame has nonzero refcount")
	}
	phys.Pgs[ff].Refcnt = 1
	p_pg := Pa_t(ff+phys.startn) << PGSHIFT
	return phys.dmapLocked(p_pg), p_pg, true
}

// notifyOOM sends a non-blocking out-of-memory notification (SPEC_FULL.md
// §C); called with phys's lock held, matching the short-critical-section
// discipline of spec.md §5.
func (phys *Physmem_t) _notifyOOM() {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: PGSIZE}:
	default:
	}
}

/// Refpg_new allocates a zeroed frame and returns its mapping and
/// address. Its refcount is 1.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates a frame without zeroing it, for callers
/// about to overwrite the entire frame anyway.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

func (phys *Physmem_t) dmapLocked(p Pa_t) *Pg_t {
	n := pg2pgn(p) - phys.startn
	b := phys.arena[uint64(n)*uint64(PGSIZE) : uint64(n+1)*uint64(PGSIZE)]
	return (*Pg_t)(unsafe.Pointer(&b[0]))
}

/// Dmap provides direct access to the frame at physical address p, as a
/// page table/directory. Because simulated physical memory is ordinary
/// Go memory, this *is* the direct map: no address-space trick is
/// required to reach it, unlike on real x86-64 hardware.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	return phys.dmapLocked(p)
}

/// Dmap8 provides direct access to the frame at physical address p, as
/// raw bytes.
func (phys *Physmem_t) Dmap8(p Pa_t) *Bytepg_t {
	return Pg2bytes(phys.Dmap(p))
}

/// Pgcount reports the number of frames currently in use.
func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return len(phys.Pgs) - int(phys.freelen)
}

/// Physmem is the global physical memory allocator instance, populated
/// by Phys_init.
var Physmem = &Physmem_t{}

/// Phys_init reserves nframes frames of simulated physical memory
/// starting at frame number startn and threads them onto the free list.
/// startn lets a caller reserve low frame numbers (e.g. for a kernel
/// image) without this allocator ever handing them out.
func Phys_init(nframes int, startn uint32) *Physmem_t {
	phys := Physmem
	phys.arena = make([]byte, uint64(nframes)*uint64(PGSIZE))
	phys.Pgs = make([]Physpg_t, nframes)
	phys.startn = startn
	phys.freei = 0
	phys.freelen = int32(nframes)
	for i := range phys.Pgs {
		if i == nframes-1 {
			phys.Pgs[i].nexti = ^uint32(0)
		} else {
			phys.Pgs[i].nexti = uint32(i + 1)
		}
	}
	fmt.Printf("mem: reserved %v frames (%vMB)\n", nframes, (nframes*PGSIZE)>>20)
	return phys
}
