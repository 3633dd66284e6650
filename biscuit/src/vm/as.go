// Package vm builds per-task address spaces on top of mem's frame
// allocator: page directories and page tables (2 levels, 1024 entries
// each, per spec.md §4.1), demand-paged anonymous/file-backed regions,
// and the copy-on-write page-fault handler fork relies on.
//
// Grounded on the teacher's vm/as.go (Vm_t, Lock_pmap/Unlock_pmap,
// Userdmap8_inner/Userreadn/Userwriten/Userstr/Usertimespec/K2user/User2k,
// Sys_pgfault's COW-unshare-on-write-fault logic) and vm/userbuf.go
// (Userbuf_t, the Uioread/Uiowrite/Remain/Totalsz method set adopted by
// fdops.Userio_i). The teacher's Vmregion_t/Ptefor machinery never
// survived retrieval, so the region list and page-table walk below are
// rebuilt from scratch against the 2-level 32-bit layout in mem
// (PdIndex/PtIndex/KERNBASE) instead of the teacher's 4-level one; the
// teacher's bounds/res per-call resource-metering hooks (also absent
// from the pack) are dropped rather than reinvented — nothing in
// SPEC_FULL.md names a "per-syscall CPU budget" concern for them to
// serve, and the heap's own bounded growth already caps runaway demand
// paging.
package vm

import (
	"sync"
	"time"

	"defs"
	"mem"
	"ustr"
	"util"
)

type vmtype_t int

const (
	VANON vmtype_t = iota
	VFILE
	VSHAREANON
)

// vmarea_t describes one mapped region of a task's user address space.
// File-backed regions hold a direct reference to their backing bytes
// rather than going through the VFS buffer cache — a deliberate
// simplification versus the teacher's vnode-backed VFILE regions, since
// demand-paging straight from an inode would otherwise require vm to
// import fs, which imports vm's Userio_i consumers; fdops.Userio_i is
// the seam the real page-cache-backed path would use instead.
type vmarea_t struct {
	start  uint32 // page-aligned user virtual address
	npages uint32
	vtype  vmtype_t
	perms  uint32 // PTE_W | PTE_U baseline for freshly faulted-in pages
	backing []byte // VFILE: source bytes, read-only copy-in on fault
	foff    uint32
}

func (vi *vmarea_t) end() uint32 { return vi.start + vi.npages*uint32(mem.PGSIZE) }

// Vm_t represents a process address space. The mutex protects the page
// directory and the region list, matching the teacher's single
// "pmap lock" discipline (Lock_pmap/Unlock_pmap).
type Vm_t struct {
	sync.Mutex

	mem  mem.Page_i
	pdpa mem.Pa_t // physical frame holding the page directory

	regions []*vmarea_t

	pgfltaken bool
}

// NewVm allocates a fresh, empty address space.
func NewVm(allocator mem.Page_i) (*Vm_t, defs.Err_t) {
	_, pa, ok := allocator.Refpg_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &Vm_t{mem: allocator, pdpa: pa}, 0
}

func (as *Vm_t) Pdpa() mem.Pa_t { return as.pdpa }

/// Lock_pmap acquires the address space mutex and marks that page-table
/// manipulation is in progress.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// lookup returns the region containing va, if any. Caller holds the lock.
func (as *Vm_t) lookup(va uint32) (*vmarea_t, bool) {
	for _, r := range as.regions {
		if va >= r.start && va < r.end() {
			return r, true
		}
	}
	return nil, false
}

// walk returns a pointer to the page-table entry for va, creating
// intermediate page tables if create is set. Caller holds the lock.
func (as *Vm_t) walk(va uint32, create bool) (*uint32, bool) {
	pd := as.mem.Dmap(as.pdpa)
	pdx := mem.PdIndex(va)
	pde := &pd[pdx]
	if mem.Pa_t(*pde)&mem.PTE_P == 0 {
		if !create {
			return nil, false
		}
		_, papt, ok := as.mem.Refpg_new()
		if !ok {
			return nil, false
		}
		*pde = uint32(papt) | uint32(mem.PTE_P|mem.PTE_W|mem.PTE_U)
	}
	ptpa := mem.Pa_t(*pde) & mem.PTE_ADDR
	pt := as.mem.Dmap(ptpa)
	ptx := mem.PtIndex(va)
	return &pt[ptx], true
}

// Ptefor returns the page-table entry for va within region vmi,
// allocating page-table frames as needed. Caller holds the lock.
func (as *Vm_t) Ptefor(vmi *vmarea_t, va uint32) (*uint32, bool) {
	return as.walk(va, true)
}

/// Map installs a present mapping from va to the frame pa with the given
/// permission bits (PTE_W/PTE_U). The caller must already hold a
/// reference on pa.
func (as *Vm_t) Map(va uint32, pa mem.Pa_t, perms uint32) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, ok := as.walk(va, true)
	if !ok {
		return -defs.ENOMEM
	}
	*pte = uint32(pa) | perms | uint32(mem.PTE_P)
	return 0
}

/// Unmap removes the mapping at va, returning the physical frame that
/// was mapped there (refcount not touched — caller decides whether to
/// Refdown).
func (as *Vm_t) Unmap(va uint32) (mem.Pa_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.unmapLocked(va)
}

func (as *Vm_t) unmapLocked(va uint32) (mem.Pa_t, defs.Err_t) {
	pte, ok := as.walk(va, false)
	if !ok || mem.Pa_t(*pte)&mem.PTE_P == 0 {
		return 0, -defs.EINVAL
	}
	pa := mem.Pa_t(*pte) & mem.PTE_ADDR
	*pte = 0
	return pa, 0
}

// Vmadd_anon registers an anonymous demand-zero region [start, start+len).
func (as *Vm_t) Vmadd_anon(start, length uint32, perms uint32) defs.Err_t {
	return as.addRegion(&vmarea_t{
		start:  roundDown(start),
		npages: pagesFor(start, length),
		vtype:  VANON,
		perms:  perms,
	})
}

// Vmadd_file registers a file-backed region whose pages are copied in
// from backing on first fault (a read-only demand-paged mapping).
func (as *Vm_t) Vmadd_file(start, length uint32, backing []byte, foff uint32) defs.Err_t {
	return as.addRegion(&vmarea_t{
		start:   roundDown(start),
		npages:  pagesFor(start, length),
		vtype:   VFILE,
		perms:   uint32(mem.PTE_U),
		backing: backing,
		foff:    foff,
	})
}

// Vmadd_shareanon registers a region sharing frames with another
// address space (used by IPC shared memory).
func (as *Vm_t) Vmadd_shareanon(start, length uint32, perms uint32) defs.Err_t {
	return as.addRegion(&vmarea_t{
		start:  roundDown(start),
		npages: pagesFor(start, length),
		vtype:  VSHAREANON,
		perms:  perms,
	})
}

func (as *Vm_t) addRegion(vmi *vmarea_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for _, r := range as.regions {
		if vmi.start < r.end() && r.start < vmi.end() {
			return -defs.EINVAL
		}
	}
	as.regions = append(as.regions, vmi)
	return 0
}

func pagesFor(start, length uint32) uint32 {
	end := start + length
	a := roundDown(start)
	b := roundDown(end + uint32(mem.PGOFFSET))
	return (b - a) / uint32(mem.PGSIZE)
}

func roundDown(va uint32) uint32 {
	return va &^ uint32(mem.PGOFFSET)
}

// Pagefault handles a fault at va. write distinguishes a write fault
// (the ecode's PTE_W bit in the teacher's scheme) from a read fault:
// anon/file regions are demand-paged in on first touch; a write fault on
// a present copy-on-write page unshares it, matching spec.md §4.1's
// "a frame with refcount > 1 is shared... and read-only in any mapping
// until unshared".
func (as *Vm_t) Pagefault(va uint32, write bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.pagefaultLocked(va, write)
}

// unshare gives the faulting task its own private copy of a
// copy-on-write frame, matching the teacher's Sys_pgfault COW path
// (refcount==1 check avoids copying when we are the sole owner).
func (as *Vm_t) unshare(pte *uint32, vmi *vmarea_t) defs.Err_t {
	oldpa := mem.Pa_t(*pte) & mem.PTE_ADDR
	if as.mem.Refcnt(oldpa) == 1 {
		*pte = uint32(oldpa) | vmi.perms | uint32(mem.PTE_P)
		return 0
	}
	_, newpa, ok := as.mem.Refpg_new_nozero()
	if !ok {
		return -defs.ENOMEM
	}
	copy(as.mem.Dmap8(newpa)[:], as.mem.Dmap8(oldpa)[:])
	as.mem.Refdown(oldpa)
	*pte = uint32(newpa) | vmi.perms | uint32(mem.PTE_P)
	return 0
}

// Clone duplicates the address space for fork: every present page in
// every region is marked read-only + copy-on-write in both the parent
// and the child and its refcount bumped, so neither copies data until
// one of them writes (spec.md §4.5 fork: "clone page directory
// (copy-on-write eligible)").
func (as *Vm_t) Clone() (*Vm_t, defs.Err_t) {
	child, err := NewVm(as.mem)
	if err != 0 {
		return nil, err
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, r := range as.regions {
		nr := *r
		child.regions = append(child.regions, &nr)
		if r.vtype == VSHAREANON {
			// shared regions stay shared, not COW.
			for off := uint32(0); off < r.npages*uint32(mem.PGSIZE); off += uint32(mem.PGSIZE) {
				va := r.start + off
				pte, ok := as.walk(va, false)
				if !ok || mem.Pa_t(*pte)&mem.PTE_P == 0 {
					continue
				}
				pa := mem.Pa_t(*pte) & mem.PTE_ADDR
				as.mem.Refup(pa)
				cpte, _ := child.walk(va, true)
				*cpte = *pte
			}
			continue
		}
		for off := uint32(0); off < r.npages*uint32(mem.PGSIZE); off += uint32(mem.PGSIZE) {
			va := r.start + off
			pte, ok := as.walk(va, false)
			if !ok || mem.Pa_t(*pte)&mem.PTE_P == 0 {
				continue
			}
			pa := mem.Pa_t(*pte) & mem.PTE_ADDR
			as.mem.Refup(pa)
			ro := (uint32(pa) &^ uint32(mem.PTE_W)) | uint32(mem.PTE_P|mem.PTE_COW)
			*pte = ro
			cpte, _ := child.walk(va, true)
			*cpte = ro
		}
	}
	return child, 0
}

// Uvmfree tears down the user half of the address space, unmapping and
// dereferencing every present page (spec.md §4.5 exec/exit: "frees user
// memory").
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, r := range as.regions {
		for off := uint32(0); off < r.npages*uint32(mem.PGSIZE); off += uint32(mem.PGSIZE) {
			va := r.start + off
			pa, err := as.unmapLocked(va)
			if err == 0 {
				as.mem.Refdown(pa)
			}
		}
	}
	as.regions = nil
}

// Userdmap8_inner returns a slice mapping the user address at va,
// faulting the page in first if necessary. When forwrite is true the
// fault (if any) is treated as a write fault, unsharing COW pages.
func (as *Vm_t) Userdmap8_inner(va int, forwrite bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	uva := uint32(va)
	voff := uva & uint32(mem.PGOFFSET)
	pagebase := uva &^ uint32(mem.PGOFFSET)

	pte, ok := as.walk(pagebase, true)
	needfault := true
	if ok {
		present := mem.Pa_t(*pte)&mem.PTE_P != 0
		cow := mem.Pa_t(*pte)&mem.PTE_COW != 0
		if present && (!forwrite || !cow) {
			needfault = false
		}
	}
	if needfault {
		if err := as.pagefaultLocked(uva, forwrite); err != 0 {
			return nil, err
		}
		pte, ok = as.walk(pagebase, false)
		if !ok {
			return nil, -defs.EFAULT
		}
	}
	pa := mem.Pa_t(*pte) & mem.PTE_ADDR
	bpg := as.mem.Dmap8(pa)
	return bpg[voff:], 0
}

// pagefaultLocked is Pagefault's body, for callers that already hold
// Lock_pmap (avoids recursive locking from Userdmap8_inner).
func (as *Vm_t) pagefaultLocked(va uint32, write bool) defs.Err_t {
	vmi, ok := as.lookup(va)
	if !ok {
		return -defs.EFAULT
	}
	pagebase := va &^ uint32(mem.PGOFFSET)
	pte, ok := as.walk(pagebase, true)
	if !ok {
		return -defs.ENOMEM
	}
	present := mem.Pa_t(*pte)&mem.PTE_P != 0
	cow := mem.Pa_t(*pte)&mem.PTE_COW != 0
	if present && write && cow {
		return as.unshare(pte, vmi)
	}
	if present {
		return 0
	}
	switch vmi.vtype {
	case VANON, VSHAREANON:
		_, pa, allocok := as.mem.Refpg_new()
		if !allocok {
			return -defs.ENOMEM
		}
		*pte = uint32(pa) | vmi.perms | uint32(mem.PTE_P)
		return 0
	case VFILE:
		_, pa, allocok := as.mem.Refpg_new()
		if !allocok {
			return -defs.ENOMEM
		}
		bpg := as.mem.Dmap8(pa)
		off := pagebase - vmi.start + vmi.foff
		if int(off) < len(vmi.backing) {
			copy(bpg[:], vmi.backing[off:])
		}
		*pte = uint32(pa) | uint32(mem.PTE_P) | uint32(mem.PTE_U)
		return 0
	}
	return -defs.EFAULT
}

func (as *Vm_t) _userdmap8(va int, forwrite bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, forwrite)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

/// Userreadn reads n (<=8) bytes from user address va as a little-endian
/// integer.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	for i := 0; i < n; {
		src, err := as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
		i += l
	}
	return ret, 0
}

/// Userwriten writes the low n (<=8) bytes of val to user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for i := 0; i < n; {
		v := val >> (8 * uint(i))
		dst, err := as.Userdmap8_inner(va+i, true)
		if err != 0 {
			return err
		}
		l := n - i
		if len(dst) < l {
			l = len(dst)
		}
		util.Writen(dst, l, 0, v)
		i += l
	}
	return 0
}

/// Userstr copies a NUL-terminated string from user memory, up to
/// lenmax bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			return nil, err
		}
		for j, c := range str {
			if c == 0 {
				return append(s, str[:j]...), 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}

/// Usertimespec reads a {secs, nsecs} pair from user memory at va.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	return tot, time.Unix(int64(secs), int64(nsecs)), 0
}

/// K2user copies src into user memory starting at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(src) {
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}

/// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(dst) {
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}
