// This file held the upstream x86-64 direct-map/recursive-mapping setup
// (VREC/VDIRECT page-table slots, runtime.Cpuid/Vtop/Pml4freeze calls to
// install it). None of that is reachable on a 32-bit target: Non-goals
// rules out 64-bit addressing, the 4-level PML4/PDPT/PD/PT scheme is a
// 64-bit construct, and the runtime hooks it leaned on
// (runtime.Cpuid/Vtop/Pml4freeze) don't exist outside the teacher's
// forked Go runtime. What survives is the index arithmetic for a 2-level
// page table — rewritten here for 1024-entry page directories/tables —
// and the "shared kernel half of every address space" idea from
// spec.md §4.1, reworked as KERNBASE plus PdIndex/PtIndex below. Direct
// physical-memory access itself moved to mem.go's Dmap/Dmap8, since in
// this simulation ordinary Go slice indexing already plays the role the
// upstream direct map played on real hardware.
package mem

// KERNBASE is the virtual address at which the shared kernel half of
// every task's address space begins. Per spec.md §4.1 ("the top 256MiB
// of every task's address space is shared kernel memory mapped
// identically in all page directories"), this leaves the bottom 3,840
// MiB of a 32-bit address space for user mappings.
const KERNBASE uint32 = 0xF0000000

// PDXSHIFT/PTXSHIFT and PDXMASK/PTXMASK decompose a 32-bit virtual
// address into its page-directory index, page-table index, and
// in-page offset: va = (pdx << 22) | (ptx << 12) | offset.
const (
	PDXSHIFT = 22
	PTXSHIFT = 12
	PDXMASK  = PTENTRIES - 1
	PTXMASK  = PTENTRIES - 1
)

// PdIndex returns the page-directory index for a virtual address.
func PdIndex(va uint32) uint32 {
	return (va >> PDXSHIFT) & PDXMASK
}

// PtIndex returns the page-table index for a virtual address.
func PtIndex(va uint32) uint32 {
	return (va >> PTXSHIFT) & PTXMASK
}

// KernPDEs is the number of page-directory entries the shared kernel
// half occupies: every PDE from KERNBASE's index to the top of the
// address space.
var KernPDEs = PTENTRIES - int(PdIndex(KERNBASE))
