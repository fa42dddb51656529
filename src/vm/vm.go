// Package vm implements the address-space half of the task core: per-page
// protection, growth, copy-on-write duplication and the fault handler that
// resolves a write to a COW page. This is a much-simplified descendant of
// the original multi-level x86 page table walker (Vm_t in the source
// tree's as.go, Pmap_t/pmap_walk): a real implementation indexes a
// hardware page table that the CPU itself walks, but the task/thread core
// in this module only needs the mapping semantics -- not the table format
// -- so AddressSpace_t keeps the same va -> (frame, permission) contract
// behind a plain map instead of a walked Pmap_t.
package vm

import (
	"sync"

	"golang.org/x/sys/unix"

	"defs"
	"mem"
	"util"
)

/// Prot_t mirrors the PROT_* bits passed to mprotect.
/// Using golang.org/x/sys/unix's constants keeps the numeric values
/// identical to the real mprotect(2) ABI even though this core never
/// issues the real syscall.
type Prot_t uint32

const (
	PROT_NONE  Prot_t = unix.PROT_NONE
	PROT_READ  Prot_t = unix.PROT_READ
	PROT_WRITE Prot_t = unix.PROT_WRITE
	PROT_EXEC  Prot_t = unix.PROT_EXEC
)

/// pte_t is one page table entry: the backing physical frame and the
/// permission/state bits from mem's PTE_* constants.
type pte_t struct {
	pa    mem.Pa_t
	perms mem.Pa_t
}

func (p *pte_t) present() bool { return p.perms&mem.PTE_P != 0 }
func (p *pte_t) cow() bool     { return p.perms&mem.PTE_COW != 0 }
func (p *pte_t) writable() bool {
	return p.perms&mem.PTE_W != 0
}

/// AddressSpace_t is one task's (or, after clone(), one thread group's)
/// user address space: the set of mapped pages and their permissions. The
/// mutex protects the entire map, mirroring the source's single Vm_t
/// mutex guarding Pmap/Vmregion together.
type AddressSpace_t struct {
	sync.Mutex
	Pages mem.Page_i
	ptes  map[uintptr]*pte_t
}

/// NewAddressSpace returns an empty address space backed by pager.
func NewAddressSpace(pager mem.Page_i) *AddressSpace_t {
	return &AddressSpace_t{
		Pages: pager,
		ptes:  make(map[uintptr]*pte_t),
	}
}

func pgalign(va uintptr) uintptr {
	return uintptr(util.Rounddown(int(va), mem.PGSIZE))
}

/// lookup returns the PTE mapping the page containing va, if any.
func (as *AddressSpace_t) lookup(va uintptr) (*pte_t, bool) {
	pte, ok := as.ptes[pgalign(va)]
	return pte, ok
}

/// MapPage installs pa at the page containing va with the given
/// mem.PTE_* permission bits, replacing and freeing whatever was mapped
/// there before.
func (as *AddressSpace_t) MapPage(va uintptr, pa mem.Pa_t, perms mem.Pa_t) {
	as.Lock()
	defer as.Unlock()
	as.mapPage(va, pa, perms)
}

func (as *AddressSpace_t) mapPage(va uintptr, pa mem.Pa_t, perms mem.Pa_t) {
	key := pgalign(va)
	if old, ok := as.ptes[key]; ok && old.present() {
		as.Pages.Refdown(old.pa)
	}
	as.ptes[key] = &pte_t{pa: pa, perms: perms | mem.PTE_P}
}

/// AllocPage maps a freshly allocated, zeroed page at va with perms and
/// returns its physical address. Grow and InitUVM allocate their pages
/// directly rather than through AllocPage.
func (as *AddressSpace_t) AllocPage(va uintptr, perms mem.Pa_t) (mem.Pa_t, defs.Err_t) {
	as.Lock()
	defer as.Unlock()
	pg, pa, ok := as.Pages.Refpg_new()
	if !ok {
		return 0, -defs.ENOMEM
	}
	_ = pg
	as.mapPage(va, pa, perms)
	return pa, 0
}

/// InitUVM maps image into freshly allocated pages starting at virtual
/// address 0, used to build the very first task's address space, mirroring inituvm's job of copying the embedded init binary in.
func (as *AddressSpace_t) InitUVM(image []byte) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	n := util.Roundup(len(image), mem.PGSIZE)
	off := 0
	for off < n {
		pg, pa, ok := as.Pages.Refpg_new()
		if !ok {
			return -defs.ENOMEM
		}
		bpg := mem.Pg2bytes(pg)
		rem := len(image) - off
		if rem > 0 {
			if rem > mem.PGSIZE {
				rem = mem.PGSIZE
			}
			copy(bpg[:], image[off:off+rem])
		}
		as.mapPage(uintptr(off), pa, mem.PTE_P|mem.PTE_U|mem.PTE_W)
		off += mem.PGSIZE
	}
	return 0
}

/// Grow extends the mapped range from oldsz to newsz (rounded up to a
/// page boundary) with freshly allocated, zero-filled pages). It returns the new size or an error; on error, pages
/// already allocated during this call remain mapped, matching the
/// documented no-rollback behavior of the sibling mprotect operation.
func (as *AddressSpace_t) Grow(oldsz, newsz uintptr) (uintptr, defs.Err_t) {
	if newsz < oldsz {
		return 0, -defs.EINVAL
	}
	as.Lock()
	defer as.Unlock()
	start := pgalign(oldsz)
	if oldsz%uintptr(mem.PGSIZE) != 0 {
		start += uintptr(mem.PGSIZE)
	}
	for va := start; va < newsz; va += uintptr(mem.PGSIZE) {
		pg, pa, ok := as.Pages.Refpg_new()
		if !ok {
			return 0, -defs.ENOMEM
		}
		_ = pg
		as.mapPage(va, pa, mem.PTE_P|mem.PTE_U|mem.PTE_W)
	}
	return newsz, 0
}

/// Dealloc frees the pages mapping [newsz, oldsz), the inverse of Grow.
func (as *AddressSpace_t) Dealloc(oldsz, newsz uintptr) uintptr {
	as.Lock()
	defer as.Unlock()
	for va := uintptr(util.Roundup(int(newsz), mem.PGSIZE)); va < oldsz; va += uintptr(mem.PGSIZE) {
		key := pgalign(va)
		if pte, ok := as.ptes[key]; ok {
			as.Pages.Refdown(pte.pa)
			delete(as.ptes, key)
		}
	}
	return newsz
}

/// CowCopy produces a new address space sharing every currently mapped
/// physical page with as, with both copies' writable pages downgraded to
/// read-only-plus-PTE_COW. A first write to any
/// such page by either task takes a fault that CowFault resolves.
func (as *AddressSpace_t) CowCopy() *AddressSpace_t {
	as.Lock()
	defer as.Unlock()
	child := NewAddressSpace(as.Pages)
	for va, pte := range as.ptes {
		perms := pte.perms
		if perms&mem.PTE_W != 0 {
			perms = perms&^mem.PTE_W | mem.PTE_COW
			pte.perms = perms
		}
		as.Pages.Refup(pte.pa)
		child.ptes[va] = &pte_t{pa: pte.pa, perms: perms}
	}
	return child
}

/// Copy produces a new address space with every currently mapped page
/// deep-copied into a freshly allocated frame, used by the plain (non
/// copy-on-write) fork.
func (as *AddressSpace_t) Copy() *AddressSpace_t {
	as.Lock()
	defer as.Unlock()
	child := NewAddressSpace(as.Pages)
	for va, pte := range as.ptes {
		if !pte.present() {
			continue
		}
		pg, npa, ok := as.Pages.Refpg_new_nozero()
		if !ok {
			child.Destroy()
			return nil
		}
		*pg = *as.Pages.Dmap(pte.pa)
		child.ptes[va] = &pte_t{pa: npa, perms: pte.perms}
	}
	return child
}

/// CowFault resolves a write fault at va against a COW page: if the underlying frame is no longer shared, the fault
/// simply reclaims sole ownership and marks it writable again; otherwise
/// a private copy is made and the shared frame's reference count is
/// dropped.
func (as *AddressSpace_t) CowFault(va uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	pte, ok := as.lookup(va)
	if !ok || !pte.present() {
		return -defs.EFAULT
	}
	if !pte.cow() {
		if pte.writable() {
			return 0
		}
		return -defs.EFAULT
	}
	if as.Pages.Refcnt(pte.pa) == 1 {
		pte.perms = pte.perms&^mem.PTE_COW | mem.PTE_W
		return 0
	}
	pg, npa, ok := as.Pages.Refpg_new_nozero()
	if !ok {
		return -defs.ENOMEM
	}
	*pg = *as.Pages.Dmap(pte.pa)
	oldpa := pte.pa
	pte.pa = npa
	pte.perms = pte.perms&^mem.PTE_COW | mem.PTE_W
	as.Pages.Refdown(oldpa)
	return 0
}

/// ApplyProt changes the protection of the single page containing va to
/// prot, used by Mprotect. Only PROT_WRITE is distinguished: the page
/// always stays present and user-readable, so PROT_NONE does not revoke
/// read access, and PROT_EXEC is not recorded.
func (as *AddressSpace_t) ApplyProt(va uintptr, prot Prot_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	pte, ok := as.lookup(va)
	if !ok || !pte.present() {
		return -defs.EFAULT
	}
	perms := mem.PTE_P | mem.PTE_U
	if prot&PROT_WRITE != 0 {
		perms |= mem.PTE_W
	}
	pte.perms = perms
	return 0
}

/// GetProt reports the current protection of the page containing va.
func (as *AddressSpace_t) GetProt(va uintptr) (Prot_t, bool) {
	as.Lock()
	defer as.Unlock()
	pte, ok := as.lookup(va)
	if !ok || !pte.present() {
		return PROT_NONE, false
	}
	p := PROT_READ
	if pte.perms&mem.PTE_W != 0 {
		p |= PROT_WRITE
	}
	return p, true
}

/// Mprotect applies prot to every page in [addr, addr+len). addr must be page-aligned; len == 0 is a no-op; a failure
/// partway through the range leaves already-changed pages changed,
/// matching the documented no-rollback behavior.
func (as *AddressSpace_t) Mprotect(addr uintptr, length uintptr, prot Prot_t) defs.Err_t {
	if addr%uintptr(mem.PGSIZE) != 0 {
		return -defs.EINVAL
	}
	if length == 0 {
		return 0
	}
	for va := addr; va < addr+length; va += uintptr(mem.PGSIZE) {
		if err := as.ApplyProt(va, prot); err != 0 {
			return err
		}
	}
	return 0
}

/// CopyOut copies src into the address space starting at uva, used to
/// build clone() stack frames and signal trampoline frames.
func (as *AddressSpace_t) CopyOut(uva uintptr, src []byte) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < len(src) {
		va := uva + uintptr(off)
		pte, ok := as.lookup(va)
		if !ok || !pte.present() {
			return -defs.EFAULT
		}
		bpg := mem.Pg2bytes(as.Pages.Dmap(pte.pa))
		pgoff := int(va) & (mem.PGSIZE - 1)
		n := copy(bpg[pgoff:], src[off:])
		off += n
	}
	return 0
}

/// CopyIn reads len(dst) bytes out of the address space starting at uva.
func (as *AddressSpace_t) CopyIn(dst []byte, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < len(dst) {
		va := uva + uintptr(off)
		pte, ok := as.lookup(va)
		if !ok || !pte.present() {
			return -defs.EFAULT
		}
		bpg := mem.Pg2bytes(as.Pages.Dmap(pte.pa))
		pgoff := int(va) & (mem.PGSIZE - 1)
		n := copy(dst[off:], bpg[pgoff:])
		off += n
	}
	return 0
}

/// Destroy releases every page this address space still maps, called
/// when a task exits.
func (as *AddressSpace_t) Destroy() {
	as.Lock()
	defer as.Unlock()
	for va, pte := range as.ptes {
		as.Pages.Refdown(pte.pa)
		delete(as.ptes, va)
	}
}

/// Npages returns the number of pages currently mapped.
func (as *AddressSpace_t) Npages() int {
	as.Lock()
	defer as.Unlock()
	return len(as.ptes)
}
