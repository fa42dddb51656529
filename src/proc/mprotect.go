package proc

import (
	"defs"
	"vm"
)

/// Mprotect changes the protection of cur's address space over
/// [addr, addr+length). It is a thin wrapper: the task core's only job
/// is to hand the request to the owning address space.
func Mprotect(cur *Task_t, addr, length uintptr, prot vm.Prot_t) defs.Err_t {
	return cur.AS.Mprotect(addr, length, prot)
}
