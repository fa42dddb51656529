package proc

import "defs"

/// CowOn resolves a write-protection fault for cur at the given faulting
/// address: if the address is at or above the kernel
/// base, the caller must kill the offender; otherwise it delegates to
/// the address space's fault handler, which privately copies the
/// offending frame, drops the original's share count, and remaps it
/// writable.
func CowOn(cur *Task_t, faultAddr uintptr, kernbase uintptr) defs.Err_t {
	if faultAddr >= kernbase {
		return -defs.EFAULT
	}
	return cur.AS.CowFault(faultAddr)
}
