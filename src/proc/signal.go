package proc

import (
	"defs"
	"vm"
)

/// SignalRegister installs handler as cur's disposition for signum,
/// returning the previous handler.
func SignalRegister(cur *Task_t, signum int, handler uintptr) uintptr {
	prev := cur.Handlers[signum]
	cur.Handlers[signum] = handler
	return prev
}

/// FaultInfo_t is the 8-byte siginfo the trap path fills in for a
/// SIGSEGV delivery: the faulting address and the protection the
/// access violated.
type FaultInfo_t struct {
	Addr uint32
	Prot uint32
}

/// SignalDeliver rewrites cur's trap frame so that, on return to user
/// mode, control lands in the registered handler instead of resuming
/// where the trap occurred. It builds a 32-byte trampoline frame on the
/// user stack (restorer address, signal number, fault address/protection,
/// then the saved edx/ecx/eax/eip), with info supplying the SIGSEGV
/// fault address/protection (ignored for every other signal). Returns
/// -EFAULT if the frame cannot be written to the user stack.
func SignalDeliver(cur *Task_t, signum int, info FaultInfo_t) defs.Err_t {
	tf := cur.TrapFrame
	esp := uintptr(tf.Esp) - 32
	if signum != defs.SIGSEGV {
		info = FaultInfo_t{}
	}

	var frame [32]byte
	put32(frame[0:4], uint32(cur.RestorerAddr))
	put32(frame[4:8], uint32(signum))
	put32(frame[8:12], info.Addr)
	put32(frame[12:16], info.Prot)
	put32(frame[16:20], tf.Edx)
	put32(frame[20:24], tf.Ecx)
	put32(frame[24:28], tf.Eax)
	put32(frame[28:32], tf.Eip)

	if err := cur.AS.CopyOut(esp, frame[:]); err != 0 {
		return err
	}

	tf.Esp = uint32(esp)
	tf.Eip = uint32(cur.Handlers[signum])
	return 0
}

func put32(b []byte, v uint32) {
	b[0] = uint8(v)
	b[1] = uint8(v >> 8)
	b[2] = uint8(v >> 16)
	b[3] = uint8(v >> 24)
}

/// FaultInfoFor builds the FaultInfo_t a SIGSEGV delivery for a write to
/// a CoW-protected or mprotect-denied page carries, from the faulting
/// address and the protection the access required.
func FaultInfoFor(addr uintptr, prot vm.Prot_t) FaultInfo_t {
	return FaultInfo_t{Addr: uint32(addr), Prot: uint32(prot)}
}
