package proc

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

/// DisasmFault decodes the single 32-bit instruction at code (the bytes
/// copied out of cur's text page starting at its faulting Eip) and
/// renders it in GNU (AT&T-style) assembler syntax for inclusion in a
/// SIGSEGV/mprotect-denial diagnostic. Returns the raw instruction and a best-effort
/// string; a malformed or unrecognized encoding yields the decode error
/// text instead of panicking, since a diagnostic path must never itself
/// crash the dump it is trying to produce.
func DisasmFault(cur *Task_t, code []byte) (x86asm.Inst, string) {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return x86asm.Inst{}, fmt.Sprintf("<undecodable: %v>", err)
	}
	return inst, x86asm.GNUSyntax(inst, uint64(cur.TrapFrame.Eip), nil)
}

/// FaultReport renders a one-line summary of a fault for procdump-style
/// diagnostics: the task, the faulting address, and the decoded
/// instruction that caused it.
func FaultReport(cur *Task_t, info FaultInfo_t, code []byte) string {
	_, asm := DisasmFault(cur, code)
	return fmt.Sprintf("pid %d %q: fault addr=%#x prot=%#x at eip=%#x: %s",
		cur.Pid, string(cur.Name), info.Addr, info.Prot, cur.TrapFrame.Eip, asm)
}
