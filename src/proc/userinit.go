package proc

import (
	"defs"
	"fd"
	"mem"
	"vm"
)

/// UserInit allocates the first task, maps image as its initial user
/// program, seeds a trap frame that returns to user mode at address 0
/// with a one-page stack, wires fds 0-2 to the console, and marks it
/// RUNNABLE. stdin/stdout back the console device; tests
/// can pass fakes. Stores the task as the table's init.
func UserInit(cpu *Cpu_t, image []byte, stdin, stdout func([]uint8) (int, error)) *Task_t {
	tt := cpu.TT
	tt.Lock(cpu)
	defer tt.Unlock(cpu)

	t := tt.AllocateTask()
	if t == nil {
		invariantPanic("no slot for init")
	}

	if len(image) > mem.PGSIZE {
		invariantPanic("init image too large")
	}
	t.AS = vm.NewAddressSpace(tt.Pages)
	if err := t.AS.InitUVM(image); err != 0 {
		invariantPanic("init image out of memory")
	}
	t.Size = uintptr(mem.PGSIZE)

	t.TrapFrame.Eip = 0
	t.TrapFrame.Esp = uint32(mem.PGSIZE)
	t.TrapFrame.Eflags = 0x200 // IF

	console := fd.MkConsoleFile(defs.D_CONSOLE, stdin, stdout)
	for i := 0; i < 3; i++ {
		t.Files[i] = &fd.Fd_t{Fops: console, Perms: fd.FD_READ | fd.FD_WRITE}
		if i > 0 {
			console.Reopen()
		}
	}
	t.Cwd = fd.MkRootCwd(nil)
	t.Name = append(t.Name[:0:0], []byte("initcode")...)

	t.State = RUNNABLE
	tt.init = t
	return t
}
