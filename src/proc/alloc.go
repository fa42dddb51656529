package proc

import (
	"defs"
	"limits"
)

/// AllocateTask scans the table for the first UNUSED slot, marks it
/// EMBRYO, assigns the next pid, and prepares a kernel stack, trap frame
/// and saved context whose instruction pointer is ForkReturn. The
/// caller must already hold the table lock. It returns nil if no slot
/// is free.
func (tt *TaskTable_t) AllocateTask() *Task_t {
	var t *Task_t
	for _, s := range tt.slots {
		if s.State == UNUSED {
			t = s
			break
		}
	}
	if t == nil {
		return nil
	}
	t.State = EMBRYO
	t.Pid = tt.nextpid
	tt.nextpid++

	t.KernelStack = make([]byte, limits.KSTACKSIZE)
	t.TrapFrame = &TrapFrame_t{}
	t.Ctx = newCtx()

	t.Handlers = [defs.NSIG]uintptr{}
	t.Handlers[defs.SIGKILL] = defs.SigDefault
	t.Handlers[defs.SIGFPE] = defs.SigDefault
	t.Handlers[defs.SIGSEGV] = defs.SigDefault

	t.IsCow = false
	t.IsThread = false
	t.ThreadStack = 0
	t.ThreadRetval = 0
	t.RestorerAddr = defs.SigDefault
	t.Killed = false
	t.Parent = nil
	t.WaitChannel = nil
	t.SleepPCs = nil

	tt.indexPut(t)
	return t
}

/// freeSlot reverts t to UNUSED and clears its identity, used both by
/// the failure paths of Fork, CowFork and Clone and by reap in exit.go
/// (called from Wait and Join).
func (tt *TaskTable_t) freeSlot(t *Task_t) {
	tt.indexDel(t.Pid)
	t.State = UNUSED
	t.Pid = 0
	t.Parent = nil
	t.Name = nil
	t.Killed = false
	t.KernelStack = nil
	t.TrapFrame = nil
	t.Ctx = nil
	t.AS = nil
	t.Size = 0
	t.IsCow = false
	t.IsThread = false
	t.ThreadStack = 0
	t.ThreadRetval = 0
	t.WaitChannel = nil
	t.SleepPCs = nil
	for i := range t.Files {
		t.Files[i] = nil
	}
	t.Cwd = nil
}
