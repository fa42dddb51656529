// Package proc is the process and thread management core: the task
// table, the per-CPU scheduler, sleep/wakeup, fork/cow_fork, exit/wait/
// kill, clone/join/texit, signal delivery and mprotect. Everything here
// is grounded on ptable and struct proc from the original kernel's
// proc.c, generalized from that kernel's fixed x86 register layout to a
// portable Go shape; the physical page allocator, the VM primitives, and
// the filesystem are external collaborators reached only through the
// mem.Page_i, vm.AddressSpace_t and fdops.Fdops_i contracts.
package proc

import (
	"sync"

	"accnt"
	"defs"
	"fd"
	"hashtable"
	"limits"
	"mem"
	"stats"
	"swtch"
	"ustr"
	"vm"
)

/// Stats_t counts the scheduling events a wedged-system diagnostic or a
/// curious operator would want to see alongside procdump: context
/// switches, forks, sleeps, wakeups and kills, in the same
/// Counter_t/Stats2String style the rest of this codebase reports
/// per-task accounting.
type Stats_t struct {
	Nctxswitch stats.Counter_t
	Nforks     stats.Counter_t
	Nsleeps    stats.Counter_t
	Nwakeups   stats.Counter_t
	Nkills     stats.Counter_t
}

/// String renders the table's lifetime counters for diagnostics.
func (s *Stats_t) String() string {
	return stats.Stats2String(*s)
}

/// NPROC bounds the task table. Mirrors limits.Syslimit.Sysprocs's
/// default, kept as a compile-time array bound.
const NPROC = 64

/// State_t is a task's scheduling state.
type State_t int

const (
	UNUSED State_t = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

func (s State_t) String() string {
	switch s {
	case UNUSED:
		return "unused"
	case EMBRYO:
		return "embryo"
	case SLEEPING:
		return "sleep "
	case RUNNABLE:
		return "runble"
	case RUNNING:
		return "run   "
	case ZOMBIE:
		return "zombie"
	default:
		return "???"
	}
}

/// TrapFrame_t is the saved user-mode register set captured on a trap,
/// carved out of the top of a task's kernel stack. Field names follow
/// the x86 trap frame the source builds in trapasm.S: the segment
/// registers, the general registers signal delivery rewrites, and the
/// saved program counter/stack pointer/flags.
type TrapFrame_t struct {
	Eax, Ecx, Edx, Ebx uint32
	Esp, Ebp           uint32
	Eip                uint32
	Eflags             uint32
	Cs, Ds, Es, Ss      uint32
}

/// Task_t is one schedulable entity: a process, or a clone()d thread
/// sharing its parent's address space. Every field in this struct is
/// protected by the owning TaskTable_t's lock, except Ctx and
/// KernelStack, which are only touched by the task itself or by the
/// scheduler while the single-logical-thread-per-CPU discipline holds.
type Task_t struct {
	State  State_t
	Pid    defs.Pid_t
	Parent *Task_t

	AS   *vm.AddressSpace_t
	Size uintptr

	KernelStack []byte
	TrapFrame   *TrapFrame_t
	Ctx         *swtch.Context_t

	WaitChannel interface{}
	Killed      bool
	SleepPCs    []uintptr

	Files [limits.NOFILE]*fd.Fd_t
	Cwd   *fd.Cwd_t
	Name  ustr.Ustr

	Handlers     [defs.NSIG]uintptr
	RestorerAddr uintptr

	IsCow bool

	IsThread     bool
	ThreadStack  uintptr
	ThreadRetval uintptr

	Acct accnt.Accnt_t
}

/// TaskTable_t is the fixed-capacity task table plus the single lock
/// that serializes every scheduling-relevant read or write.
type TaskTable_t struct {
	mu      sync.Mutex
	held    bool
	slots   [NPROC]*Task_t
	nextpid defs.Pid_t
	init    *Task_t
	index   *hashtable.Hashtable_t
	Pages   mem.Page_i
	Stats   Stats_t
}

/// NewTaskTable returns an empty task table backed by pager for every
/// task's address space.
func NewTaskTable(pager mem.Page_i) *TaskTable_t {
	tt := &TaskTable_t{
		nextpid: 1,
		index:   hashtable.MkHash(64),
		Pages:   pager,
	}
	for i := range tt.slots {
		tt.slots[i] = &Task_t{State: UNUSED}
	}
	return tt
}

/// Lock acquires the table lock, bumping cpu's interrupt-disable nesting
/// count the way acquire() calls pushcli() in the source.
func (tt *TaskTable_t) Lock(cpu *Cpu_t) {
	cpu.Pushcli(true)
	tt.mu.Lock()
	tt.held = true
}

/// Unlock releases the table lock and pops cpu's interrupt-disable
/// nesting count.
func (tt *TaskTable_t) Unlock(cpu *Cpu_t) {
	tt.held = false
	tt.mu.Unlock()
	cpu.Popcli()
}

/// Holding reports whether the table lock is currently held by anyone,
/// used by Sched's precondition check.
func (tt *TaskTable_t) Holding() bool {
	return tt.held
}

/// Init returns the table's init task, or nil before UserInit has run.
func (tt *TaskTable_t) Init() *Task_t {
	return tt.init
}

/// ByPid looks up a task by pid via the secondary index, falling back to
/// a linear scan if the index is stale. Kill calls this directly; other
/// pid-adjacent lookups such as findThreadChild still scan linearly
/// because they filter on more than pid alone (parent, thread-ness).
func (tt *TaskTable_t) ByPid(pid defs.Pid_t) *Task_t {
	if v, ok := tt.index.Get(int32(pid)); ok {
		t := v.(*Task_t)
		if t.Pid == pid && t.State != UNUSED {
			return t
		}
	}
	for _, t := range tt.slots {
		if t.State != UNUSED && t.Pid == pid {
			return t
		}
	}
	return nil
}

func (tt *TaskTable_t) indexPut(t *Task_t) {
	tt.index.Set(int32(t.Pid), t)
}

func (tt *TaskTable_t) indexDel(pid defs.Pid_t) {
	if _, ok := tt.index.Get(int32(pid)); ok {
		tt.index.Del(int32(pid))
	}
}

/// Each iterates f over every slot in array order, matching the source's
/// fixed `for(p = ptable.proc; ...)` scan.
func (tt *TaskTable_t) Each(f func(*Task_t) bool) {
	for _, t := range tt.slots {
		if f(t) {
			return
		}
	}
}
