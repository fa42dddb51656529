package proc

import (
	"defs"
	"fd"
)

/// PrepareExit performs every step of exit() up to, but not including,
/// the final state=ZOMBIE/Sched() handoff: it closes
/// every open file, releases the working directory, wakes the parent,
/// and reparents every direct descendant to init (waking init if one of
/// them is already ZOMBIE). It is split out from Exit so the state
/// transition can be verified (descendant reparenting) without driving the
/// scheduler.
func PrepareExit(cpu *Cpu_t, cur *Task_t) {
	tt := cpu.TT
	if cur == tt.init {
		invariantPanic("init exiting")
	}

	for i, f := range cur.Files {
		if f != nil {
			fd.Close_panic(f)
			cur.Files[i] = nil
		}
	}
	if cur.Cwd != nil && cur.Cwd.Fd != nil {
		fd.Close_panic(cur.Cwd.Fd)
	}
	cur.Cwd = nil

	tt.Lock(cpu)
	tt.wakeup1(cur.Parent)
	tt.Each(func(t *Task_t) bool {
		if t.Parent == cur {
			t.Parent = tt.init
			if t.State == ZOMBIE {
				tt.wakeup1(tt.init)
			}
		}
		return false
	})
	tt.Unlock(cpu)
}

/// Exit terminates cur: PrepareExit, then under the
/// lock, state = ZOMBIE, and Sched -- which never returns, since the
/// scheduler will never again pick a ZOMBIE task. Exit panics if Sched
/// somehow returns, matching the source's own "panic("zombie exit")".
func Exit(cpu *Cpu_t, cur *Task_t) {
	PrepareExit(cpu, cur)
	tt := cpu.TT
	tt.Lock(cpu)
	cur.State = ZOMBIE
	Sched(cpu, cur)
	invariantPanic("zombie exit")
}

/// reap frees a ZOMBIE child's kernel stack and (for a non-thread child
/// only) its address space, then clears its identity and marks it
/// UNUSED. The table lock must already
/// be held.
func (tt *TaskTable_t) reap(child *Task_t) defs.Pid_t {
	pid := child.Pid
	child.KernelStack = nil
	if !child.IsThread && child.AS != nil {
		child.AS.Destroy()
	}
	tt.freeSlot(child)
	return pid
}

/// Wait blocks until a child of cur exits, reaps it, and returns its
/// pid, or returns -1 if cur has no children or has been killed.
func Wait(cpu *Cpu_t, cur *Task_t) defs.Pid_t {
	tt := cpu.TT
	tt.Lock(cpu)
	for {
		havekids := false
		var zombie *Task_t
		tt.Each(func(t *Task_t) bool {
			if t.Parent != cur {
				return false
			}
			havekids = true
			if t.State == ZOMBIE {
				zombie = t
				return true
			}
			return false
		})
		if zombie != nil {
			pid := tt.reap(zombie)
			tt.Unlock(cpu)
			return pid
		}
		if !havekids || cur.Killed {
			tt.Unlock(cpu)
			return -1
		}
		Sleep(cpu, cur, cur, true)
	}
}

/// Kill marks the task with the given pid for termination, promoting it
/// to RUNNABLE if it was SLEEPING so it observes Killed on its next
/// return to user mode. Returns 0 on a match, -1
/// otherwise.
func Kill(cpu *Cpu_t, pid defs.Pid_t) defs.Err_t {
	tt := cpu.TT
	tt.Lock(cpu)
	defer tt.Unlock(cpu)
	target := tt.ByPid(pid)
	if target == nil {
		return -1
	}
	target.Killed = true
	if target.State == SLEEPING {
		target.State = RUNNABLE
	}
	tt.Stats.Nkills.Inc()
	return 0
}
