package proc

import (
	"defs"
	"fd"
	"mem"
)

/// Clone creates a new thread sharing cur's address space: entry/arg
/// seed the new trap frame for a fresh call to entry(arg) on a
/// dedicated one-page user stack the caller has already mapped into
/// the shared address space. The source duplicates the caller's open
/// files and working directory into the child rather than sharing the
/// table, contradicting ordinary thread semantics; this keeps that
/// behavior rather than guessing at a fix.
func Clone(cpu *Cpu_t, cur *Task_t, entry, arg, userStackPage uintptr) (defs.Pid_t, defs.Err_t) {
	tt := cpu.TT
	tt.Lock(cpu)

	np := tt.AllocateTask()
	if np == nil {
		tt.Unlock(cpu)
		return -1, -defs.ENOMEM
	}

	np.AS = cur.AS
	np.Size = cur.Size
	np.Parent = cur
	np.IsThread = true
	np.ThreadStack = userStackPage

	tf := *cur.TrapFrame
	np.TrapFrame = &tf
	np.TrapFrame.Eip = uint32(entry)

	sp := userStackPage + uintptr(mem.PGSIZE) - 8
	var frame [8]uint8
	put32(frame[0:4], 0)
	put32(frame[4:8], uint32(arg))
	if err := cur.AS.CopyOut(sp, frame[:]); err != 0 {
		tt.freeSlot(np)
		tt.Unlock(cpu)
		return -1, err
	}
	np.TrapFrame.Esp = uint32(sp)

	for i, f := range cur.Files {
		if f != nil {
			nf, err := fd.Copyfd(f)
			if err != 0 {
				tt.freeSlot(np)
				tt.Unlock(cpu)
				return -1, err
			}
			np.Files[i] = nf
		}
	}
	np.Cwd = cur.Cwd
	np.Name = append(np.Name[:0:0], cur.Name...)

	pid := np.Pid
	np.State = RUNNABLE

	tt.Unlock(cpu)
	return pid, 0
}

/// findThreadChild returns cur's thread child with the given pid, or
/// nil. The table lock must already be held.
func (tt *TaskTable_t) findThreadChild(cur *Task_t, pid defs.Pid_t) *Task_t {
	var found *Task_t
	tt.Each(func(t *Task_t) bool {
		if t.Parent == cur && t.IsThread && t.Pid == pid {
			found = t
			return true
		}
		return false
	})
	return found
}

/// Join blocks until the thread pid (a child of cur created via Clone)
/// calls Texit, then reaps it and returns the stack it was given and
/// the value it exited with. Returns -1 if pid does
/// not name a thread child of cur, or if cur is killed first.
func Join(cpu *Cpu_t, cur *Task_t, pid defs.Pid_t) (uintptr, uintptr, defs.Err_t) {
	tt := cpu.TT
	tt.Lock(cpu)
	for {
		t := tt.findThreadChild(cur, pid)
		if t == nil {
			tt.Unlock(cpu)
			return 0, 0, -1
		}
		if t.State == ZOMBIE {
			stack, retval := t.ThreadStack, t.ThreadRetval
			tt.reap(t)
			tt.Unlock(cpu)
			return stack, retval, 0
		}
		if cur.Killed {
			tt.Unlock(cpu)
			return 0, 0, -1
		}
		Sleep(cpu, cur, t, true)
	}
}

/// Texit terminates the calling thread: unlike Exit, it
/// does not close the file descriptors Clone duplicated into the thread
/// or release its working directory. It records retval for a waiting Join, wakes
/// it, reparents any descendants to init, and becomes a ZOMBIE the
/// table reaps without ever destroying the shared address space. Texit
/// is a no-op on a task that is not a thread.
func Texit(cpu *Cpu_t, cur *Task_t, retval uintptr) {
	if !cur.IsThread {
		return
	}
	tt := cpu.TT
	tt.Lock(cpu)
	cur.ThreadRetval = retval
	tt.wakeup1(cur)
	tt.Each(func(t *Task_t) bool {
		if t.Parent == cur {
			t.Parent = tt.init
			if t.State == ZOMBIE {
				tt.wakeup1(tt.init)
			}
		}
		return false
	})
	cur.State = ZOMBIE
	Sched(cpu, cur)
	invariantPanic("zombie texit")
}
