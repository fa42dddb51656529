package proc

import (
	"defs"
	"fd"
)

/// Fork duplicates cur into a new child task: allocates a
/// task, deep-copies the address space and open files, copies the trap
/// frame with the child's return-value register zeroed so fork returns
/// 0 in the child, marks the child RUNNABLE, and returns its pid to the
/// caller.
func Fork(cpu *Cpu_t, cur *Task_t) (defs.Pid_t, defs.Err_t) {
	tt := cpu.TT
	tt.Lock(cpu)

	np := tt.AllocateTask()
	if np == nil {
		tt.Unlock(cpu)
		return -1, -defs.ENOMEM
	}

	child := cur.AS.Copy()
	if child == nil {
		tt.freeSlot(np)
		tt.Unlock(cpu)
		return -1, -defs.ENOMEM
	}
	np.AS = child
	np.Size = cur.Size
	np.Parent = cur
	tf := *cur.TrapFrame
	np.TrapFrame = &tf
	np.TrapFrame.Eax = 0

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
	tt.Stats.Nforks.Inc()

	tt.Unlock(cpu)
	return pid, 0
}

/// CowFork is identical in structure to Fork, but clones the address
/// space with copy-on-write page sharing instead of a deep copy, and
/// marks both tasks IsCow. The source acquires the table
/// lock only around the terminal state write even though the preceding
/// allocation requires the lock throughout; this implementation holds
/// the lock for the entire call instead, since the allocation itself
/// must not race a concurrent scan of the table.
func CowFork(cpu *Cpu_t, cur *Task_t) (defs.Pid_t, defs.Err_t) {
	tt := cpu.TT
	tt.Lock(cpu)
	defer tt.Unlock(cpu)

	np := tt.AllocateTask()
	if np == nil {
		return -1, -defs.ENOMEM
	}

	np.AS = cur.AS.CowCopy()
	cur.IsCow = true
	np.IsCow = true

	np.Size = cur.Size
	np.Parent = cur
	tf := *cur.TrapFrame
	np.TrapFrame = &tf
	np.TrapFrame.Eax = 0

	for i, f := range cur.Files {
		if f != nil {
			nf, err := fd.Copyfd(f)
			if err != 0 {
				tt.freeSlot(np)
				return -1, err
			}
			np.Files[i] = nf
		}
	}
	np.Cwd = cur.Cwd
	np.Name = append(np.Name[:0:0], cur.Name...)

	pid := np.Pid
	np.State = RUNNABLE
	tt.Stats.Nforks.Inc()
	return pid, 0
}
