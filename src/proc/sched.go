package proc

import (
	"context"

	"golang.org/x/sync/errgroup"

	"swtch"
)

/// Cpu_t is one CPU's scheduler: its own kernel context to switch back
/// into, interrupt-disable bookkeeping (embedded from swtch.Cpu_t), and
/// the task it is currently running, if any.
type Cpu_t struct {
	*swtch.Cpu_t
	TT      *TaskTable_t
	Current *Task_t
}

/// NewCpu returns an idle Cpu_t bound to tt.
func NewCpu(tt *TaskTable_t, id int) *Cpu_t {
	return &Cpu_t{Cpu_t: swtch.NewCpu(id), TT: tt}
}

func newCtx() *swtch.Context_t {
	return swtch.NewContext()
}

var forkretOnce = struct {
	done bool
}{}

/// Scheduler is the body of the per-CPU loop: forever, take the table
/// lock, scan slots in array order for the first RUNNABLE task, switch
/// into it, and when it switches back, move on. It never returns; call
/// it in its own goroutine (Boot does this for every CPU). stop, when
/// closed, ends the loop after the current pass -- a test hook the
/// real kernel has no equivalent of, since the real machine never
/// reboots out of the scheduler.
func (c *Cpu_t) Scheduler(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		c.TT.Lock(c)
		c.TT.Each(func(t *Task_t) bool {
			if t.State != RUNNABLE {
				return false
			}
			c.Current = t
			t.State = RUNNING
			c.TT.Stats.Nctxswitch.Inc()
			swtch.Switch(c.Sched, t.Ctx)
			c.Current = nil
			return true
		})
		c.TT.Unlock(c)
	}
}

/// Sched context-switches from the current task back into cpu's
/// scheduler context. Panics if the table lock is not held, if the
/// interrupt-disable nesting count is not exactly one, or if cur is still
/// RUNNING -- the same impossible-invariant panics the source raises.
func Sched(cpu *Cpu_t, cur *Task_t) {
	if !cpu.TT.Holding() {
		invariantPanic("sched ptable.lock")
	}
	if cpu.Ncli != 1 {
		invariantPanic("sched locks")
	}
	if cur.State == RUNNING {
		invariantPanic("sched running")
	}
	intena := cpu.Intena
	swtch.Switch(cur.Ctx, cpu.Sched)
	cpu.Intena = intena
}

/// Yield gives up the CPU for one scheduling round, invoked on behalf
/// of the current task from the timer interrupt to provide preemption.
func Yield(cpu *Cpu_t, cur *Task_t) {
	cpu.TT.Lock(cpu)
	cur.State = RUNNABLE
	Sched(cpu, cur)
	cpu.TT.Unlock(cpu)
}

/// ForkReturn runs as the first thing a freshly scheduled new task
/// executes. It releases the table lock still held from the
/// scheduler's switch-in, and on the very first invocation across the
/// whole system performs the one-time, task-context-requiring
/// initialization the source defers to here (iinit/initlog in the
/// original; the filesystem is outside this module's scope, so there
/// is nothing left to do on that path but record that it ran).
func ForkReturn(cpu *Cpu_t, cur *Task_t) {
	cpu.TT.Unlock(cpu)
	if !forkretOnce.done {
		forkretOnce.done = true
	}
}

/// Enter parks the calling goroutine until the scheduler switches into
/// cur, then runs ForkReturn exactly once (cur's first scheduling) and
/// invokes run with cur as the current task. Enter returns when run
/// returns; a well-behaved run body ends by calling Exit or Texit, which
/// never return, so in practice Enter's goroutine parks forever inside
/// run once the task is finished, matching the source's "exit must never
/// return" contract.
func Enter(cpu *Cpu_t, cur *Task_t, run func(cpu *Cpu_t, cur *Task_t)) {
	swtch.Enter(cur.Ctx)
	ForkReturn(cpu, cur)
	if run != nil {
		run(cpu, cur)
	}
}

/// Boot launches ncpus scheduler goroutines using golang.org/x/sync's
/// errgroup, returning once every one of them has stopped -- which
/// happens only when stop is closed, since Scheduler itself never
/// returns on its own.
func Boot(ctx context.Context, tt *TaskTable_t, ncpus int, stop <-chan struct{}) ([]*Cpu_t, error) {
	cpus := make([]*Cpu_t, ncpus)
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < ncpus; i++ {
		cpu := NewCpu(tt, i)
		cpus[i] = cpu
		g.Go(func() error {
			cpu.Scheduler(stop)
			return nil
		})
	}
	return cpus, g.Wait()
}
