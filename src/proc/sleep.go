package proc

import "caller"

/// Sleep moves cur from RUNNING to SLEEPING on channel under the table
/// lock, so a Wakeup on channel cannot run between the state change and
/// the switch into the scheduler.
/// channel is compared only by identity (an opaque equality key);
/// callers conventionally pass the address of whatever they are waiting
/// on. Sleep has no parameter for a caller-held condition lock: with
/// tableHeld false it acquires the table lock on entry and releases it
/// on return, and no other lock is released or reacquired. If the caller
/// already holds the table lock (tableHeld == true, e.g. wait()'s own
/// loop), Sleep neither acquires nor releases it.
func Sleep(cpu *Cpu_t, cur *Task_t, channel interface{}, tableHeld bool) {
	if cur == nil {
		panic("sleep")
	}
	if !tableHeld {
		cpu.TT.Lock(cpu)
	}

	cur.WaitChannel = channel
	cur.State = SLEEPING
	cur.SleepPCs = caller.CapturePCs(2, 10)
	cpu.TT.Stats.Nsleeps.Inc()
	Sched(cpu, cur)

	cur.WaitChannel = nil

	if !tableHeld {
		cpu.TT.Unlock(cpu)
	}
}

/// wakeup1 moves every SLEEPING task waiting on channel to RUNNABLE.
/// The table lock must already be held.
func (tt *TaskTable_t) wakeup1(channel interface{}) {
	tt.Each(func(t *Task_t) bool {
		if t.State == SLEEPING && t.WaitChannel == channel {
			t.State = RUNNABLE
		}
		return false
	})
}

/// Wakeup moves every task sleeping on channel to RUNNABLE.
func Wakeup(cpu *Cpu_t, channel interface{}) {
	cpu.TT.Lock(cpu)
	cpu.TT.wakeup1(channel)
	cpu.TT.Stats.Nwakeups.Inc()
	cpu.TT.Unlock(cpu)
}
