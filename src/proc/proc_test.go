package proc

import (
	"testing"
	"time"

	"defs"
	"mem"
	"vm"
)

func newTestTable() *TaskTable_t {
	return NewTaskTable(mem.NewArena())
}

// TestPidUniqueness checks that pids are unique and monotonically
// non-decreasing in assignment order.
func TestPidUniqueness(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	tt.Lock(cpu)
	defer tt.Unlock(cpu)

	seen := map[defs.Pid_t]bool{}
	last := defs.Pid_t(0)
	for i := 0; i < 5; i++ {
		task := tt.AllocateTask()
		if task == nil {
			t.Fatal("AllocateTask failed")
		}
		if seen[task.Pid] {
			t.Fatalf("pid %d reused", task.Pid)
		}
		if task.Pid <= last {
			t.Fatalf("pid %d not monotonically increasing after %d", task.Pid, last)
		}
		seen[task.Pid] = true
		last = task.Pid
	}
}

// TestStateFieldConsistency checks that a task's bookkeeping fields
// (kernel stack, wait channel) track its allocation state.
func TestStateFieldConsistency(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	tt.Lock(cpu)
	task := tt.AllocateTask()
	if task.KernelStack == nil {
		t.Fatal("allocated task must have a kernel stack")
	}
	if task.WaitChannel != nil {
		t.Fatal("a fresh task must not have a wait channel")
	}
	tt.freeSlot(task)
	if task.KernelStack != nil {
		t.Fatal("freed task must have a nil kernel stack")
	}
	tt.Unlock(cpu)
}

// TestAllocateTaskExhaustion checks that AllocateTask returns nil once
// all NPROC slots are occupied.
func TestAllocateTaskExhaustion(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	tt.Lock(cpu)
	defer tt.Unlock(cpu)
	for i := 0; i < NPROC; i++ {
		if tt.AllocateTask() == nil {
			t.Fatalf("unexpected allocation failure at %d", i)
		}
	}
	if tt.AllocateTask() != nil {
		t.Fatal("expected nil once every slot is occupied")
	}
}

func mkRunnableTask(tt *TaskTable_t, cpu *Cpu_t) *Task_t {
	tt.Lock(cpu)
	task := tt.AllocateTask()
	task.AS = vm.NewAddressSpace(tt.Pages)
	task.State = RUNNABLE
	tt.Unlock(cpu)
	return task
}

// TestForkDuplicatesStateAndZeroesChildEax exercises fork() step 3-5
// synchronously: Fork never blocks, so it needs no live
// scheduler.
func TestForkDuplicatesStateAndZeroesChildEax(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	parent := mkRunnableTask(tt, cpu)
	parent.AS.InitUVM([]byte("parent-image"))
	parent.TrapFrame.Eax = 99
	parent.Name = append(parent.Name[:0:0], []byte("parent")...)

	pid, err := Fork(cpu, parent)
	if err != 0 {
		t.Fatalf("Fork: %d", err)
	}
	child := tt.ByPid(pid)
	if child == nil {
		t.Fatal("forked child not found by pid")
	}
	if child.TrapFrame.Eax != 0 {
		t.Fatalf("child eax = %d, want 0", child.TrapFrame.Eax)
	}
	if child.Parent != parent {
		t.Fatal("child parent mismatch")
	}
	if child.State != RUNNABLE {
		t.Fatalf("child state = %v, want RUNNABLE", child.State)
	}
	if string(child.Name) != "parent" {
		t.Fatalf("child name = %q, want copied from parent", child.Name)
	}
	if child.AS == parent.AS {
		t.Fatal("plain fork must deep-copy the address space, not alias it")
	}
}

// TestCowForkSharesPagesAndSetsIsCow exercises cow_fork's distinguishing
// behavior: both tasks are marked is_cow.
func TestCowForkSharesPagesAndSetsIsCow(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	parent := mkRunnableTask(tt, cpu)
	parent.AS.InitUVM([]byte("shared"))

	pid, err := CowFork(cpu, parent)
	if err != 0 {
		t.Fatalf("CowFork: %d", err)
	}
	if !parent.IsCow {
		t.Fatal("parent must be marked is_cow after cow_fork")
	}
	child := tt.ByPid(pid)
	if !child.IsCow {
		t.Fatal("child must be marked is_cow after cow_fork")
	}
}

// TestForkExitWait drives fork, exit, and wait end to end with a
// real scheduler goroutine, since exit's terminal sched() call only
// returns control once something switches back into the scheduler.
func TestForkExitWait(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	stop := make(chan struct{})
	go cpu.Scheduler(stop)
	defer close(stop)

	parent := mkRunnableTask(tt, cpu)
	parent.AS.InitUVM([]byte("x"))

	type result struct {
		childPid defs.Pid_t
		reaped   defs.Pid_t
		forkErr  defs.Err_t
	}
	done := make(chan result, 1)

	go Enter(cpu, parent, func(cpu *Cpu_t, cur *Task_t) {
		pid, err := Fork(cpu, cur)
		if err != 0 {
			done <- result{forkErr: err}
			return
		}
		child := cpu.TT.ByPid(pid)
		go Enter(cpu, child, func(cpu *Cpu_t, cur *Task_t) {
			Exit(cpu, cur)
		})
		reaped := Wait(cpu, cur)
		done <- result{childPid: pid, reaped: reaped}
	})

	select {
	case r := <-done:
		if r.forkErr != 0 {
			t.Fatalf("Fork: %d", r.forkErr)
		}
		if r.reaped != r.childPid {
			t.Fatalf("Wait returned %d, want %d", r.reaped, r.childPid)
		}
		slot := tt.ByPid(r.childPid)
		if slot != nil {
			t.Fatalf("slot for reaped pid %d should no longer be indexed", r.childPid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fork-exit-wait round trip")
	}
}

// TestWaitReturnsMinusOneWithoutChildren checks that waiting with no
// children returns -1 immediately.
func TestWaitReturnsMinusOneWithoutChildren(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)
	task.Killed = true // avoids sleeping: no children and killed both return -1 immediately
	if got := Wait(cpu, task); got != -1 {
		t.Fatalf("Wait = %d, want -1", got)
	}
}

// TestWaitReapsAlreadyZombieChild checks reaping without needing a live
// scheduler: the child is already ZOMBIE, so wait finds it on its first
// pass and never calls sleep.
func TestWaitReapsAlreadyZombieChild(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	parent := mkRunnableTask(tt, cpu)

	tt.Lock(cpu)
	child := tt.AllocateTask()
	child.Parent = parent
	child.State = ZOMBIE
	tt.Unlock(cpu)
	childPid := child.Pid

	reaped := Wait(cpu, parent)
	if reaped != childPid {
		t.Fatalf("Wait returned %d, want %d", reaped, childPid)
	}
	if child.State != UNUSED {
		t.Fatalf("reaped child state = %v, want UNUSED", child.State)
	}
	if child.Pid != 0 {
		t.Fatalf("reaped child pid = %d, want 0", child.Pid)
	}
	if child.Parent != nil {
		t.Fatal("reaped child must have nil parent")
	}
	if child.KernelStack != nil {
		t.Fatal("reaped child must have nil kernel stack")
	}
}

// TestPrepareExitReparentsChildren checks descendant reparenting directly,
// without requiring the blocking half of exit (the final sched() call).
func TestPrepareExitReparentsChildren(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	init := mkRunnableTask(tt, cpu)
	tt.init = init

	parent := mkRunnableTask(tt, cpu)
	tt.Lock(cpu)
	child := tt.AllocateTask()
	child.Parent = parent
	tt.Unlock(cpu)

	PrepareExit(cpu, parent)

	if child.Parent != init {
		t.Fatalf("child parent = %v, want init", child.Parent)
	}
	tt.Each(func(task *Task_t) bool {
		if task.State != UNUSED && task.Parent == parent {
			t.Fatalf("no surviving task may still point at the exited parent")
		}
		return false
	})
}

// TestKillPromotesSleeperAndSetsKilled checks that a sleeping
// task is promoted to RUNNABLE and observes Killed once resumed.
func TestKillPromotesSleeperAndSetsKilled(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	stop := make(chan struct{})
	go cpu.Scheduler(stop)
	defer close(stop)

	task := mkRunnableTask(tt, cpu)
	channel := new(int)

	done := make(chan bool, 1)
	go Enter(cpu, task, func(cpu *Cpu_t, cur *Task_t) {
		Sleep(cpu, cur, channel, false)
		done <- cur.Killed
	})

	// Kill is called as if from a second, independent CPU: a bare Cpu_t
	// that never runs Scheduler, so its interrupt-disable bookkeeping
	// cannot race with cpu's own.
	killer := NewCpu(tt, 1)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case killed := <-done:
			if !killed {
				t.Fatal("task resumed from sleep without observing Killed")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for killed sleeper to resume")
		default:
		}
		if Kill(killer, task.Pid) != 0 {
			t.Fatal("Kill: no matching pid")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestSleepWakeup drives sleep/wakeup across two CPUs: A sleeps on a
// channel, B repeatedly calls wakeup until A observes it, bounding the
// number of scheduler loops the race can survive.
func TestSleepWakeup(t *testing.T) {
	tt := newTestTable()
	cpuA := NewCpu(tt, 0)
	cpuB := NewCpu(tt, 1)
	stop := make(chan struct{})
	go cpuA.Scheduler(stop)
	go cpuB.Scheduler(stop)
	defer close(stop)

	a := mkRunnableTask(tt, cpuA)
	b := mkRunnableTask(tt, cpuB)
	channel := new(int)

	awoken := make(chan struct{})
	go Enter(cpuA, a, func(cpu *Cpu_t, cur *Task_t) {
		Sleep(cpu, cur, channel, false)
		close(awoken)
	})

	bDone := make(chan struct{})
	go Enter(cpuB, b, func(cpu *Cpu_t, cur *Task_t) {
		for {
			select {
			case <-awoken:
				close(bDone)
				return
			default:
			}
			Wakeup(cpu, channel)
			time.Sleep(time.Millisecond)
		}
	})

	select {
	case <-awoken:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke up")
	}
	<-bDone
}

// TestCloneJoin drives clone and join end to end.
func TestCloneJoin(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	stop := make(chan struct{})
	go cpu.Scheduler(stop)
	defer close(stop)

	main := mkRunnableTask(tt, cpu)
	main.AS.Grow(0, uintptr(2*mem.PGSIZE))
	stackPage := uintptr(mem.PGSIZE)

	type result struct {
		stack, retval uintptr
		err           defs.Err_t
	}
	done := make(chan result, 1)

	go Enter(cpu, main, func(cpu *Cpu_t, cur *Task_t) {
		pid, err := Clone(cpu, cur, 0, 42, stackPage)
		if err != 0 {
			done <- result{err: err}
			return
		}
		thread := cpu.TT.ByPid(pid)
		go Enter(cpu, thread, func(cpu *Cpu_t, cur *Task_t) {
			Texit(cpu, cur, 42)
		})
		stack, retval, joinErr := Join(cpu, cur, pid)
		done <- result{stack: stack, retval: retval, err: joinErr}
	})

	select {
	case r := <-done:
		if r.err != 0 {
			t.Fatalf("Clone/Join error: %d", r.err)
		}
		if r.retval != 42 {
			t.Fatalf("retval = %d, want 42", r.retval)
		}
		if r.stack != stackPage {
			t.Fatalf("stack = %v, want %v", r.stack, stackPage)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clone/join round trip")
	}
}

// TestTexitNoopOnNonThread exercises the documented no-op.
func TestTexitNoopOnNonThread(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)
	Texit(cpu, task, 1) // must return, not panic or block
	if task.State != RUNNABLE {
		t.Fatalf("state = %v, want unchanged RUNNABLE", task.State)
	}
}

// TestSignalRegisterRoundTrip checks that registering a handler returns
// the previously registered one.
func TestSignalRegisterRoundTrip(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)

	orig := task.Handlers[defs.SIGSEGV]
	prev := SignalRegister(task, defs.SIGSEGV, 0x1000)
	if prev != orig {
		t.Fatalf("first register returned %v, want original %v", prev, orig)
	}
	prev2 := SignalRegister(task, defs.SIGSEGV, orig)
	if prev2 != 0x1000 {
		t.Fatalf("second register returned %v, want 0x1000", prev2)
	}
	if task.Handlers[defs.SIGSEGV] != orig {
		t.Fatal("handler not restored to original value")
	}
}

// TestSignalDeliverBuildsTrampolineFrame checks the trampoline frame's
// byte layout field by field.
func TestSignalDeliverBuildsTrampolineFrame(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)
	task.AS.Grow(0, uintptr(mem.PGSIZE))

	task.RestorerAddr = 0xcafebabe
	task.Handlers[defs.SIGSEGV] = 0xdeadbeef
	task.TrapFrame.Esp = uint32(mem.PGSIZE)
	task.TrapFrame.Eip = 0x1111
	task.TrapFrame.Eax = 0x2222
	task.TrapFrame.Ecx = 0x3333
	task.TrapFrame.Edx = 0x4444

	info := FaultInfoFor(0x5000, vm.PROT_WRITE)
	if err := SignalDeliver(task, defs.SIGSEGV, info); err != 0 {
		t.Fatalf("SignalDeliver: %d", err)
	}

	if task.TrapFrame.Eip != uint32(task.Handlers[defs.SIGSEGV]) {
		t.Fatal("eip must point at the handler after delivery")
	}
	wantEsp := uint32(mem.PGSIZE) - 32
	if task.TrapFrame.Esp != wantEsp {
		t.Fatalf("esp = %d, want %d", task.TrapFrame.Esp, wantEsp)
	}

	frame := make([]byte, 32)
	if err := task.AS.CopyIn(frame, uintptr(task.TrapFrame.Esp)); err != 0 {
		t.Fatalf("CopyIn: %d", err)
	}
	le32 := func(b []byte) uint32 {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	if got := le32(frame[0:4]); got != 0xcafebabe {
		t.Fatalf("restorer addr = %#x, want 0xcafebabe", got)
	}
	if got := le32(frame[4:8]); got != defs.SIGSEGV {
		t.Fatalf("signum = %d, want %d", got, defs.SIGSEGV)
	}
	if got := le32(frame[8:12]); got != 0x5000 {
		t.Fatalf("siginfo addr = %#x, want 0x5000", got)
	}
	if got := le32(frame[12:16]); got != uint32(vm.PROT_WRITE) {
		t.Fatalf("siginfo prot = %#x, want %#x", got, vm.PROT_WRITE)
	}
	if got := le32(frame[16:20]); got != 0x4444 {
		t.Fatalf("saved edx = %#x, want 0x4444", got)
	}
	if got := le32(frame[20:24]); got != 0x3333 {
		t.Fatalf("saved ecx = %#x, want 0x3333", got)
	}
	if got := le32(frame[24:28]); got != 0x2222 {
		t.Fatalf("saved eax = %#x, want 0x2222", got)
	}
	if got := le32(frame[28:32]); got != 0x1111 {
		t.Fatalf("saved eip = %#x, want 0x1111", got)
	}
}

// TestMprotectDenialDeliversSigsegv checks that a write to a
// read-only page delivers SIGSEGV through the trampoline.
func TestMprotectDenialDeliversSigsegv(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)
	task.AS.InitUVM([]byte("x"))

	if err := Mprotect(task, 0, uintptr(mem.PGSIZE), vm.PROT_READ); err != 0 {
		t.Fatalf("Mprotect: %d", err)
	}
	if err := task.AS.CowFault(0); err == 0 {
		t.Fatal("a write against a read-only page must not be silently repaired")
	}

	task.TrapFrame.Esp = uint32(mem.PGSIZE)
	task.Handlers[defs.SIGSEGV] = 0x1234
	if err := SignalDeliver(task, defs.SIGSEGV, FaultInfoFor(0, vm.PROT_WRITE)); err != 0 {
		t.Fatalf("SignalDeliver: %d", err)
	}
	if task.TrapFrame.Eip != 0x1234 {
		t.Fatalf("eip = %#x, want the SIGSEGV handler 0x1234", task.TrapFrame.Eip)
	}
	info := make([]byte, 8)
	if err := task.AS.CopyIn(info, uintptr(task.TrapFrame.Esp)+8); err != 0 {
		t.Fatalf("CopyIn: %d", err)
	}
	if addr := uint32(info[0]) | uint32(info[1])<<8 | uint32(info[2])<<16 | uint32(info[3])<<24; addr != 0 {
		t.Fatalf("siginfo addr = %#x, want 0", addr)
	}
	if prot := uint32(info[4]) | uint32(info[5])<<8 | uint32(info[6])<<16 | uint32(info[7])<<24; prot != uint32(vm.PROT_WRITE) {
		t.Fatalf("siginfo prot = %#x, want %#x", prot, vm.PROT_WRITE)
	}
}

// TestGrow checks grow's success and failure paths.
func TestGrow(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)

	old := Grow(task, 2*mem.PGSIZE)
	if old != 0 {
		t.Fatalf("Grow returned old size %d, want 0", old)
	}
	if task.Size != uintptr(2*mem.PGSIZE) {
		t.Fatalf("size = %d, want %d", task.Size, 2*mem.PGSIZE)
	}
	if Grow(task, -4*mem.PGSIZE) != -1 {
		t.Fatal("shrinking below zero must fail")
	}
}

// TestProcdumpListsOnlyOccupiedSlots checks that procdump prints one
// line for the single occupied slot and none for the UNUSED ones.
func TestProcdumpListsOnlyOccupiedSlots(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)
	task.Name = append(task.Name[:0:0], []byte("worker")...)

	var buf [4096]byte
	w := &sliceWriter{buf: buf[:0]}
	Procdump(tt, w)
	out := string(w.buf)
	if !contains(out, "worker") {
		t.Fatalf("procdump output %q missing task name", out)
	}
	lines := 0
	for _, c := range out {
		if c == '\n' {
			lines++
		}
	}
	if lines != 1 {
		t.Fatalf("procdump printed %d lines for one occupied slot, want 1", lines)
	}
}

type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// TestFaultReportDecodesInstruction exercises the x86asm-backed fault
// diagnostic path used alongside mprotect denial.
func TestFaultReportDecodesInstruction(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	task := mkRunnableTask(tt, cpu)
	task.Name = append(task.Name[:0:0], []byte("faulter")...)
	task.TrapFrame.Eip = 0x1000

	// mov eax, [ebx] (8b 03), a plausible faulting load.
	code := []byte{0x8b, 0x03}
	inst, asm := DisasmFault(task, code)
	if inst.Len == 0 {
		t.Fatal("DisasmFault failed to decode a valid instruction")
	}
	if asm == "" {
		t.Fatal("DisasmFault returned an empty rendering")
	}

	report := FaultReport(task, FaultInfo_t{Addr: 0x2000, Prot: 0}, code)
	if !contains(report, "faulter") {
		t.Fatalf("FaultReport %q missing task name", report)
	}
}

// TestProcdumpDumpsCallStackForSleeper checks that a SLEEPING task's
// procdump line carries the call stack it captured when it went to
// sleep, restoring procdump's original per-sleeper pc dump.
func TestProcdumpDumpsCallStackForSleeper(t *testing.T) {
	tt := newTestTable()
	cpu := NewCpu(tt, 0)
	stop := make(chan struct{})
	go cpu.Scheduler(stop)
	defer close(stop)

	task := mkRunnableTask(tt, cpu)
	task.Name = append(task.Name[:0:0], []byte("sleeper")...)
	channel := new(int)

	asleep := make(chan bool, 1)
	go Enter(cpu, task, func(cpu *Cpu_t, cur *Task_t) {
		asleep <- true
		Sleep(cpu, cur, channel, false)
	})
	<-asleep

	deadline := time.After(2 * time.Second)
	for {
		tt.Lock(cpu)
		state := task.State
		tt.Unlock(cpu)
		if state == SLEEPING {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task to reach SLEEPING")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	var buf [8192]byte
	w := &sliceWriter{buf: buf[:0]}
	Procdump(tt, w)
	out := string(w.buf)
	if !contains(out, "sleeper") {
		t.Fatalf("procdump output %q missing task name", out)
	}
	if !contains(out, "proc.Sleep") {
		t.Fatalf("procdump output %q missing sleeper's captured call stack", out)
	}
}
