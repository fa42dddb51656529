// Package swtch isolates the one piece of this core that is inherently
// architecture-specific: the context switch. The real kernel's swtch() saves the
// callee-saved registers onto the current kernel stack and loads another
// stack's, implemented in assembly per architecture. Go gives goroutines
// their own stacks and schedules them itself, so there is no register set
// to save by hand -- but the handoff discipline the rest of the task core
// depends on (exactly one side runs at a time, and control returns to the
// switcher only once the other side switches back) still has to hold.
// Context_t and Switch reproduce that discipline with a pair of
// rendezvous channels instead of a saved stack pointer.
package swtch

/// Context_t is the switchable unit of execution: one CPU's scheduler
/// loop, or one task's kernel thread. It is the Go-native stand-in for
/// the saved register set a real swtch() writes to the kernel stack.
type Context_t struct {
	resume chan struct{}
}

/// NewContext returns a fresh, not-yet-running context.
func NewContext() *Context_t {
	return &Context_t{resume: make(chan struct{})}
}

/// Switch saves the caller's right to run in from and transfers control
/// to to, then blocks until something switches back into from. Exactly
/// one of any two contexts linked by repeated Switch calls is ever
/// logically "running" at a time, mirroring the real swtch(&from, to)
/// contract.
func Switch(from, to *Context_t) {
	to.resume <- struct{}{}
	<-from.resume
}

/// Enter blocks the calling goroutine until some other goroutine
/// switches into ctx. It is the receiving half of Switch, run by the
/// goroutine that owns ctx before it does anything else.
func Enter(ctx *Context_t) {
	<-ctx.resume
}

/// Leave hands control to ctx without waiting to be switched back into,
/// used when a context is being abandoned for good (a task exiting
/// straight into the scheduler and never returning).
func Leave(ctx *Context_t) {
	ctx.resume <- struct{}{}
}

/// Cpu_t holds the per-CPU state the scheduler and interrupt-disable
/// discipline need: the address of this
/// CPU's scheduler context, the nesting count of interrupt-disable
/// calls, and whether interrupts were enabled before the first one of
/// those calls. Intena is semantically a property of the interrupted
/// task, not of the CPU, but is stored here for simplicity, exactly as
/// the source documents.
type Cpu_t struct {
	Id          int
	Sched       *Context_t
	Ncli        int
	Intena      bool
	started     bool
}

/// NewCpu returns a Cpu_t with its scheduler context allocated.
func NewCpu(id int) *Cpu_t {
	return &Cpu_t{Id: id, Sched: NewContext()}
}

/// Pushcli increments the interrupt-disable nesting count, recording
/// whether interrupts were enabled before the first nested call.
func (c *Cpu_t) Pushcli(wasEnabled bool) {
	if c.Ncli == 0 {
		c.Intena = wasEnabled
	}
	c.Ncli++
}

/// Popcli decrements the nesting count and reports whether interrupts
/// should be re-enabled now (Ncli has dropped to zero and they were
/// enabled beforehand).
func (c *Cpu_t) Popcli() bool {
	if c.Ncli == 0 {
		panic("popcli: not held")
	}
	c.Ncli--
	return c.Ncli == 0 && c.Intena
}
