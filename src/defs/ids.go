package defs

/// Pid_t identifies a task slot's process/thread id. Both processes and
/// threads (clone()d tasks) are drawn from the same monotonically
/// increasing generator.
type Pid_t int32

/// Tid_t is an alias of Pid_t: a thread created via clone() occupies an
/// ordinary task slot and is addressed the same way a process is.
type Tid_t = Pid_t

/// Signal numbers the core assigns a default disposition to at task
/// allocation time.
const (
	SIGKILL = 9
	SIGFPE  = 8
	SIGSEGV = 11

	/// NSIG bounds the handlers table; signal numbers are 0..NSIG-1.
	NSIG = 32
)

/// SigDefault is the handler-table sentinel meaning "default action",
/// spelled as -1 the way the source does.
const SigDefault uintptr = ^uintptr(0)

/// SigIgnore is the handler-table sentinel meaning "ignore this signal".
const SigIgnore uintptr = ^uintptr(0) - 1
