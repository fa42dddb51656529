package fd

import "sync"

import "defs"
import "fdops"
import "ustr"

/// File descriptor permission bits.
const (
	FD_READ    = 0x1 /// read permission
	FD_WRITE   = 0x2 /// write permission
	FD_CLOEXEC = 0x4 /// close-on-exec flag
)

/// Fd_t represents an open file descriptor.
type Fd_t struct {
	// fops is an interface implemented via a "pointer receiver", thus fops
	// is a reference, not a value
	Fops  fdops.Fdops_i /// descriptor operations
	Perms int           /// permission bits
}

/// Copyfd duplicates an open file descriptor by reopening it.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

/// Cwd_t tracks the current working directory for a process. The task
/// core only needs a stable identity to clone and tear down across
/// fork/clone/exit; path resolution against a real
/// filesystem is outside this module's scope.
type Cwd_t struct {
	sync.Mutex // to serialize chdirs
	Fd   *Fd_t    /// current directory fd
	Path ustr.Ustr /// canonical path
}

/// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}

/// ConsoleFile is the Fdops_i the first task's fds 0, 1 and 2 are wired to
///, mirroring the way the
/// original init process opens the console device on those three
/// descriptors before exec'ing the shell. Reads and writes go straight to
/// the process's own stdio, which is good enough for a task-management
/// core that does not implement a console device driver.
type ConsoleFile struct {
	sync.Mutex
	Dev   int  /// defs.D_CONSOLE
	refs  int
	stdin  func([]uint8) (int, error)
	stdout func([]uint8) (int, error)
}

/// MkConsoleFile wires up a ConsoleFile backed by the given read/write
/// functions, so tests can supply fakes instead of the real stdio.
func MkConsoleFile(dev int, read, write func([]uint8) (int, error)) *ConsoleFile {
	return &ConsoleFile{Dev: dev, refs: 1, stdin: read, stdout: write}
}

func (cf *ConsoleFile) Read(dst []uint8) (int, defs.Err_t) {
	if cf.stdin == nil {
		return 0, defs.EINVAL
	}
	n, err := cf.stdin(dst)
	if err != nil {
		return n, defs.EFAULT
	}
	return n, 0
}

func (cf *ConsoleFile) Write(src []uint8) (int, defs.Err_t) {
	if cf.stdout == nil {
		return 0, defs.EINVAL
	}
	n, err := cf.stdout(src)
	if err != nil {
		return n, defs.EFAULT
	}
	return n, 0
}

func (cf *ConsoleFile) Reopen() defs.Err_t {
	cf.Lock()
	cf.refs++
	cf.Unlock()
	return 0
}

func (cf *ConsoleFile) Close() defs.Err_t {
	cf.Lock()
	defer cf.Unlock()
	cf.refs--
	return 0
}
