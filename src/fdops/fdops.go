// Package fdops defines the interface an open file description implements
// so that fd.Fd_t can hold any kind of backing object -- a console device,
// a pipe, a regular file -- without the task/thread core needing to know
// which.
package fdops

import "defs"

/// Fdops_i is the set of operations a file description must support.
/// Reopen is called when a descriptor is duplicated (fork, clone, dup)
/// so the backing object can bump whatever refcount it keeps; Close is
/// called each time one descriptor referring to it is closed.
type Fdops_i interface {
	Read(dst []uint8) (int, defs.Err_t)
	Write(src []uint8) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
}
