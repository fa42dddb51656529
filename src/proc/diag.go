package proc

import "caller"

/// invariantPanic prints the caller chain leading to an impossible state
/// via caller.Callerdump, then panics with msg. Used at the same
/// can't-happen checks the source guards with a bare panic() -- the
/// extra dump exists because by the time one of these fires, the task
/// table is usually in no state to be inspected any other way.
func invariantPanic(msg string) {
	caller.Callerdump(2)
	panic(msg)
}
