package caller

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// Callerdump prints the call stack starting at the given depth. Function
// names are passed through demangle.Filter first: most frames are plain Go
// names and come back unchanged, but a frame reached through a cgo device
// driver may carry a mangled C++ name, and this keeps the dump readable
// either way.
//
// Parameters:
//
//	start - stack frame to begin printing.
func Callerdump(start int) {
	i := start
	s := ""
	for {
		pc, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		name := f
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = demangle.Filter(fn.Name())
		}
		if s == "" {
			s = fmt.Sprintf("%s (%s:%d)\n", name, f, l)
		} else {
			s += fmt.Sprintf("\t<-%s (%s:%d)\n", name, f, l)
		}
	}
	fmt.Printf("%s", s)
}

// CapturePCs records up to n of the calling goroutine's program counters,
// skipping the given number of innermost frames, for later rendering by
// FormatPCs. This is the Go analogue of getcallerpcs() walking a blocked
// task's saved ebp chain: the PCs have to be captured while the goroutine
// that owns the stack is still running, since nothing else can walk a
// parked goroutine's frames from the outside.
func CapturePCs(skip, n int) []uintptr {
	pcs := make([]uintptr, n)
	got := runtime.Callers(skip, pcs)
	return pcs[:got]
}

// FormatPCs renders a PC slice captured earlier by CapturePCs the same way
// Callerdump renders a live stack, passing each frame's function name
// through demangle.Filter. Returns "" for an empty slice.
func FormatPCs(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	s := ""
	for {
		fr, more := frames.Next()
		name := demangle.Filter(fr.Function)
		if s == "" {
			s = fmt.Sprintf("%s (%s:%d)", name, fr.File, fr.Line)
		} else {
			s += fmt.Sprintf(" <- %s (%s:%d)", name, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return s
}

// a type for detecting the first call from each distinct path of ancestor
// callers.
// Distinct_caller_t tracks whether a call chain has been seen before.
// Fields are protected by the embedded mutex.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	did     map[uintptr]bool
	Whitel  map[string]bool
}

// returns a poor-man's hash of the given RIP values, which is probably unique.
func (dc *Distinct_caller_t) _pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("d'oh")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Len returns the number of unique caller paths recorded.
func (dc *Distinct_caller_t) Len() int {
	dc.Lock()
	ret := len(dc.did)
	dc.Unlock()
	return ret
}

// Distinct reports whether the current call chain is new.
// It returns true along with a formatted stack trace when not seen before.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}

	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, 30)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			panic("no")
		}
	}
	h := dc._pchash(pcs)
	if ok := dc.did[h]; !ok {
		dc.did[h] = true
		frames := runtime.CallersFrames(pcs)
		fs := ""
		// check for white-listed caller
		for {
			fr, more := frames.Next()
			if ok := dc.Whitel[fr.Function]; ok {
				return false, ""
			}
			name := demangle.Filter(fr.Function)
			if fs == "" {
				fs = fmt.Sprintf("%v (%v:%v)\n", name,
					fr.File, fr.Line)
			} else {
				fs += fmt.Sprintf("\t%v (%v:%v)\n", name,
					fr.File, fr.Line)
			}
			if !more || fr.Function == "runtime.goexit" {
				break
			}
		}
		return true, fs
	}
	return false, ""
}
