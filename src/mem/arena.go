package mem

import "sync"

/// Arena_t is a process-local stand-in for the real physical page
/// allocator, which sits outside this core's scope. It hands
/// out refcounted page-sized frames from the Go heap instead of physical
/// RAM, which is all the task/thread core actually needs to exercise
/// fork, copy-on-write and mprotect end to end in tests. A real port would
/// replace Arena_t with frames obtained from the hardware frame allocator;
/// nothing else in this module would need to change, since everything else
/// only calls Page_i.
type Arena_t struct {
	mu    sync.Mutex
	pages map[Pa_t]*entry_t
	next  Pa_t
}

type entry_t struct {
	pg  *Pg_t
	ref int32
}

/// NewArena returns an empty Arena_t ready for use.
func NewArena() *Arena_t {
	return &Arena_t{
		pages: make(map[Pa_t]*entry_t),
		next:  Pa_t(PGSIZE), // keep 0 reserved as "no page"
	}
}

/// Refpg_new allocates a zeroed page and returns it along with a synthetic
/// physical address and true. It never returns false -- this stand-in
/// never runs out of host memory the way a fixed-size physical arena
/// would.
func (a *Arena_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	return a.alloc()
}

/// Refpg_new_nozero is identical to Refpg_new; there is no uninitialized
/// fast path worth modeling here.
func (a *Arena_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return a.alloc()
}

func (a *Arena_t) alloc() (*Pg_t, Pa_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pa := a.next
	a.next += Pa_t(PGSIZE)
	pg := &Pg_t{}
	a.pages[pa] = &entry_t{pg: pg, ref: 1}
	return pg, pa, true
}

/// Refcnt returns the current reference count of the page at p_pg, or 0 if
/// the page is unknown.
func (a *Arena_t) Refcnt(p_pg Pa_t) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.pages[p_pg]
	if !ok {
		return 0
	}
	return int(e.ref)
}

/// Dmap returns the page backing p_pg. It panics if p_pg is unknown, the
/// same contract the real direct map gives a caller that indexes outside
/// physical memory.
func (a *Arena_t) Dmap(p_pg Pa_t) *Pg_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.pages[p_pg]
	if !ok {
		panic("mem: Dmap of unknown page")
	}
	return e.pg
}

/// Refup increments the reference count of p_pg, used when a page becomes
/// shared under copy-on-write.
func (a *Arena_t) Refup(p_pg Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.pages[p_pg]
	if !ok {
		panic("mem: Refup of unknown page")
	}
	e.ref++
}

/// Refdown decrements the reference count of p_pg and frees it once it
/// reaches zero, returning true when the page was freed.
func (a *Arena_t) Refdown(p_pg Pa_t) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.pages[p_pg]
	if !ok {
		panic("mem: Refdown of unknown page")
	}
	e.ref--
	if e.ref <= 0 {
		delete(a.pages, p_pg)
		return true
	}
	return false
}
