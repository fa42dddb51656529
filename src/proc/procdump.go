package proc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/pprof/profile"
	"golang.org/x/text/width"

	"caller"
)

/// Procdump is a best-effort diagnostic enumeration of every non-UNUSED
/// task's pid, state and name. It deliberately takes no
/// lock so it remains usable to dump a wedged system; it may therefore
/// observe a torn read of any given slot. Names are normalized through
/// width.Narrow so wide-form characters a task was (mis)named with
/// don't throw off the column alignment of the dump. For a SLEEPING
/// task it also renders the call stack captured at the moment it went
/// to sleep, via caller.FormatPCs -- the source's equivalent walks the
/// blocked task's saved ebp chain with getcallerpcs() and prints the raw
/// return addresses; this prints demangled frame names instead, since
/// that's what a Go stack is good for.
func Procdump(tt *TaskTable_t, out io.Writer) {
	tt.Each(func(t *Task_t) bool {
		if t.State == UNUSED {
			return false
		}
		name := width.Narrow.String(string(t.Name))
		fmt.Fprintf(out, "%d %s %s", t.Pid, t.State.String(), name)
		if t.State == SLEEPING {
			if trace := caller.FormatPCs(t.SleepPCs); trace != "" {
				fmt.Fprintf(out, " %s", trace)
			}
		}
		fmt.Fprintln(out)
		return false
	})
}

/// DumpProfile encodes a point-in-time snapshot of the task table as a
/// pprof profile, one sample per task tagged by its scheduling state,
/// so the state distribution of a live or wedged system can be
/// inspected with standard pprof tooling. Like Procdump, it takes no
/// lock.
func DumpProfile(tt *TaskTable_t, out io.Writer) error {
	stateFn := &profile.Function{ID: 1, Name: "task_state"}
	loc := &profile.Location{ID: 1, Function: []*profile.Function{stateFn}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "tasks", Unit: "count"}},
		Function:   []*profile.Function{stateFn},
		Location:   []*profile.Location{loc},
	}

	tt.Each(func(t *Task_t) bool {
		if t.State == UNUSED {
			return false
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
			Label: map[string][]string{
				"pid":   {fmt.Sprintf("%d", t.Pid)},
				"state": {t.State.String()},
				"name":  {string(t.Name)},
			},
		})
		return false
	})

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return err
	}
	_, err := out.Write(buf.Bytes())
	return err
}
