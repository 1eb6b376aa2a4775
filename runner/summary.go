package runner

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kbukum/flowkit/scheduler"
)

// Summary renders run stats as a table of processes followed by edges.
func Summary(st scheduler.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %s  run %s  scheduler %s  state %s", st.Pipeline, st.RunID, st.Scheduler, st.State)
	if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "  took %s", st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")
	if st.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", st.Error)
	}

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROCESS\tTYPE\tSTATE\tSTEPS")
	for _, p := range st.Processes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Name, p.Type, p.State, p.Steps)
	}
	_ = w.Flush()

	if len(st.Edges) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	w = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EDGE\tCAPACITY\tPUSHED\tMAX DEPTH")
	for _, e := range st.Edges {
		depth := 0
		for _, s := range e.Sinks {
			depth = max(depth, s.MaxDepth)
		}
		capacity := "unbounded"
		if e.Capacity > 0 {
			capacity = fmt.Sprint(e.Capacity)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", e.From, capacity, e.Pushed, depth)
	}
	_ = w.Flush()
	return b.String()
}
