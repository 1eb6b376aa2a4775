// Package processes provides built-in process types.
//
// The registered types are numbers (an integer source), multiplication,
// scale, passthrough, take, throttle, filter, sliding, print, collect and
// algorithm, which delegates to a registered algo.Computer and retries it
// per its retry.* keys. Library code can also wrap plain Go values:
// FromSeq and FromSlice build sources, NewFunc turns a function into a
// one-in one-out process and NewFilterFunc into a predicate.
//
//	src := process.New("words", "seq", nil, processes.FromSlice("a", "bb"))
//	n := process.New("len", "func", nil, processes.NewFunc(func(_ context.Context, s string) (int, error) {
//	    return len(s), nil
//	}))
package processes
