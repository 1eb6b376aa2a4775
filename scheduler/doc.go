// Package scheduler drives a set-up pipeline to completion.
//
// Every policy shares one step algorithm. For each process it pops one datum
// per connected input edge in port declaration order. A complete datum on a
// required input (or on every input, when none is required) completes the
// process without running it: complete is pushed on every output and the
// inputs are released. A flush datum calls the process's flush handling
// first. After the step, outputs that were not pushed receive empty, or
// flush on a flush step. A step error ends the run; it is returned wrapped
// as step-failed with the process name.
//
// Two policies are built in:
//
//   - sync: one goroutine sweeps the processes in topological order and steps
//     those whose inputs are ready and whose outputs have room.
//   - thread_per_process: one goroutine per process, each blocking on its own
//     edges (golang.org/x/sync/errgroup).
//
// A run ends once every terminal process has completed. Processes still
// running are then completed and the pipeline is finalized in reverse
// topological order. Stop makes every process complete at its next step
// boundary; the run then ends with a stopped error.
//
//	reg := scheduler.NewRegistry()
//	s, err := reg.Create("thread_per_process", p, scheduler.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	return s.Run(ctx)
package scheduler
