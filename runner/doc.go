// Package runner runs a pipeline the way a deployed engine does: settings
// choose the scheduler, OTLP telemetry is installed when enabled, the
// introspection endpoint serves while the run lasts, and signals stop the
// run.
//
//	r, err := runner.New(settings, runner.WithSignals())
//	if err != nil {
//	    return err
//	}
//	stats, err := r.Run(ctx, p)
//	fmt.Print(runner.Summary(stats))
package runner
