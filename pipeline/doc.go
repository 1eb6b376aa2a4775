// Package pipeline assembles processes and edges into a validated graph.
//
// A Pipeline is mutable until Setup: processes are added, connected and
// disconnected, and every connection is type-checked as it is made. Wildcard
// (_any) ports take the type of their peer; flow-dependent ports of one
// process resolve together. A failed Connect leaves the pipeline unchanged.
//
// Setup checks that every connection is concretely typed, that required
// ports are connected and that the graph is acyclic once feedback
// connections are left out. It then initializes processes in topological
// order and primes feedback edges with one empty datum. After Setup the
// pipeline is immutable until Reset.
//
// # Usage
//
//	p := pipeline.New(pipeline.WithLogger(log))
//	_ = p.AddProcess(src)
//	_ = p.AddProcess(sink)
//	if err := p.Connect("src", "number", "sink", "value"); err != nil {
//	    return err
//	}
//	if err := p.Setup(ctx); err != nil {
//	    return err
//	}
//	defer p.Shutdown(ctx)
package pipeline
