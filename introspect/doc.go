// Package introspect serves a read-only HTTP view of a pipeline: its
// processes, ports, edges, clusters and the run driving it.
//
//	srv := introspect.NewServer(":8081", introspect.Handler(p, introspect.WithScheduler(s)), log)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop(context.Background())
package introspect
