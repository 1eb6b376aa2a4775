// Package cluster packages a sub-pipeline as a single process.
//
// A Definition lists the cluster's blocks (config defaults, input forwardings
// and output forwardings) and an Assemble function that adds the internal
// processes and connections. From the outside a cluster behaves like the
// processes it wraps: one outer step feeds one frame through the inner
// pipeline and emits its result.
//
// Config keys of the form "process.key" override the internal process's own
// value. "_cluster.scheduler" picks how the inner pipeline runs: "sync"
// sweeps it from the outer step, "thread_per_process" runs it on its own
// goroutines.
//
//	def := cluster.Definition{
//	    Type: "doubler",
//	    Blocks: []cluster.Block{
//	        cluster.Config("scale.factor", "2", "multiplier"),
//	        cluster.Input("in", "values", process.Addr("scale", "number")),
//	        cluster.Output("out", "scaled values", process.Addr("scale", "number")),
//	    },
//	    Assemble: func(b *cluster.Builder) error {
//	        return b.Add(process.New("scale", "scale", nil, &processes.Scale{}))
//	    },
//	}
//	err := cluster.Register(reg, def)
package cluster
