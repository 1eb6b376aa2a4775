// Package process defines processes: named units with typed ports, a
// configuration block and a step operation.
//
// A Process wraps an Impl. The impl declares its ports and configuration
// keys in Configure and computes in Step:
//
//	func (d *double) Configure(c *process.Configuration) error {
//		if err := c.AddInput(process.PortSpec{Name: "in", Type: "int", Flags: process.FlagRequired}); err != nil {
//			return err
//		}
//		return c.AddOutput(process.PortSpec{Name: "out", Type: "int"})
//	}
//
//	func (d *double) Step(ctx context.Context, in *process.Inputs, out *process.Outputs) error {
//		v, ok, err := process.ValueAs[int](in, "in")
//		if err != nil || !ok {
//			return err
//		}
//		return out.Push("out", 2*v)
//	}
//
// Ports carry a type tag: a concrete name, TypeAny, or a flow-dependent tag
// shared by ports whose types resolve together. Outputs a step does not push
// receive an empty marker.
package process
