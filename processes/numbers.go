package processes

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// Numbers emits start, start+1, ... end-1 on "number" and then completes.
type Numbers struct {
	start, end int
	next       int
}

// Configure implements process.Impl.
func (n *Numbers) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "start", Default: "0", Description: "first value emitted"})
	c.DeclareConfig(process.ConfigKey{Key: "end", Default: "100", Description: "value at which to stop (exclusive)"})
	if err := c.AddOutput(process.PortSpec{
		Name: "number", Type: TypeInt, Flags: process.FlagRequired | process.FlagShared,
		Description: "the sequence",
	}); err != nil {
		return err
	}

	var err error
	if n.start, err = c.Int("start"); err != nil {
		return err
	}
	if n.end, err = c.Int("end"); err != nil {
		return err
	}
	if n.end < n.start {
		return errors.InvalidConfigurationValue(c.Name(), "end", strconv.Itoa(n.end), "must not be less than start")
	}
	return nil
}

// Init rewinds the sequence.
func (n *Numbers) Init(context.Context) error {
	n.next = n.start
	return nil
}

// Step implements process.Impl.
func (n *Numbers) Step(_ context.Context, _ *process.Inputs, out *process.Outputs) error {
	if n.next >= n.end {
		out.Complete()
		return nil
	}
	n.next++
	return out.Push("number", n.next-1)
}

// Multiplication multiplies "factor1" by "factor2" onto "product".
type Multiplication struct{}

// Configure implements process.Impl.
func (Multiplication) Configure(c *process.Configuration) error {
	for _, name := range []string{"factor1", "factor2"} {
		if err := c.AddInput(process.PortSpec{Name: name, Type: TypeInt, Flags: process.FlagRequired}); err != nil {
			return err
		}
	}
	return c.AddOutput(process.PortSpec{Name: "product", Type: TypeInt, Flags: process.FlagRequired | process.FlagShared})
}

// Step implements process.Impl.
func (Multiplication) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	a, ok1, err := process.ValueAs[int](in, "factor1")
	if err != nil {
		return err
	}
	b, ok2, err := process.ValueAs[int](in, "factor2")
	if err != nil {
		return err
	}
	if !ok1 || !ok2 {
		return nil
	}
	return out.Push("product", a*b)
}

// Scale multiplies "number" by the tunable "factor".
type Scale struct {
	factor atomic.Int64
}

// Configure implements process.Impl.
func (s *Scale) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "factor", Default: "1", Description: "multiplier", Tunable: true})
	if err := c.AddInput(process.PortSpec{Name: "number", Type: TypeInt, Flags: process.FlagRequired}); err != nil {
		return err
	}
	if err := c.AddOutput(process.PortSpec{Name: "number", Type: TypeInt, Flags: process.FlagRequired | process.FlagShared}); err != nil {
		return err
	}
	return s.Reconfigure(c)
}

// Reconfigure reads the factor again.
func (s *Scale) Reconfigure(c *process.Configuration) error {
	f, err := c.Int("factor")
	if err != nil {
		return err
	}
	s.factor.Store(int64(f))
	return nil
}

// Step implements process.Impl.
func (s *Scale) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	v, ok, err := process.ValueAs[int](in, "number")
	if err != nil || !ok {
		return err
	}
	return out.Push("number", v*int(s.factor.Load()))
}
