package processes

import (
	"context"
	"iter"

	"github.com/kbukum/flowkit/algo"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
	"github.com/kbukum/flowkit/resilience"
)

// Configuration keys of the algorithm process.
const (
	KeyAlgorithmGroup = "algorithm.group"
	KeyAlgorithmType  = "algorithm.type"
)

// Algorithm applies a registered algorithm to every datum on "in" and
// pushes the result on "out". The algorithm is chosen by algorithm.group
// and algorithm.type and configured with the rest of the algorithm subtree.
// Port types follow the algorithm's input and output types. A failing
// computation is retried as configured under "retry".
type Algorithm struct {
	algos  *algo.Registry
	impl   algo.Dynamic
	policy resilience.Policy
}

// NewAlgorithm creates an algorithm process resolving against algos.
func NewAlgorithm(algos *algo.Registry) *Algorithm {
	return &Algorithm{algos: algos}
}

// Configure implements process.Impl.
func (a *Algorithm) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: KeyAlgorithmGroup, Required: true, Description: "algorithm group"})
	c.DeclareConfig(process.ConfigKey{Key: KeyAlgorithmType, Required: true, Description: "algorithm name within the group"})
	group, err := c.String(KeyAlgorithmGroup)
	if err != nil {
		return err
	}
	name, err := c.String(KeyAlgorithmType)
	if err != nil {
		return err
	}
	if a.algos == nil {
		return errors.NoSuchAlgorithm(group, name)
	}

	created, err := a.algos.Create(group, name, c.Block().Subblock("algorithm"))
	if err != nil {
		return err
	}
	d, ok := created.(algo.Dynamic)
	if !ok {
		return errors.InvalidConfiguration(c.Name(), "algorithm "+group+"/"+name+" has no typed compute operation")
	}
	a.impl = d

	c.DeclareConfig(process.ConfigKey{Key: "retry." + resilience.KeyAttempts, Default: "1", Description: "calls per datum, the first one included"})
	c.DeclareConfig(process.ConfigKey{Key: "retry." + resilience.KeyBackoff, Default: "100ms", Description: "wait before the first retry"})
	if a.policy, err = resilience.PolicyFromBlock(c.Name(), c.Block().Subblock("retry")); err != nil {
		return err
	}

	if err := c.AddInput(process.PortSpec{Name: "in", Type: d.InputType(), Flags: process.FlagRequired}); err != nil {
		return err
	}
	return c.AddOutput(process.PortSpec{Name: "out", Type: d.OutputType(), Flags: process.FlagRequired | process.FlagShared})
}

// Step implements process.Impl.
func (a *Algorithm) Step(ctx context.Context, in *process.Inputs, out *process.Outputs) error {
	v, ok := in.Value("in")
	if !ok {
		return nil
	}
	res, err := resilience.Do(ctx, a.policy, func(ctx context.Context) (any, error) {
		return a.impl.Apply(ctx, v)
	})
	if err != nil {
		return err
	}
	return out.Push("out", res)
}

// Func wraps a Go function as a process with one input "in" and one output
// "out", typed after I and O.
type Func[I, O any] struct {
	fn func(ctx context.Context, in I) (O, error)
}

// NewFunc creates a function process.
func NewFunc[I, O any](fn func(ctx context.Context, in I) (O, error)) *Func[I, O] {
	return &Func[I, O]{fn: fn}
}

// Configure implements process.Impl.
func (f *Func[I, O]) Configure(c *process.Configuration) error {
	if err := c.AddInput(process.PortSpec{Name: "in", Type: algo.TypeName[I](), Flags: process.FlagRequired}); err != nil {
		return err
	}
	return c.AddOutput(process.PortSpec{Name: "out", Type: algo.TypeName[O](), Flags: process.FlagRequired | process.FlagShared})
}

// Step implements process.Impl.
func (f *Func[I, O]) Step(ctx context.Context, in *process.Inputs, out *process.Outputs) error {
	v, ok, err := process.ValueAs[I](in, "in")
	if err != nil || !ok {
		return err
	}
	res, err := f.fn(ctx, v)
	if err != nil {
		return err
	}
	return out.Push("out", res)
}

// Seq emits the values of an iterator on "out" and completes when it is
// exhausted. The iterator is restarted on every init.
type Seq[T any] struct {
	seq  iter.Seq[T]
	next func() (T, bool)
	stop func()
}

// FromSeq creates a source process over seq.
func FromSeq[T any](seq iter.Seq[T]) *Seq[T] {
	return &Seq[T]{seq: seq}
}

// FromSlice creates a source process over a fixed list of values.
func FromSlice[T any](values ...T) *Seq[T] {
	return FromSeq(func(yield func(T) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	})
}

// Configure implements process.Impl.
func (s *Seq[T]) Configure(c *process.Configuration) error {
	return c.AddOutput(process.PortSpec{Name: "out", Type: algo.TypeName[T](), Flags: process.FlagRequired | process.FlagShared})
}

// Init starts pulling from the iterator.
func (s *Seq[T]) Init(context.Context) error {
	s.next, s.stop = iter.Pull(s.seq)
	return nil
}

// Step implements process.Impl.
func (s *Seq[T]) Step(_ context.Context, _ *process.Inputs, out *process.Outputs) error {
	v, ok := s.next()
	if !ok {
		out.Complete()
		return nil
	}
	return out.Push("out", v)
}

// Finalize releases the iterator.
func (s *Seq[T]) Finalize(context.Context) error {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	return nil
}
