package processes

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/spf13/cast"

	"github.com/kbukum/flowkit/algo"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// Comparisons accepted by the filter process's "op" key.
const (
	OpEq   = "eq"
	OpNe   = "ne"
	OpLt   = "lt"
	OpLe   = "le"
	OpGt   = "gt"
	OpGe   = "ge"
	OpEven = "even"
	OpOdd  = "odd"
)

// TypeWindow is the port type of the windows the sliding process emits.
var TypeWindow = algo.TypeName[[]any]()

// Filter forwards the numeric data on "datum" that satisfy a comparison
// against "value". Data that fail it are dropped and the step pushes
// nothing. Both keys are tunable.
type Filter struct {
	keep atomic.Pointer[func(float64) bool]
}

// Configure implements process.Impl.
func (f *Filter) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "op", Default: OpNe, Description: "eq, ne, lt, le, gt, ge, even or odd", Tunable: true})
	c.DeclareConfig(process.ConfigKey{Key: "value", Default: "0", Description: "operand of the comparison", Tunable: true})
	typ := process.FlowDependent("datum")
	if err := c.AddInput(process.PortSpec{Name: "datum", Type: typ, Flags: process.FlagRequired}); err != nil {
		return err
	}
	if err := c.AddOutput(process.PortSpec{Name: "datum", Type: typ, Flags: process.FlagRequired | process.FlagShared}); err != nil {
		return err
	}
	return f.Reconfigure(c)
}

// Reconfigure rebuilds the predicate.
func (f *Filter) Reconfigure(c *process.Configuration) error {
	op, err := c.String("op")
	if err != nil {
		return err
	}
	v, err := c.Float("value")
	if err != nil {
		return err
	}
	keep, err := comparison(op, v)
	if err != nil {
		return errors.InvalidConfigurationValue(c.Name(), "op", op, err.Error())
	}
	f.keep.Store(&keep)
	return nil
}

func comparison(op string, v float64) (func(float64) bool, error) {
	switch op {
	case OpEq:
		return func(x float64) bool { return x == v }, nil
	case OpNe:
		return func(x float64) bool { return x != v }, nil
	case OpLt:
		return func(x float64) bool { return x < v }, nil
	case OpLe:
		return func(x float64) bool { return x <= v }, nil
	case OpGt:
		return func(x float64) bool { return x > v }, nil
	case OpGe:
		return func(x float64) bool { return x >= v }, nil
	case OpEven:
		return func(x float64) bool { return x == float64(int64(x)) && int64(x)%2 == 0 }, nil
	case OpOdd:
		return func(x float64) bool { return x == float64(int64(x)) && int64(x)%2 != 0 }, nil
	}
	return nil, fmt.Errorf("unknown comparison")
}

// Step implements process.Impl.
func (f *Filter) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	d := in.Datum("datum")
	if !d.IsData() {
		return nil
	}
	x, err := cast.ToFloat64E(d.Value)
	if err != nil {
		return errors.BadValueCast("datum", fmt.Sprint(d.Value), "float64")
	}
	if !(*f.keep.Load())(x) {
		return nil
	}
	return out.PushDatum("datum", d)
}

// FilterFunc forwards the values on "in" for which fn returns true. Ports
// are typed after T.
type FilterFunc[T any] struct {
	fn func(T) bool
}

// NewFilterFunc creates a predicate process.
func NewFilterFunc[T any](fn func(T) bool) *FilterFunc[T] {
	return &FilterFunc[T]{fn: fn}
}

// Configure implements process.Impl.
func (f *FilterFunc[T]) Configure(c *process.Configuration) error {
	if err := c.AddInput(process.PortSpec{Name: "in", Type: algo.TypeName[T](), Flags: process.FlagRequired}); err != nil {
		return err
	}
	return c.AddOutput(process.PortSpec{Name: "out", Type: algo.TypeName[T](), Flags: process.FlagRequired | process.FlagShared})
}

// Step implements process.Impl.
func (f *FilterFunc[T]) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	v, ok, err := process.ValueAs[T](in, "in")
	if err != nil || !ok || !f.fn(v) {
		return err
	}
	return out.Push("out", v)
}

// Sliding emits every run of "size" consecutive data from "datum" as a
// window on "window", advancing by one datum per step. Nothing is emitted
// until the first window fills. A flush starts a new window.
type Sliding struct {
	size int
	buf  []any
}

// Configure implements process.Impl.
func (s *Sliding) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "size", Default: "2", Description: "data per window"})
	if err := c.AddInput(process.PortSpec{Name: "datum", Type: process.TypeAny, Flags: process.FlagRequired}); err != nil {
		return err
	}
	if err := c.AddOutput(process.PortSpec{
		Name: "window", Type: TypeWindow, Flags: process.FlagRequired | process.FlagShared,
		Description: "the last size data, oldest first",
	}); err != nil {
		return err
	}
	var err error
	if s.size, err = c.Int("size"); err != nil {
		return err
	}
	if s.size < 1 {
		return errors.InvalidConfigurationValue(c.Name(), "size", strconv.Itoa(s.size), "must be at least 1")
	}
	return nil
}

// Init empties the window.
func (s *Sliding) Init(context.Context) error {
	s.buf = s.buf[:0]
	return nil
}

// Flush empties the window.
func (s *Sliding) Flush(context.Context) error {
	s.buf = s.buf[:0]
	return nil
}

// Step implements process.Impl.
func (s *Sliding) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	d := in.Datum("datum")
	if !d.IsData() {
		return nil
	}
	if len(s.buf) == s.size {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:s.size-1]
	}
	s.buf = append(s.buf, d.Value)
	if len(s.buf) < s.size {
		return nil
	}
	return out.Push("window", append([]any(nil), s.buf...))
}
