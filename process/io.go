package process

import (
	"fmt"

	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
)

// Inputs holds the datums popped for one step, keyed by input port. A shared
// input port fed by several edges holds one datum per edge.
type Inputs struct {
	order   []string
	datums  map[string][]edge.Datum
	flushed bool
	peek    func(port string) (edge.Datum, bool)
}

// NewInputs creates an empty input set.
func NewInputs() *Inputs {
	return &Inputs{datums: make(map[string][]edge.Datum)}
}

// Add records a datum popped for port.
func (in *Inputs) Add(port string, d edge.Datum) {
	if _, ok := in.datums[port]; !ok {
		in.order = append(in.order, port)
	}
	in.datums[port] = append(in.datums[port], d)
	if d.Kind == edge.KindFlush {
		in.flushed = true
	}
}

// SetPeeker installs the lookahead used by Peek.
func (in *Inputs) SetPeeker(fn func(port string) (edge.Datum, bool)) {
	in.peek = fn
}

// Ports returns the connected input ports, in declaration order.
func (in *Inputs) Ports() []string {
	return append([]string(nil), in.order...)
}

// Connected reports whether port received a datum this step.
func (in *Inputs) Connected(port string) bool {
	_, ok := in.datums[port]
	return ok
}

// Datum returns the first datum for port, or an empty marker if the port is
// not connected.
func (in *Inputs) Datum(port string) edge.Datum {
	if ds := in.datums[port]; len(ds) > 0 {
		return ds[0]
	}
	return edge.Empty()
}

// Datums returns every datum for port, one per feeding edge.
func (in *Inputs) Datums(port string) []edge.Datum {
	return append([]edge.Datum(nil), in.datums[port]...)
}

// Value returns the payload of the first datum for port, and whether it
// carried data.
func (in *Inputs) Value(port string) (any, bool) {
	d := in.Datum(port)
	if !d.IsData() {
		return nil, false
	}
	return d.Value, true
}

// Flushed reports whether any input carried a flush marker this step.
func (in *Inputs) Flushed() bool { return in.flushed }

// Peek returns the datum that the next step will receive on port, without
// consuming it.
func (in *Inputs) Peek(port string) (edge.Datum, bool) {
	if in.peek == nil {
		return edge.Datum{}, false
	}
	return in.peek(port)
}

// ValueAs returns the payload of port converted to T. ok is false when the
// port carried no data; err is set when the payload is not a T.
func ValueAs[T any](in *Inputs, port string) (v T, ok bool, err error) {
	raw, ok := in.Value(port)
	if !ok {
		return v, false, nil
	}
	v, isT := raw.(T)
	if !isT {
		return v, false, errors.New(errors.KindTypeMismatch,
			fmt.Sprintf("port %q carried %T, want %T", port, raw, v)).
			WithDetail("port", port)
	}
	return v, true, nil
}

// Outputs collects what a step pushes: at most one datum per declared
// output port, or a request to complete.
type Outputs struct {
	process  string
	ports    []string
	pushed   map[string]edge.Datum
	complete bool
}

// NewOutputs creates an output set for the given ports.
func NewOutputs(process string, ports []string) *Outputs {
	return &Outputs{
		process: process,
		ports:   append([]string(nil), ports...),
		pushed:  make(map[string]edge.Datum, len(ports)),
	}
}

// Ports returns the declared output ports.
func (o *Outputs) Ports() []string {
	return append([]string(nil), o.ports...)
}

// Push emits a data value on port.
func (o *Outputs) Push(port string, v any) error {
	return o.PushDatum(port, edge.Data(v))
}

// PushEmpty emits an empty marker on port.
func (o *Outputs) PushEmpty(port string) error {
	return o.PushDatum(port, edge.Empty())
}

// PushDatum emits d on port. Completion goes through Complete instead.
func (o *Outputs) PushDatum(port string, d edge.Datum) error {
	declared := false
	for _, p := range o.ports {
		if p == port {
			declared = true
			break
		}
	}
	if !declared {
		return errors.NoSuchPort(o.process, port)
	}
	if d.Kind == edge.KindComplete {
		return &errors.Error{
			Kind:    errors.KindInvalidState,
			Process: o.process,
			Port:    port,
			Message: "complete is signalled with Outputs.Complete, not pushed on one port",
		}
	}
	if _, dup := o.pushed[port]; dup {
		return &errors.Error{
			Kind:    errors.KindInvalidState,
			Process: o.process,
			Port:    port,
			Message: fmt.Sprintf("port %q pushed twice in one step", port),
		}
	}
	o.pushed[port] = d
	return nil
}

// Complete marks the process as done: every output receives complete and
// the process is not stepped again.
func (o *Outputs) Complete() { o.complete = true }

// Completed reports whether Complete was called.
func (o *Outputs) Completed() bool { return o.complete }

// Datum returns what was pushed on port this step.
func (o *Outputs) Datum(port string) (edge.Datum, bool) {
	d, ok := o.pushed[port]
	return d, ok
}
