package scheduler

import (
	"context"
	"reflect"

	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/pipeline"
	"github.com/kbukum/flowkit/process"
)

type inputPort struct {
	name     string
	required bool
	edges    []pipeline.InputEdge
}

type outputPort struct {
	name string
	edge *edge.Edge
}

// task binds one process to its edges and carries out the step algorithm.
type task struct {
	proc        *process.Process
	inputs      []inputPort
	outputs     []outputPort
	outPorts    []string
	hasRequired bool
	terminal    bool
	metrics     *observability.Metrics
	log         *logger.Logger
}

func newTask(p *pipeline.Pipeline, proc *process.Process, o *options) *task {
	t := &task{proc: proc, metrics: o.metrics, log: o.log}
	edges := p.InputEdgesForProcess(proc.Name())
	for _, spec := range proc.InputPorts() {
		if spec.Required() {
			t.hasRequired = true
		}
		if len(edges[spec.Name]) == 0 {
			continue
		}
		t.inputs = append(t.inputs, inputPort{name: spec.Name, required: spec.Required(), edges: edges[spec.Name]})
	}
	for _, spec := range proc.OutputPorts() {
		e, _ := p.OutputEdgesForPort(proc.Name(), spec.Name)
		t.outputs = append(t.outputs, outputPort{name: spec.Name, edge: e})
		t.outPorts = append(t.outPorts, spec.Name)
	}
	return t
}

func (t *task) Name() string { return t.proc.Name() }

func (t *task) completed() bool {
	s := t.proc.State()
	return s == process.StateComplete || s == process.StateFinalized
}

// inputsDone reports, without blocking, whether the next step would
// complete the process: a required input is drained and complete, or every
// input is when none is required.
func (t *task) inputsDone() bool {
	if len(t.inputs) == 0 {
		return false
	}
	all := true
	for _, in := range t.inputs {
		for _, ie := range in.edges {
			done := ie.Edge.Done(ie.To)
			if done && in.required {
				return true
			}
			all = all && done
		}
	}
	return all && !t.hasRequired
}

// eligible reports whether Step would run without blocking.
func (t *task) eligible() bool {
	if t.inputsDone() {
		return true
	}
	if !t.inputsReady() {
		return false
	}
	for _, out := range t.outputs {
		if out.edge != nil && !out.edge.HasSpace() {
			return false
		}
	}
	return t.proc.Ready()
}

// await blocks until every input edge can be popped, or until the inputs
// alone complete the process, which it reports. It wakes on a change to any
// input edge, so a required input completing is never stuck behind an edge
// that stays empty.
func (t *task) await(wait context.Context) (bool, error) {
	var cases []reflect.SelectCase
	for {
		if t.inputsDone() {
			return true, nil
		}
		if t.inputsReady() {
			return false, nil
		}
		if cases != nil {
			if chosen, _, _ := reflect.Select(cases); chosen == 0 {
				return false, wait.Err()
			}
		}
		// Channels are taken before the next check so no change is missed.
		cases = append(cases[:0], reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(wait.Done())})
		for _, in := range t.inputs {
			for _, ie := range in.edges {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ie.Edge.Changed())})
			}
		}
	}
}

func (t *task) inputsReady() bool {
	for _, in := range t.inputs {
		for _, ie := range in.edges {
			if !ie.Edge.Ready(ie.To) {
				return false
			}
		}
	}
	return true
}

// Step pops one datum per input edge, runs the process and pushes one datum
// per connected output. A drained, complete required input completes the
// process before any other edge is touched. ctx is handed to the process;
// wait bounds blocking on edges. It reports whether the process completed.
func (t *task) Step(ctx, wait context.Context) (bool, error) {
	if t.completed() {
		return true, nil
	}
	done, err := t.await(wait)
	if err != nil {
		return false, err
	}
	if done {
		t.complete()
		return true, nil
	}

	in := process.NewInputs()
	in.SetPeeker(t.peek)
	completing := false
	for _, ip := range t.inputs {
		for _, ie := range ip.edges {
			d, err := ie.Edge.Pop(wait, ie.To)
			if err != nil {
				return false, err
			}
			if d.IsComplete() && ip.required {
				completing = true
			}
			in.Add(ip.name, d)
		}
	}
	if !completing && !t.hasRequired && len(t.inputs) > 0 && allComplete(in) {
		completing = true
	}
	if completing {
		t.complete()
		return true, nil
	}

	if in.Flushed() {
		if err := t.proc.Flush(ctx); err != nil {
			return false, errors.StepFailed(t.Name(), err)
		}
	}

	out := process.NewOutputs(t.Name(), t.outPorts)
	if err := t.proc.Step(ctx, in, out); err != nil {
		return false, errors.StepFailed(t.Name(), err)
	}
	if out.Completed() {
		t.complete()
		return true, nil
	}

	fill := edge.Empty()
	if in.Flushed() {
		fill = edge.Flush()
	}
	quiescent := true
	for _, o := range t.outputs {
		d, ok := out.Datum(o.name)
		if !ok {
			d = fill
		}
		if d.IsData() {
			quiescent = false
		}
		if o.edge == nil {
			continue
		}
		if err := o.edge.Push(wait, d); err != nil {
			return false, err
		}
		if t.metrics != nil {
			t.metrics.RecordDatum(ctx, t.Name(), o.name, d.Kind.String())
		}
	}
	t.proc.SetQuiescent(quiescent)
	return false, nil
}

func allComplete(in *process.Inputs) bool {
	for _, port := range in.Ports() {
		for _, d := range in.Datums(port) {
			if !d.IsComplete() {
				return false
			}
		}
	}
	return true
}

// complete pushes complete on every output, releases the inputs and marks
// the process complete. Complete pushes never block.
func (t *task) complete() {
	if t.completed() {
		return
	}
	for _, o := range t.outputs {
		if o.edge != nil {
			_ = o.edge.Push(context.Background(), edge.Complete())
		}
	}
	for _, in := range t.inputs {
		for _, ie := range in.edges {
			ie.Edge.Abandon(ie.To)
		}
	}
	_ = t.proc.MarkComplete()
	t.log.Debug("process complete", logger.Fields(logger.FieldProcess, t.Name(), "steps", t.proc.Steps()))
}

func (t *task) peek(port string) (edge.Datum, bool) {
	for _, in := range t.inputs {
		if in.name == port && len(in.edges) > 0 {
			return in.edges[0].Edge.TryPeek(in.edges[0].To)
		}
	}
	return edge.Datum{}, false
}
