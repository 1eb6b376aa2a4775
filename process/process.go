package process

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
)

// Reserved configuration keys stamped on every process.
const (
	KeyType = "_type"
	KeyName = "_name"
)

// Impl is the computation behind a process. Configure declares ports and
// configuration keys and validates configuration; Step consumes one set of
// inputs and pushes at most one datum per output.
type Impl interface {
	Configure(c *Configuration) error
	Step(ctx context.Context, in *Inputs, out *Outputs) error
}

// Initializer is implemented by impls that allocate resources once the
// pipeline is wired.
type Initializer interface {
	Init(ctx context.Context) error
}

// Flusher is implemented by impls that keep state tied to a stream segment.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Finalizer is implemented by impls that release resources on shutdown.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// Reconfigurer is implemented by impls that accept tunable configuration
// changes after init.
type Reconfigurer interface {
	Reconfigure(c *Configuration) error
}

// Readier is implemented by impls that are not always able to step even
// when their inputs are available. Cooperative schedulers skip a process
// whose impl reports false.
type Readier interface {
	Ready() bool
}

// Process is a named unit with declared ports, a configuration block and a
// lifecycle: created, configured, initialized, running, complete, finalized.
type Process struct {
	name  string
	typ   string
	block *config.Block
	impl  Impl

	mu        sync.Mutex
	state     State
	quiescent bool
	inputs    []PortSpec
	outputs   []PortSpec
	keys      []ConfigKey
	locked    []string

	steps atomic.Int64
}

// New creates a process in the created state. The block is stamped with the
// process name and type, both read-only.
func New(name, typ string, block *config.Block, impl Impl) *Process {
	if block == nil {
		block = config.NewBlock()
	}
	for k, v := range map[string]string{KeyName: name, KeyType: typ} {
		if !block.IsReadOnly(k) {
			_ = block.Set(k, v)
			block.MarkReadOnly(k)
		}
	}
	return &Process{name: name, typ: typ, block: block, impl: impl}
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Type returns the process type.
func (p *Process) Type() string { return p.typ }

// Config returns the process configuration block.
func (p *Process) Config() *config.Block { return p.block }

// Impl returns the computation behind the process.
func (p *Process) Impl() Impl { return p.impl }

// State returns the lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Quiescent reports whether the last step emitted only empty markers.
func (p *Process) Quiescent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quiescent
}

// SetQuiescent records whether the last step emitted only empty markers.
func (p *Process) SetQuiescent(q bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quiescent = q
}

// Steps returns how many times the computation has been invoked.
func (p *Process) Steps() int64 { return p.steps.Load() }

// InputPorts returns the declared input ports in declaration order.
func (p *Process) InputPorts() []PortSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PortSpec(nil), p.inputs...)
}

// OutputPorts returns the declared output ports in declaration order.
func (p *Process) OutputPorts() []PortSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PortSpec(nil), p.outputs...)
}

// InputPort looks up a declared input port.
func (p *Process) InputPort(name string) (PortSpec, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return findPort(p.inputs, name)
}

// OutputPort looks up a declared output port.
func (p *Process) OutputPort(name string) (PortSpec, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return findPort(p.outputs, name)
}

// ConfigKeys returns the declared configuration keys.
func (p *Process) ConfigKeys() []ConfigKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConfigKey(nil), p.keys...)
}

func findPort(ports []PortSpec, name string) (PortSpec, bool) {
	for _, s := range ports {
		if s.Name == name {
			return s, true
		}
	}
	return PortSpec{}, false
}

func (p *Process) invalidState(op string, s State) error {
	return errors.InvalidState(p.name, op, s.String())
}

// Configure runs the impl's configuration, declaring ports and keys.
// A declared required key that is absent fails with unknown-configuration-value.
func (p *Process) Configure() error {
	p.mu.Lock()
	if p.state != StateCreated {
		s := p.state
		p.mu.Unlock()
		return p.invalidState("configure", s)
	}
	p.inputs, p.outputs, p.keys = nil, nil, nil
	p.mu.Unlock()

	c := &Configuration{p: p}
	if err := p.impl.Configure(c); err != nil {
		return p.configError(err)
	}
	for _, k := range p.ConfigKeys() {
		if k.Required && !p.block.Has(k.Key) {
			return errors.UnknownConfigurationValue(p.name, k.Key)
		}
	}

	p.mu.Lock()
	p.state = StateConfigured
	p.mu.Unlock()
	return nil
}

// configError makes sure a configuration failure names the process.
func (p *Process) configError(err error) error {
	if e, ok := errors.As(err); ok {
		if e.Process == "" {
			e.Process = p.name
		}
		return e
	}
	return errors.InvalidConfiguration(p.name, err.Error()).WithCause(err)
}

// Init initializes the impl and locks every non-tunable declared key.
func (p *Process) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateConfigured {
		s := p.state
		p.mu.Unlock()
		return p.invalidState("init", s)
	}
	p.mu.Unlock()

	if in, ok := p.impl.(Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return err
		}
	}
	var locked []string
	for _, k := range p.ConfigKeys() {
		if !k.Tunable && !p.block.IsReadOnly(k.Key) {
			p.block.MarkReadOnly(k.Key)
			locked = append(locked, k.Key)
		}
	}

	p.mu.Lock()
	p.locked = locked
	p.state = StateInitialized
	p.quiescent = false
	p.mu.Unlock()
	return nil
}

// Step invokes the computation once. Only valid once initialized and
// before completion.
func (p *Process) Step(ctx context.Context, in *Inputs, out *Outputs) error {
	p.mu.Lock()
	if p.state != StateInitialized && p.state != StateRunning {
		s := p.state
		p.mu.Unlock()
		return p.invalidState("step", s)
	}
	p.state = StateRunning
	p.mu.Unlock()

	p.steps.Add(1)
	return p.impl.Step(ctx, in, out)
}

// Flush hands a flush marker to the impl, if it keeps segment state.
func (p *Process) Flush(ctx context.Context) error {
	if f, ok := p.impl.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Ready reports whether the impl is able to step.
func (p *Process) Ready() bool {
	if r, ok := p.impl.(Readier); ok {
		return r.Ready()
	}
	return true
}

// MarkComplete moves a running (or initialized) process to complete.
func (p *Process) MarkComplete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateComplete:
		return nil
	case StateInitialized, StateRunning:
		p.state = StateComplete
		return nil
	default:
		return p.invalidState("complete", p.state)
	}
}

// Finalize releases the impl's resources. It is a no-op for processes that
// were never initialized or are already finalized.
func (p *Process) Finalize(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.initialized() {
		p.mu.Unlock()
		return nil
	}
	p.state = StateFinalized
	p.mu.Unlock()

	if f, ok := p.impl.(Finalizer); ok {
		return f.Finalize(ctx)
	}
	return nil
}

// Reset returns a finalized or configured process to configured and
// unlocks the keys Init locked.
func (p *Process) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateConfigured, StateFinalized:
		for _, k := range p.locked {
			p.block.ClearReadOnly(k)
		}
		p.locked = nil
		p.state = StateConfigured
		p.quiescent = false
		p.steps.Store(0)
		return nil
	default:
		return p.invalidState("reset", p.state)
	}
}

// Reconfigure applies new values to the process block and hands them to the
// impl. Values of locked keys cannot change.
func (p *Process) Reconfigure(ctx context.Context, block *config.Block) error {
	p.mu.Lock()
	s := p.state
	p.mu.Unlock()
	if !s.initialized() && s != StateConfigured {
		return p.invalidState("reconfigure", s)
	}

	for _, key := range block.Keys() {
		v, _ := block.Get(key)
		if err := p.block.Set(key, v); err != nil {
			if e, ok := errors.As(err); ok {
				e.Process = p.name
			}
			return err
		}
	}
	if r, ok := p.impl.(Reconfigurer); ok {
		c := &Configuration{p: p, frozen: true}
		if err := r.Reconfigure(c); err != nil {
			return p.configError(err)
		}
	}
	return nil
}

func (p *Process) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.typ)
}
