package pipeline

import (
	"fmt"
	"sync"

	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/process"
)

// KeyEdgeCapacity, set on an upstream process, bounds the edges leaving it.
const KeyEdgeCapacity = "_edge.capacity"

// Connection links an output port to an input port. Feedback connections
// close a loop; they are left out of cycle detection and ordering.
type Connection struct {
	From     process.PortAddr `json:"from"`
	To       process.PortAddr `json:"to"`
	Feedback bool             `json:"feedback,omitempty"`
}

func (c Connection) String() string {
	arrow := " -> "
	if c.Feedback {
		arrow = " ~> "
	}
	return c.From.String() + arrow + c.To.String()
}

// Nested is implemented by process impls that run an inner pipeline.
type Nested interface {
	Pipeline() *Pipeline
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithDefaultCapacity sets the capacity of edges whose upstream process does
// not set _edge.capacity. Zero means unbounded.
func WithDefaultCapacity(n int) Option {
	return func(p *Pipeline) { p.defaultCapacity = n }
}

// WithName names the pipeline in logs and introspection.
func WithName(name string) Option {
	return func(p *Pipeline) { p.name = name }
}

// Pipeline owns the processes and edges of one graph. It is mutable until
// Setup, immutable afterwards until Reset.
type Pipeline struct {
	name            string
	log             *logger.Logger
	defaultCapacity int

	mu      sync.RWMutex
	procs   map[string]*process.Process
	order   []string
	conns   []Connection
	edges   map[process.PortAddr]*edge.Edge
	types   typeTable
	topo    []string
	setup   bool
	setupOK bool
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		name:  "pipeline",
		procs: make(map[string]*process.Process),
		edges: make(map[process.PortAddr]*edge.Edge),
		types: make(typeTable),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.OrNop(p.log).WithComponent("pipeline").WithFields(logger.Fields(logger.FieldPipeline, p.name))
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() *logger.Logger { return p.log }

// AddProcess configures proc, if it is still in the created state, and adds it.
func (p *Pipeline) AddProcess(proc *process.Process) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setup {
		return errors.PipelineAlreadySetup("add process")
	}
	if _, dup := p.procs[proc.Name()]; dup {
		return errors.DuplicateProcessName(proc.Name())
	}
	if proc.State() == process.StateCreated {
		if err := proc.Configure(); err != nil {
			return err
		}
	}
	p.procs[proc.Name()] = proc
	p.order = append(p.order, proc.Name())
	p.log.Debug("process added", logger.Fields(logger.FieldProcess, proc.Name(), logger.FieldType, proc.Type()))
	return nil
}

// RemoveProcess removes a process and every connection touching it.
func (p *Pipeline) RemoveProcess(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setup {
		return errors.PipelineAlreadySetup("remove process")
	}
	if _, ok := p.procs[name]; !ok {
		return errors.NoSuchProcess(name)
	}

	kept := p.conns[:0]
	for _, c := range p.conns {
		if c.From.Process == name || c.To.Process == name {
			p.detachLocked(c)
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept

	delete(p.procs, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.retype()
	p.log.Debug("process removed", logger.Fields(logger.FieldProcess, name))
	return nil
}

// Connect links an output port to an input port.
func (p *Pipeline) Connect(upName, upPort, downName, downPort string) error {
	return p.connect(Connection{From: process.Addr(upName, upPort), To: process.Addr(downName, downPort)})
}

// ConnectFeedback links an output port to an input port as a permitted
// feedback loop. The edge is primed with one empty datum at setup.
func (p *Pipeline) ConnectFeedback(upName, upPort, downName, downPort string) error {
	return p.connect(Connection{From: process.Addr(upName, upPort), To: process.Addr(downName, downPort), Feedback: true})
}

func (p *Pipeline) connect(c Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setup {
		return errors.PipelineAlreadySetup("connect")
	}

	up, ok := p.procs[c.From.Process]
	if !ok {
		return errors.NoSuchProcess(c.From.Process)
	}
	down, ok := p.procs[c.To.Process]
	if !ok {
		return errors.NoSuchProcess(c.To.Process)
	}
	upSpec, ok := up.OutputPort(c.From.Port)
	if !ok {
		return errors.NoSuchPort(c.From.Process, c.From.Port)
	}
	downSpec, ok := down.InputPort(c.To.Port)
	if !ok {
		return errors.NoSuchPort(c.To.Process, c.To.Port)
	}

	if err := p.checkFlagsLocked(c, upSpec, downSpec); err != nil {
		return err
	}
	types, err := p.planTypes(p.types, p.conns, c)
	if err != nil {
		return err
	}

	e := p.edges[c.From]
	if e == nil {
		capacity, err := p.capacityFor(up)
		if err != nil {
			return err
		}
		e = edge.New(c.From, capacity)
		p.edges[c.From] = e
	}
	if err := e.AddSink(c.To); err != nil {
		return err
	}
	p.types = types
	p.conns = append(p.conns, c)
	p.log.Debug("connected", logger.Fields(logger.FieldEdge, c.String()))
	return nil
}

// checkFlagsLocked enforces the reconnection and sharing rules.
func (p *Pipeline) checkFlagsLocked(c Connection, upSpec, downSpec process.PortSpec) error {
	var upstreamOfDown []Connection
	var downstreamOfUp []Connection
	for _, existing := range p.conns {
		if existing.From == c.From && existing.To == c.To {
			return errors.PortReconnect(c.To.Process, c.To.Port)
		}
		if existing.To == c.To {
			upstreamOfDown = append(upstreamOfDown, existing)
		}
		if existing.From == c.From {
			downstreamOfUp = append(downstreamOfUp, existing)
		}
	}

	if len(upstreamOfDown) > 0 && !downSpec.Flags.Has(process.FlagShared) {
		return errors.PortReconnect(c.To.Process, c.To.Port).
			WithDetail("connected_to", upstreamOfDown[0].From.String())
	}
	if len(downstreamOfUp) == 0 {
		return nil
	}
	if !upSpec.Flags.Has(process.FlagShared) {
		return errors.FlagMismatch(c.From.Process, c.From.Port,
			fmt.Sprintf("output already feeds %s and is not shared", downstreamOfUp[0].To))
	}
	if downSpec.Flags.Has(process.FlagMutable) {
		return errors.FlagMismatch(c.To.Process, c.To.Port, "mutable input cannot share an edge with other inputs")
	}
	for _, existing := range downstreamOfUp {
		if spec, ok := p.procs[existing.To.Process].InputPort(existing.To.Port); ok && spec.Flags.Has(process.FlagMutable) {
			return errors.FlagMismatch(existing.To.Process, existing.To.Port, "mutable input cannot share an edge with other inputs")
		}
	}
	return nil
}

func (p *Pipeline) capacityFor(up *process.Process) (int, error) {
	v, ok := up.Config().Get(KeyEdgeCapacity)
	if !ok {
		return p.defaultCapacity, nil
	}
	n, err := up.Config().GetInt(KeyEdgeCapacity)
	if err != nil || n < 0 {
		return 0, errors.InvalidConfigurationValue(up.Name(), KeyEdgeCapacity, v, "must be a non-negative integer")
	}
	return n, nil
}

// Disconnect removes a connection.
func (p *Pipeline) Disconnect(upName, upPort, downName, downPort string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setup {
		return errors.PipelineAlreadySetup("disconnect")
	}
	from, to := process.Addr(upName, upPort), process.Addr(downName, downPort)
	for i, c := range p.conns {
		if c.From == from && c.To == to {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			p.detachLocked(c)
			p.retype()
			p.log.Debug("disconnected", logger.Fields(logger.FieldEdge, c.String()))
			return nil
		}
	}
	return errors.MissingConnection(downName, downPort, "not connected to "+from.String())
}

// detachLocked removes c's sink from its edge, dropping edges left without sinks.
func (p *Pipeline) detachLocked(c Connection) {
	e := p.edges[c.From]
	if e == nil {
		return
	}
	e.RemoveSink(c.To)
	if len(e.Sinks()) == 0 {
		delete(p.edges, c.From)
	}
}

// SetEdgeCapacity changes the capacity of the edge leaving an output port.
func (p *Pipeline) SetEdgeCapacity(procName, port string, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setup {
		return errors.PipelineAlreadySetup("set edge capacity")
	}
	e := p.edges[process.Addr(procName, port)]
	if e == nil {
		return errors.MissingConnection(procName, port, "output is not connected")
	}
	e.SetCapacity(n)
	return nil
}
