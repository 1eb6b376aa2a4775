package pipeline

import (
	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// ProcessNames returns process names in the order they were added.
func (p *Pipeline) ProcessNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// ProcessByName looks up a process.
func (p *Pipeline) ProcessByName(name string) (*process.Process, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	proc, ok := p.procs[name]
	if !ok {
		return nil, errors.NoSuchProcess(name)
	}
	return proc, nil
}

// ClusterNames returns the names of processes that run an inner pipeline.
func (p *Pipeline) ClusterNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for _, name := range p.order {
		if _, ok := p.procs[name].Impl().(Nested); ok {
			names = append(names, name)
		}
	}
	return names
}

// ClusterByName returns the inner pipeline of a cluster process.
func (p *Pipeline) ClusterByName(name string) (*Pipeline, error) {
	proc, err := p.ProcessByName(name)
	if err != nil {
		return nil, err
	}
	n, ok := proc.Impl().(Nested)
	if !ok {
		return nil, errors.NoSuchProcess(name).WithDetail("reason", "not a cluster")
	}
	return n.Pipeline(), nil
}

// Connections returns every connection in the order it was made.
func (p *Pipeline) Connections() []Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Connection(nil), p.conns...)
}

// ConnectionsFrom returns the connections leaving an output port.
func (p *Pipeline) ConnectionsFrom(procName, port string) []Connection {
	from := process.Addr(procName, port)
	return p.filter(func(c Connection) bool { return c.From == from })
}

// ConnectionTo returns the first connection into an input port.
func (p *Pipeline) ConnectionTo(procName, port string) (Connection, bool) {
	to := process.Addr(procName, port)
	conns := p.filter(func(c Connection) bool { return c.To == to })
	if len(conns) == 0 {
		return Connection{}, false
	}
	return conns[0], true
}

func (p *Pipeline) filter(keep func(Connection) bool) []Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Connection
	for _, c := range p.conns {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// UpstreamForProcess returns the distinct processes feeding a process.
func (p *Pipeline) UpstreamForProcess(name string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range p.filter(func(c Connection) bool { return c.To.Process == name }) {
		if !seen[c.From.Process] {
			seen[c.From.Process] = true
			out = append(out, c.From.Process)
		}
	}
	return out
}

// DownstreamForProcess returns the distinct processes a process feeds.
func (p *Pipeline) DownstreamForProcess(name string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range p.filter(func(c Connection) bool { return c.From.Process == name }) {
		if !seen[c.To.Process] {
			seen[c.To.Process] = true
			out = append(out, c.To.Process)
		}
	}
	return out
}

// UpstreamForPort returns the output ports feeding an input port.
func (p *Pipeline) UpstreamForPort(procName, port string) []process.PortAddr {
	to := process.Addr(procName, port)
	var out []process.PortAddr
	for _, c := range p.filter(func(c Connection) bool { return c.To == to }) {
		out = append(out, c.From)
	}
	return out
}

// DownstreamForPort returns the input ports an output port feeds.
func (p *Pipeline) DownstreamForPort(procName, port string) []process.PortAddr {
	from := process.Addr(procName, port)
	var out []process.PortAddr
	for _, c := range p.filter(func(c Connection) bool { return c.From == from }) {
		out = append(out, c.To)
	}
	return out
}

// SenderForPort returns the output port feeding an input port.
func (p *Pipeline) SenderForPort(procName, port string) (process.PortAddr, bool) {
	up := p.UpstreamForPort(procName, port)
	if len(up) == 0 {
		return process.PortAddr{}, false
	}
	return up[0], true
}

// ReceiversForPort is DownstreamForPort.
func (p *Pipeline) ReceiversForPort(procName, port string) []process.PortAddr {
	return p.DownstreamForPort(procName, port)
}

// EdgeForConnection returns the edge carrying a connection.
func (p *Pipeline) EdgeForConnection(c Connection) (*edge.Edge, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e := p.edges[c.From]
	if e == nil {
		return nil, false
	}
	for _, to := range e.Sinks() {
		if to == c.To {
			return e, true
		}
	}
	return nil, false
}

// InputEdge pairs an edge with the sink that reads from it.
type InputEdge struct {
	Edge *edge.Edge
	To   process.PortAddr
}

// InputEdgesForProcess returns the edges feeding a process, keyed by input
// port. Ports are listed in declaration order; a shared port lists one
// entry per feeding edge.
func (p *Pipeline) InputEdgesForProcess(name string) map[string][]InputEdge {
	proc, err := p.ProcessByName(name)
	if err != nil {
		return nil
	}
	out := make(map[string][]InputEdge)
	for _, spec := range proc.InputPorts() {
		if edges := p.InputEdgesForPort(name, spec.Name); len(edges) > 0 {
			out[spec.Name] = edges
		}
	}
	return out
}

// InputEdgesForPort returns every edge feeding an input port.
func (p *Pipeline) InputEdgesForPort(procName, port string) []InputEdge {
	to := process.Addr(procName, port)
	conns := p.filter(func(c Connection) bool { return c.To == to })
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]InputEdge, 0, len(conns))
	for _, c := range conns {
		if e := p.edges[c.From]; e != nil {
			out = append(out, InputEdge{Edge: e, To: to})
		}
	}
	return out
}

// InputEdgeForPort returns the first edge feeding an input port.
func (p *Pipeline) InputEdgeForPort(procName, port string) (*edge.Edge, bool) {
	edges := p.InputEdgesForPort(procName, port)
	if len(edges) == 0 {
		return nil, false
	}
	return edges[0].Edge, true
}

// OutputEdgesForProcess returns the edges leaving a process, keyed by output port.
func (p *Pipeline) OutputEdgesForProcess(name string) map[string]*edge.Edge {
	proc, err := p.ProcessByName(name)
	if err != nil {
		return nil
	}
	out := make(map[string]*edge.Edge)
	for _, spec := range proc.OutputPorts() {
		if e, ok := p.OutputEdgesForPort(name, spec.Name); ok {
			out[spec.Name] = e
		}
	}
	return out
}

// OutputEdgesForPort returns the edge leaving an output port. All inputs fed
// by one output share that edge.
func (p *Pipeline) OutputEdgesForPort(procName, port string) (*edge.Edge, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e := p.edges[process.Addr(procName, port)]
	return e, e != nil
}

// Edges returns every edge, ordered by first connection.
func (p *Pipeline) Edges() []*edge.Edge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*edge.Edge
	seen := make(map[process.PortAddr]bool)
	for _, c := range p.conns {
		if seen[c.From] {
			continue
		}
		seen[c.From] = true
		if e := p.edges[c.From]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// PortType returns the concrete type bound to a port, or its declared tag
// while unresolved.
func (p *Pipeline) PortType(dir process.Direction, procName, port string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	proc, ok := p.procs[procName]
	if !ok {
		return "", errors.NoSuchProcess(procName)
	}
	var found bool
	if dir == process.Input {
		_, found = proc.InputPort(port)
	} else {
		_, found = proc.OutputPort(port)
	}
	if !found {
		return "", errors.NoSuchPort(procName, port)
	}
	ref := portRef{dir: dir, addr: process.Addr(procName, port)}
	if t, _ := p.resolve(p.types, ref); t != "" {
		return t, nil
	}
	return p.declaredType(ref), nil
}

// TopoOrder returns the process order computed at setup.
func (p *Pipeline) TopoOrder() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.topo...)
}

// Terminals returns the processes with no outgoing connection other than
// feedback, in topological order once set up.
func (p *Pipeline) Terminals() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	feeds := make(map[string]bool)
	for _, c := range p.conns {
		if !c.Feedback {
			feeds[c.From.Process] = true
		}
	}
	order := p.topo
	if order == nil {
		order = p.order
	}
	var out []string
	for _, name := range order {
		if !feeds[name] {
			out = append(out, name)
		}
	}
	return out
}
