package pipeline

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/dag"
	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/process"
)

// Setup validates the graph, orders it, initializes every process and makes
// the pipeline immutable. Validation runs in this order: every connection
// has a concrete type, every required port is connected, no cycle exists
// outside feedback connections. If a process fails to initialize, the ones
// already initialized are finalized and the pipeline is left as it was
// before Setup.
func (p *Pipeline) Setup(ctx context.Context) error {
	p.mu.Lock()
	if p.setup {
		p.mu.Unlock()
		return errors.PipelineAlreadySetup("setup")
	}
	if err := p.checkTypedLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.checkRequiredLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	order, err := dag.TopoOrder(p.graphLocked())
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.topo = order
	p.setup = true
	procs := make([]*process.Process, len(order))
	for i, name := range order {
		procs[i] = p.procs[name]
	}
	p.mu.Unlock()

	p.log.Debug("setup order", logger.Fields("order", strings.Join(order, ",")))

	for i, proc := range procs {
		if err := proc.Init(ctx); err != nil {
			p.log.Error("init failed, rolling back", logger.ErrorFields(proc.Name(), err))
			p.rollback(ctx, procs[:i])
			return errors.InitFailed(proc.Name(), err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if !c.Feedback {
			continue
		}
		if err := p.edges[c.From].Prime(c.To, edge.Empty()); err != nil {
			return err
		}
	}
	p.setupOK = true
	p.log.Info("pipeline set up", logger.Fields("processes", len(procs), "connections", len(p.conns)))
	return nil
}

// rollback finalizes initialized processes in reverse order and returns
// every process to configured.
func (p *Pipeline) rollback(ctx context.Context, initialized []*process.Process) {
	for i := len(initialized) - 1; i >= 0; i-- {
		if err := initialized[i].Finalize(ctx); err != nil {
			p.log.Warn("finalize during rollback failed", logger.ErrorFields(initialized[i].Name(), err))
		}
		_ = initialized[i].Reset()
	}
	p.mu.Lock()
	p.setup = false
	p.topo = nil
	p.mu.Unlock()
}

func (p *Pipeline) checkTypedLocked() error {
	for _, c := range p.conns {
		upType, _ := p.resolve(p.types, portRef{dir: process.Output, addr: c.From})
		downType, _ := p.resolve(p.types, portRef{dir: process.Input, addr: c.To})
		if upType == "" || downType == "" {
			return errors.UntypedConnection(c.From.Process, c.From.Port, c.To.Process, c.To.Port)
		}
	}
	return nil
}

func (p *Pipeline) checkRequiredLocked() error {
	connectedIn := make(map[process.PortAddr]bool, len(p.conns))
	connectedOut := make(map[process.PortAddr]bool, len(p.conns))
	for _, c := range p.conns {
		connectedIn[c.To] = true
		connectedOut[c.From] = true
	}
	for _, name := range p.order {
		proc := p.procs[name]
		for _, s := range proc.InputPorts() {
			if s.Required() && !connectedIn[process.Addr(name, s.Name)] {
				return errors.MissingConnection(name, s.Name, "required input port is not connected")
			}
		}
		for _, s := range proc.OutputPorts() {
			if s.Required() && !connectedOut[process.Addr(name, s.Name)] {
				return errors.MissingConnection(name, s.Name, "required output port is not connected")
			}
		}
	}
	return nil
}

// graphLocked builds the process dependency graph without feedback connections.
func (p *Pipeline) graphLocked() *dag.Graph {
	g := &dag.Graph{}
	for _, name := range p.order {
		g.AddNode(name)
	}
	for _, c := range p.conns {
		if !c.Feedback {
			g.AddEdge(c.From.Process, c.To.Process)
		}
	}
	return g
}

// Shutdown finalizes every initialized process in reverse topological order.
// It is safe to call more than once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.RLock()
	order := p.topo
	if order == nil {
		order = p.order
	}
	procs := make([]*process.Process, 0, len(order))
	for _, name := range order {
		procs = append(procs, p.procs[name])
	}
	p.mu.RUnlock()

	var errs []error
	for i := len(procs) - 1; i >= 0; i-- {
		if err := procs[i].Finalize(ctx); err != nil {
			p.log.Warn("finalize failed", logger.ErrorFields(procs[i].Name(), err))
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Reset finalizes the pipeline, empties its edges and returns every process
// to configured. The pipeline is mutable again afterwards.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.Shutdown(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.order {
		if err := p.procs[name].Reset(); err != nil {
			return err
		}
	}
	for _, e := range p.edges {
		e.Reset()
	}
	p.setup = false
	p.setupOK = false
	p.topo = nil
	p.log.Debug("pipeline reset")
	return nil
}

// Reconfigure hands each process the part of block keyed by its name.
// Keys locked at init cannot change.
func (p *Pipeline) Reconfigure(ctx context.Context, block *config.Block) error {
	p.mu.RLock()
	if !p.setupOK {
		p.mu.RUnlock()
		return errors.PipelineNotSetup("reconfigure")
	}
	order := append([]string(nil), p.topo...)
	p.mu.RUnlock()

	for _, name := range order {
		sub := block.Subblock(name)
		if len(sub.Keys()) == 0 {
			continue
		}
		proc, _ := p.ProcessByName(name)
		if err := proc.Reconfigure(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// IsSetup reports whether Setup has been called and not undone by Reset.
func (p *Pipeline) IsSetup() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.setup
}

// SetupSuccessful reports whether Setup completed, including init.
func (p *Pipeline) SetupSuccessful() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.setupOK
}
