package cluster

import (
	"context"
	"strings"
	"sync"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/pipeline"
	"github.com/kbukum/flowkit/process"
	"github.com/kbukum/flowkit/registry"
	"github.com/kbukum/flowkit/scheduler"
)

// KeyScheduler selects the policy that drives the inner pipeline: sync
// (stepped from the outer step) or thread_per_process (running alongside).
const KeyScheduler = "_cluster.scheduler"

// Names of the hidden boundary processes inside every cluster.
const (
	InputProcess  = "_input"
	OutputProcess = "_output"
)

// Definition describes a cluster type.
type Definition struct {
	Type        string
	Description string
	Blocks      []Block
	// Assemble adds the internal processes and connections.
	Assemble func(b *Builder) error
}

// Builder assembles the inner pipeline of a cluster.
type Builder struct {
	p   *pipeline.Pipeline
	cfg *config.Block
}

// Config returns the cluster's resolved configuration: declared defaults
// overlaid with the values set on the cluster process.
func (b *Builder) Config() *config.Block { return b.cfg }

// Add adds an internal process. Values the cluster holds under the process
// name are copied into its block first, replacing values already there.
func (b *Builder) Add(proc *process.Process) error {
	sub := b.cfg.Subblock(proc.Name())
	for _, key := range sub.Keys() {
		if strings.HasPrefix(key, "_") {
			continue
		}
		v, _ := sub.Get(key)
		if err := proc.Config().Set(key, v); err != nil {
			return err
		}
	}
	return b.p.AddProcess(proc)
}

// Connect connects two internal ports.
func (b *Builder) Connect(up, upPort, down, downPort string) error {
	return b.p.Connect(up, upPort, down, downPort)
}

// ConnectFeedback connects two internal ports as a feedback loop.
func (b *Builder) ConnectFeedback(up, upPort, down, downPort string) error {
	return b.p.ConnectFeedback(up, upPort, down, downPort)
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithLogger sets the logger handed to the inner pipeline and scheduler.
func WithLogger(l *logger.Logger) Option {
	return func(c *Cluster) { c.log = l }
}

// frame carries one datum per boundary port across the cluster boundary.
type frame map[string]edge.Datum

// Cluster is a process implemented by an inner pipeline. Its ports forward
// to ports of internal processes; each outer step hands one datum per input
// to the inner pipeline and returns the datums it produces for one step.
type Cluster struct {
	def  Definition
	info *Info
	log  *logger.Logger

	name   string
	policy string
	inner  *pipeline.Pipeline

	inCh     chan frame
	outCh    chan frame
	quit     chan struct{}
	quitOnce *sync.Once

	sweeper   *scheduler.Sweeper
	sched     scheduler.Scheduler
	innerDone chan struct{}
	innerErr  error
}

// New creates a cluster from a definition.
func New(def Definition, opts ...Option) (*Cluster, error) {
	info, err := Split(def.Type, def.Blocks)
	if err != nil {
		return nil, err
	}
	c := &Cluster{def: def, info: info}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrNop(c.log)
	return c, nil
}

// Register makes a definition available as a process type.
func Register(r *registry.Registry, def Definition, opts ...Option) error {
	if _, err := Split(def.Type, def.Blocks); err != nil {
		return err
	}
	r.Register(def.Type, def.Description, func(*config.Block) (process.Impl, error) {
		return New(def, opts...)
	})
	return nil
}

// Info returns the split description.
func (c *Cluster) Info() *Info { return c.info }

// Pipeline returns the inner pipeline. It is nil until configured.
func (c *Cluster) Pipeline() *pipeline.Pipeline { return c.inner }

// Configure assembles the inner pipeline and declares the forwarded ports.
func (c *Cluster) Configure(cfg *process.Configuration) error {
	c.name = cfg.Name()
	c.log = c.log.WithComponent("cluster").WithFields(logger.Fields(logger.FieldProcess, c.name))

	cfg.DeclareConfig(process.ConfigKey{Key: KeyScheduler, Default: scheduler.TypeSync, Description: "policy driving the inner pipeline"})
	for _, d := range c.info.Config {
		cfg.DeclareConfig(process.ConfigKey{Key: d.Key, Default: d.Value, Description: d.Description, Tunable: true})
	}
	policy, err := cfg.String(KeyScheduler)
	if err != nil {
		return err
	}
	if policy != scheduler.TypeSync && policy != scheduler.TypeThreadPerProcess {
		return errors.InvalidConfigurationValue(c.name, KeyScheduler, policy, "must be sync or thread_per_process")
	}
	c.policy = policy

	resolved := config.NewBlock()
	for _, d := range c.info.Config {
		if err := resolved.Set(d.Key, d.Value); err != nil {
			return err
		}
	}
	for _, key := range cfg.Block().Keys() {
		if strings.HasPrefix(key, "_") {
			continue
		}
		v, _ := cfg.Block().Get(key)
		if err := resolved.Set(key, v); err != nil {
			return err
		}
	}

	c.inner = pipeline.New(pipeline.WithName(c.name), pipeline.WithDefaultCapacity(1), pipeline.WithLogger(c.log))
	if c.def.Assemble != nil {
		if err := c.def.Assemble(&Builder{p: c.inner, cfg: resolved}); err != nil {
			return err
		}
	}
	return c.bindPorts(cfg)
}

// bindPorts declares the cluster ports after the internal ports they
// forward to and wires them through the boundary processes.
func (c *Cluster) bindPorts(cfg *process.Configuration) error {
	in := &inputBoundary{c: c}
	for _, m := range c.info.Inputs {
		spec := process.PortSpec{Name: m.Port, Description: m.Description}
		for i, t := range m.Targets {
			target, err := c.internalPort(process.Input, m.Port, t)
			if err != nil {
				return err
			}
			if i == 0 {
				spec.Type, _ = c.inner.PortType(process.Input, t.Process, t.Port)
			}
			spec.Flags |= target.Flags & (process.FlagRequired | process.FlagMutable)
		}
		if !process.IsConcrete(spec.Type) {
			spec.Type = process.TypeAny
		}
		if err := cfg.AddInput(spec); err != nil {
			return err
		}
		flags := process.Flags(0)
		if len(m.Targets) > 1 {
			flags = process.FlagShared
		}
		in.ports = append(in.ports, process.PortSpec{Name: m.Port, Type: spec.Type, Flags: flags})
	}

	out := &outputBoundary{c: c}
	for _, m := range c.info.Outputs {
		source, err := c.internalPort(process.Output, m.Port, m.Source)
		if err != nil {
			return err
		}
		typ, _ := c.inner.PortType(process.Output, m.Source.Process, m.Source.Port)
		if !process.IsConcrete(typ) {
			typ = process.TypeAny
		}
		flags := source.Flags & (process.FlagRequired | process.FlagShared)
		if err := cfg.AddOutput(process.PortSpec{Name: m.Port, Type: typ, Flags: flags, Description: m.Description}); err != nil {
			return err
		}
		out.ports = append(out.ports, process.PortSpec{Name: m.Port, Type: typ})
	}

	if len(in.ports) > 0 {
		if err := c.inner.AddProcess(process.New(InputProcess, "cluster_input", nil, in)); err != nil {
			return err
		}
		for _, m := range c.info.Inputs {
			for _, t := range m.Targets {
				if err := c.inner.Connect(InputProcess, m.Port, t.Process, t.Port); err != nil {
					return err
				}
			}
		}
	}
	if len(out.ports) > 0 {
		if err := c.inner.AddProcess(process.New(OutputProcess, "cluster_output", nil, out)); err != nil {
			return err
		}
		for _, m := range c.info.Outputs {
			if err := c.inner.Connect(m.Source.Process, m.Source.Port, OutputProcess, m.Port); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cluster) internalPort(dir process.Direction, port string, addr process.PortAddr) (process.PortSpec, error) {
	proc, err := c.inner.ProcessByName(addr.Process)
	if err != nil {
		return process.PortSpec{}, errors.MissingConnection(c.name, port, "forwards to unknown process "+addr.Process)
	}
	var spec process.PortSpec
	var ok bool
	if dir == process.Input {
		spec, ok = proc.InputPort(addr.Port)
	} else {
		spec, ok = proc.OutputPort(addr.Port)
	}
	if !ok {
		return spec, errors.MissingConnection(c.name, port, "forwards to unknown "+dir.String()+" port "+addr.String())
	}
	return spec, nil
}

// Init sets up the inner pipeline, resetting it first when it ran before,
// and starts the inner scheduler for threaded clusters.
func (c *Cluster) Init(ctx context.Context) error {
	if c.inner.IsSetup() {
		if err := c.inner.Reset(ctx); err != nil {
			return err
		}
	}
	c.inCh = make(chan frame, 1)
	c.outCh = make(chan frame, 1)
	c.quit = make(chan struct{})
	c.quitOnce = &sync.Once{}
	c.sweeper, c.sched, c.innerDone, c.innerErr = nil, nil, nil, nil

	if err := c.inner.Setup(ctx); err != nil {
		return err
	}

	if c.policy == scheduler.TypeSync {
		sw, err := scheduler.NewSweeper(c.inner, scheduler.WithLogger(c.log))
		if err != nil {
			return err
		}
		c.sweeper = sw
		return nil
	}

	s, err := scheduler.NewThreaded(c.inner, scheduler.WithLogger(c.log))
	if err != nil {
		return err
	}
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	c.sched = s
	c.innerDone = make(chan struct{})
	go func() {
		c.innerErr = s.Wait()
		close(c.innerDone)
	}()
	return nil
}

// Step hands one datum per input to the inner pipeline and pushes what the
// inner pipeline produced in return. The cluster completes once the inner
// pipeline has.
func (c *Cluster) Step(ctx context.Context, in *process.Inputs, out *process.Outputs) error {
	var f frame
	if len(c.info.Inputs) > 0 {
		f = make(frame, len(c.info.Inputs))
		for _, m := range c.info.Inputs {
			f[m.Port] = in.Datum(m.Port)
		}
	}
	if c.policy == scheduler.TypeSync {
		return c.stepSync(ctx, f, out)
	}
	return c.stepThreaded(ctx, f, out)
}

func (c *Cluster) stepSync(ctx context.Context, f frame, out *process.Outputs) error {
	sent := f == nil
	for {
		if !sent {
			select {
			case c.inCh <- f:
				sent = true
			default:
			}
		}
		if sent && len(c.outCh) > 0 {
			break
		}
		progressed, err := c.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
	}
	if !sent {
		return errors.Newf(errors.KindInvalidState, "cluster %q: inner pipeline no longer accepts input", c.name)
	}

	select {
	case r := <-c.outCh:
		return emit(r, out)
	default:
	}
	if c.sweeper.Done() {
		out.Complete()
	}
	return nil
}

func (c *Cluster) stepThreaded(ctx context.Context, f frame, out *process.Outputs) error {
	if f != nil {
		select {
		case c.inCh <- f:
		case <-c.innerDone:
			return c.finish(out)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(c.info.Outputs) == 0 {
		select {
		case <-c.innerDone:
			return c.finish(out)
		default:
			return nil
		}
	}

	select {
	case r := <-c.outCh:
		return emit(r, out)
	case <-c.innerDone:
		select {
		case r := <-c.outCh:
			return emit(r, out)
		default:
		}
		return c.finish(out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish completes the cluster after its inner run ended, or reports why
// the inner run failed.
func (c *Cluster) finish(out *process.Outputs) error {
	if c.innerErr != nil && !errors.IsKind(c.innerErr, errors.KindStopped) {
		return c.innerErr
	}
	out.Complete()
	return nil
}

func emit(r frame, out *process.Outputs) error {
	for port, d := range r {
		if d.Kind != edge.KindData && d.Kind != edge.KindFlush {
			continue
		}
		if err := out.PushDatum(port, d); err != nil {
			return err
		}
	}
	return nil
}

// Reconfigure forwards the cluster's declared keys to the internal processes.
func (c *Cluster) Reconfigure(cfg *process.Configuration) error {
	update := config.NewBlock()
	for _, d := range c.info.Config {
		if v, ok := cfg.Block().Get(d.Key); ok {
			if err := update.Set(d.Key, v); err != nil {
				return err
			}
		}
	}
	return c.inner.Reconfigure(context.Background(), update)
}

// Finalize winds the inner pipeline down and finalizes its processes.
func (c *Cluster) Finalize(ctx context.Context) error {
	if c.quitOnce == nil {
		return nil
	}
	c.quitOnce.Do(func() { close(c.quit) })

	if c.sched != nil {
		c.sched.Stop()
		<-c.innerDone
		if c.innerErr != nil && !errors.IsKind(c.innerErr, errors.KindStopped) {
			return c.innerErr
		}
		return nil
	}
	if c.sweeper != nil {
		c.sweeper.CompleteAll()
	}
	return c.inner.Shutdown(ctx)
}

// inputBoundary is the hidden source inside a cluster that pushes the datums
// the cluster received.
type inputBoundary struct {
	c     *Cluster
	ports []process.PortSpec
}

func (b *inputBoundary) Configure(cfg *process.Configuration) error {
	for _, p := range b.ports {
		if err := cfg.AddOutput(p); err != nil {
			return err
		}
	}
	return nil
}

func (b *inputBoundary) Ready() bool {
	select {
	case <-b.c.quit:
		return true
	default:
	}
	return len(b.c.inCh) > 0
}

func (b *inputBoundary) Step(ctx context.Context, _ *process.Inputs, out *process.Outputs) error {
	select {
	case f := <-b.c.inCh:
		for _, p := range b.ports {
			d, ok := f[p.Name]
			if !ok || d.IsComplete() {
				continue
			}
			if err := out.PushDatum(p.Name, d); err != nil {
				return err
			}
		}
		return nil
	case <-b.c.quit:
		out.Complete()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outputBoundary is the hidden sink inside a cluster that hands what the
// forwarded ports produced back to the cluster.
type outputBoundary struct {
	c     *Cluster
	ports []process.PortSpec
}

func (b *outputBoundary) Configure(cfg *process.Configuration) error {
	for _, p := range b.ports {
		if err := cfg.AddInput(p); err != nil {
			return err
		}
	}
	return nil
}

func (b *outputBoundary) Ready() bool {
	return len(b.c.outCh) < cap(b.c.outCh)
}

func (b *outputBoundary) Step(ctx context.Context, in *process.Inputs, _ *process.Outputs) error {
	f := make(frame, len(b.ports))
	for _, p := range b.ports {
		f[p.Name] = in.Datum(p.Name)
	}
	select {
	case b.c.outCh <- f:
		return nil
	case <-b.c.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
