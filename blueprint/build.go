package blueprint

import (
	"strconv"

	"github.com/kbukum/flowkit/cluster"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/pipeline"
	"github.com/kbukum/flowkit/process"
	"github.com/kbukum/flowkit/registry"
	"github.com/kbukum/flowkit/validation"
)

type buildOptions struct {
	log      *logger.Logger
	capacity int
	loader   Loader
}

// Option configures Build.
type Option func(*buildOptions)

// WithLogger sets the logger handed to the pipeline and its clusters.
func WithLogger(l *logger.Logger) Option {
	return func(o *buildOptions) { o.log = l }
}

// WithDefaultCapacity sets the pipeline's default edge capacity.
func WithDefaultCapacity(n int) Option {
	return func(o *buildOptions) { o.capacity = n }
}

// WithLoader resolves includes. Without one, a blueprint with includes fails
// to build.
func WithLoader(l Loader) Option {
	return func(o *buildOptions) { o.loader = l }
}

// Validate checks the struct constraints and cross references of b: process
// names are unique and every block is tagged with exactly one kind.
func (b *Blueprint) Validate() error {
	if err := validation.Validate(b); err != nil {
		return err
	}
	v := validation.New()
	v.Unique("processes", processNames(b.Processes))
	for _, c := range b.Clusters {
		v.Unique("clusters."+c.Type+".processes", processNames(c.Processes))
		for i, blk := range c.Blocks {
			n := 0
			for _, set := range []bool{blk.Config != nil, blk.Input != nil, blk.Output != nil} {
				if set {
					n++
				}
			}
			v.Custom("clusters."+c.Type+".blocks", n == 1,
				"block "+strconv.Itoa(i)+" must set exactly one of config, input or output")
		}
	}
	return v.Validate()
}

func processNames(defs []ProcessDef) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Resolve merges includes into a copy of b. Included processes and clusters
// come first; on a name clash the first definition wins.
func (b *Blueprint) Resolve(loader Loader) (*Blueprint, error) {
	return resolve(b, loader, make(map[string]bool), make(map[string]bool))
}

func resolve(b *Blueprint, loader Loader, stack, resolved map[string]bool) (*Blueprint, error) {
	if stack[b.Name] {
		return nil, errors.Newf(errors.KindInvalidConfiguration, "circular include of blueprint %q", b.Name).
			WithDetail("blueprint", b.Name)
	}
	stack[b.Name] = true
	defer delete(stack, b.Name)

	out := &Blueprint{Name: b.Name, Config: make(map[string]any)}
	procs := make(map[string]bool)
	clusters := make(map[string]bool)
	merge := func(src *Blueprint) {
		for k, v := range src.Config {
			out.Config[k] = v
		}
		for _, p := range src.Processes {
			if !procs[p.Name] {
				procs[p.Name] = true
				out.Processes = append(out.Processes, p)
			}
		}
		for _, c := range src.Clusters {
			if !clusters[c.Type] {
				clusters[c.Type] = true
				out.Clusters = append(out.Clusters, c)
			}
		}
		out.Connections = append(out.Connections, src.Connections...)
		out.Feedback = append(out.Feedback, src.Feedback...)
	}

	for _, name := range b.Includes {
		if resolved[name] {
			continue
		}
		if loader == nil {
			return nil, errors.Newf(errors.KindInvalidConfiguration, "blueprint %q includes %q but no loader is set", b.Name, name)
		}
		inc, err := loader.Load(name)
		if err != nil {
			return nil, err
		}
		sub, err := resolve(inc, loader, stack, resolved)
		if err != nil {
			return nil, err
		}
		merge(sub)
	}
	merge(b)

	resolved[b.Name] = true
	return out, nil
}

// Build resolves includes, validates, registers the declared cluster types
// with reg and assembles the pipeline. The pipeline is not set up.
func (b *Blueprint) Build(reg *registry.Registry, opts ...Option) (*pipeline.Pipeline, error) {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.OrNop(o.log)

	full, err := b.Resolve(o.loader)
	if err != nil {
		return nil, err
	}
	if err := full.Validate(); err != nil {
		return nil, err
	}

	for _, c := range full.Clusters {
		def, err := c.definition(reg)
		if err != nil {
			return nil, err
		}
		if err := cluster.Register(reg, def, cluster.WithLogger(log)); err != nil {
			return nil, err
		}
	}

	overrides, err := toBlock(full.Config)
	if err != nil {
		return nil, err
	}
	p := pipeline.New(pipeline.WithName(full.Name), pipeline.WithLogger(log), pipeline.WithDefaultCapacity(o.capacity))
	if err := assemble(p, reg, overrides, full.Processes, full.Connections, full.Feedback); err != nil {
		return nil, err
	}
	log.Info("pipeline built", logger.Fields(logger.FieldPipeline, full.Name, "processes", len(full.Processes)))
	return p, nil
}

// target is the part of pipeline.Pipeline and cluster.Builder that assembly
// needs.
type target interface {
	AddProcess(*process.Process) error
	Connect(upName, upPort, downName, downPort string) error
	ConnectFeedback(upName, upPort, downName, downPort string) error
}

type builderTarget struct{ b *cluster.Builder }

func (t builderTarget) AddProcess(p *process.Process) error { return t.b.Add(p) }
func (t builderTarget) Connect(un, up, dn, dp string) error { return t.b.Connect(un, up, dn, dp) }
func (t builderTarget) ConnectFeedback(un, up, dn, dp string) error {
	return t.b.ConnectFeedback(un, up, dn, dp)
}

func assemble(t target, reg registry.Creator, overrides *config.Block, procs []ProcessDef, conns, feedback []Connection) error {
	for _, def := range procs {
		block, err := toBlock(def.Config)
		if err != nil {
			return err
		}
		if overrides != nil {
			if err := block.Merge(overrides.Subblock(def.Name)); err != nil {
				return err
			}
		}
		proc, err := reg.Create(def.Type, def.Name, block)
		if err != nil {
			return err
		}
		if err := t.AddProcess(proc); err != nil {
			return err
		}
	}
	for _, group := range []struct {
		conns   []Connection
		connect func(string, string, string, string) error
	}{{conns, t.Connect}, {feedback, t.ConnectFeedback}} {
		for _, c := range group.conns {
			from, err := ParseAddr(c.From)
			if err != nil {
				return err
			}
			to, err := ParseAddr(c.To)
			if err != nil {
				return err
			}
			if err := group.connect(from.Process, from.Port, to.Process, to.Port); err != nil {
				return err
			}
		}
	}
	return nil
}

// definition turns a cluster declaration into a cluster.Definition whose
// Assemble creates the internal processes through reg.
func (c ClusterDef) definition(reg registry.Creator) (cluster.Definition, error) {
	def := cluster.Definition{Type: c.Type, Description: c.Description}
	for _, blk := range c.Blocks {
		switch {
		case blk.Config != nil:
			v, err := scalar(blk.Config.Value)
			if err != nil {
				return def, errors.BadValueCast(blk.Config.Key, "", "string").WithCause(err)
			}
			def.Blocks = append(def.Blocks, cluster.Config(blk.Config.Key, v, blk.Config.Description))
		case blk.Input != nil:
			targets := make([]process.PortAddr, 0, len(blk.Input.Targets))
			for _, s := range blk.Input.Targets {
				a, err := ParseAddr(s)
				if err != nil {
					return def, err
				}
				targets = append(targets, a)
			}
			def.Blocks = append(def.Blocks, cluster.Input(blk.Input.Port, blk.Input.Description, targets...))
		case blk.Output != nil:
			src, err := ParseAddr(blk.Output.Source)
			if err != nil {
				return def, err
			}
			def.Blocks = append(def.Blocks, cluster.Output(blk.Output.Port, blk.Output.Description, src))
		}
	}
	def.Assemble = func(b *cluster.Builder) error {
		return assemble(builderTarget{b}, reg, nil, c.Processes, c.Connections, c.Feedback)
	}
	return def, nil
}
