package registry

import (
	"sort"
	"sync"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/process"
)

// Constructor builds the computation behind a process from its
// configuration block.
type Constructor func(block *config.Block) (process.Impl, error)

// Creator creates processes by type name.
type Creator interface {
	Create(typ, name string, block *config.Block) (*process.Process, error)
}

type entry struct {
	description string
	ctor        Constructor
}

// Registry maps process type names to constructors. It also remembers which
// plugin modules have been loaded into it.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]entry
	modules map[string]bool
	log     *logger.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		types:   make(map[string]entry),
		modules: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrNop(r.log).WithComponent("registry")
	return r
}

// Register adds or replaces a process type.
func (r *Registry) Register(typ, description string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typ] = entry{description: description, ctor: ctor}
	r.log.Debug("process type registered", logger.Fields(logger.FieldType, typ))
}

// Create constructs a process of the given type in the created state. The
// block is stamped with the process name and type.
func (r *Registry) Create(typ, name string, block *config.Block) (*process.Process, error) {
	r.mu.RLock()
	e, ok := r.types[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NoSuchProcessType(typ)
	}
	if block == nil {
		block = config.NewBlock()
	}
	impl, err := e.ctor(block)
	if err != nil {
		return nil, errors.ProcessConstructionFailed(typ, name, err)
	}
	return process.New(name, typ, block, impl), nil
}

// Types returns sorted names of all registered process types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Description returns the description of a process type.
func (r *Registry) Description(typ string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[typ]
	if !ok {
		return "", errors.NoSuchProcessType(typ)
	}
	return e.description, nil
}

// IsModuleLoaded reports whether a module has been marked as loaded.
func (r *Registry) IsModuleLoaded(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[module]
}

// MarkModuleLoaded records a module as loaded.
func (r *Registry) MarkModuleLoaded(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[module] = true
}

// LoadModule runs register once per module name. A module whose register
// function fails is not marked and may be loaded again.
func (r *Registry) LoadModule(module string, register func(*Registry) error) error {
	if r.IsModuleLoaded(module) {
		return nil
	}
	if err := register(r); err != nil {
		return err
	}
	r.MarkModuleLoaded(module)
	r.log.Info("module loaded", logger.Fields("module", module))
	return nil
}

// chain tries each creator in turn.
type chain []Creator

// Chain returns a Creator that asks primary first and then each fallback.
// Only a no-such-process-type error moves on to the next creator; any other
// failure is returned as is.
func Chain(primary Creator, fallbacks ...Creator) Creator {
	return append(chain{primary}, fallbacks...)
}

func (c chain) Create(typ, name string, block *config.Block) (*process.Process, error) {
	var err error
	for _, cr := range c {
		var p *process.Process
		p, err = cr.Create(typ, name, block)
		if err == nil {
			return p, nil
		}
		if !errors.IsKind(err, errors.KindNoSuchProcessType) {
			return nil, err
		}
	}
	return nil, err
}
