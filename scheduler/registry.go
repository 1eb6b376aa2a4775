package scheduler

import (
	"sort"
	"sync"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/pipeline"
)

// Built-in policy names.
const (
	TypeSync             = "sync"
	TypeThreadPerProcess = "thread_per_process"
)

// Constructor builds a scheduler for a set-up pipeline.
type Constructor func(p *pipeline.Pipeline, opts ...Option) (Scheduler, error)

type entry struct {
	description string
	ctor        Constructor
}

// Registry maps policy names to constructors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates a registry holding the built-in policies.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	r.Register(TypeSync, "single-threaded cooperative sweep in topological order",
		func(p *pipeline.Pipeline, opts ...Option) (Scheduler, error) { return NewSync(p, opts...) })
	r.Register(TypeThreadPerProcess, "one goroutine per process, blocking on edges",
		func(p *pipeline.Pipeline, opts ...Option) (Scheduler, error) { return NewThreaded(p, opts...) })
	return r
}

// Register adds or replaces a policy.
func (r *Registry) Register(name, description string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{description: description, ctor: ctor}
}

// Create builds a scheduler of the named policy.
func (r *Registry) Create(name string, p *pipeline.Pipeline, opts ...Option) (Scheduler, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NoSuchSchedulerType(name)
	}
	return e.ctor(p, opts...)
}

// Types returns sorted names of all registered policies.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Description returns the description of a policy.
func (r *Registry) Description(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.description, ok
}
