package algo

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
)

// Algorithm is a configurable unit of computation that a process invokes.
type Algorithm interface {
	Name() string
	Configure(block *config.Block) error
}

// Computer is an algorithm with one synchronous typed operation.
type Computer[I, O any] interface {
	Algorithm
	Compute(ctx context.Context, in I) (O, error)
}

// Dynamic is the untyped view of a Computer used by generic processes.
type Dynamic interface {
	Algorithm
	InputType() string
	OutputType() string
	Apply(ctx context.Context, in any) (any, error)
}

// Attributes describe a registered algorithm.
type Attributes struct {
	Description  string `json:"description" yaml:"description"`
	Module       string `json:"module,omitempty" yaml:"module,omitempty"`
	Version      string `json:"version,omitempty" yaml:"version,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// Factory creates a fresh, unconfigured algorithm.
type Factory func() Algorithm

type key struct{ group, name string }

type entry struct {
	attrs   Attributes
	factory Factory
}

// Registry maps (group, name) pairs to algorithm factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]entry)}
}

// Register adds or replaces an algorithm.
func (r *Registry) Register(group, name string, attrs Attributes, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{group, name}] = entry{attrs: attrs, factory: f}
}

// RegisterComputer registers a typed computer so that it can be driven
// through Dynamic.
func RegisterComputer[I, O any](r *Registry, group, name string, attrs Attributes, f func() Computer[I, O]) {
	r.Register(group, name, attrs, func() Algorithm { return &typed[I, O]{Computer: f()} })
}

// Create builds and configures an algorithm.
func (r *Registry) Create(group, name string, block *config.Block) (Algorithm, error) {
	r.mu.RLock()
	e, ok := r.entries[key{group, name}]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NoSuchAlgorithm(group, name)
	}
	if block == nil {
		block = config.NewBlock()
	}
	a := e.factory()
	if err := a.Configure(block); err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.Newf(errors.KindInvalidConfiguration, "algorithm %s/%s: %v", group, name, err).WithCause(err)
	}
	return a, nil
}

// Has reports whether an algorithm is registered.
func (r *Registry) Has(group, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key{group, name}]
	return ok
}

// Attributes returns the attributes of a registered algorithm.
func (r *Registry) Attributes(group, name string) (Attributes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key{group, name}]
	if !ok {
		return Attributes{}, errors.NoSuchAlgorithm(group, name)
	}
	return e.attrs, nil
}

// Groups returns the sorted group names.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var groups []string
	for k := range r.entries {
		if !seen[k.group] {
			seen[k.group] = true
			groups = append(groups, k.group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Names returns the sorted algorithm names of a group.
func (r *Registry) Names(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k := range r.entries {
		if k.group == group {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// TypeName returns the port type tag used for values of type T.
func TypeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

type typed[I, O any] struct {
	Computer[I, O]
}

func (t *typed[I, O]) InputType() string  { return TypeName[I]() }
func (t *typed[I, O]) OutputType() string { return TypeName[O]() }

func (t *typed[I, O]) Apply(ctx context.Context, in any) (any, error) {
	v, ok := in.(I)
	if !ok {
		var zero I
		return nil, errors.New(errors.KindTypeMismatch,
			fmt.Sprintf("algorithm %s expects %T, got %T", t.Name(), zero, in))
	}
	return t.Compute(ctx, v)
}
