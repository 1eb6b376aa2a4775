package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"go.yaml.in/yaml/v3"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// Blueprint describes a pipeline: its processes, connections and the
// cluster types it declares.
//
//	name: doubled
//	config:
//	  src.end: 5
//	processes:
//	  - name: src
//	    type: numbers
//	  - name: dbl
//	    type: doubler
//	connections:
//	  - from: src.number
//	    to: dbl.in
type Blueprint struct {
	Name string `yaml:"name" validate:"required"`
	// Includes names other blueprints whose processes, connections and
	// clusters are merged in first.
	Includes []string `yaml:"includes"`
	// Config holds "process.key" overrides applied over each process's own
	// config. Nested maps are flattened with dots.
	Config      map[string]any `yaml:"config"`
	Processes   []ProcessDef   `yaml:"processes" validate:"dive"`
	Connections []Connection   `yaml:"connections" validate:"dive"`
	Feedback    []Connection   `yaml:"feedback" validate:"dive"`
	Clusters    []ClusterDef   `yaml:"clusters" validate:"dive"`
}

// ProcessDef declares one process.
type ProcessDef struct {
	Name   string         `yaml:"name" validate:"required,excludes=."`
	Type   string         `yaml:"type" validate:"required"`
	Config map[string]any `yaml:"config"`
}

// Connection joins an output port to an input port, both written as
// "process.port".
type Connection struct {
	From string `yaml:"from" validate:"required,contains=."`
	To   string `yaml:"to" validate:"required,contains=."`
}

// ClusterDef declares a cluster type built from internal processes.
type ClusterDef struct {
	Type        string       `yaml:"type" validate:"required"`
	Description string       `yaml:"description"`
	Blocks      []BlockDef   `yaml:"blocks" validate:"dive"`
	Processes   []ProcessDef `yaml:"processes" validate:"dive"`
	Connections []Connection `yaml:"connections" validate:"dive"`
	Feedback    []Connection `yaml:"feedback" validate:"dive"`
}

// BlockDef is one tagged cluster block. Exactly one of its fields is set.
//
//	- config: {key: scale.factor, value: 2}
//	- input: {port: in, targets: [scale.number]}
//	- output: {port: out, source: scale.number}
type BlockDef struct {
	Config *ConfigBlock `yaml:"config"`
	Input  *InputBlock  `yaml:"input"`
	Output *OutputBlock `yaml:"output"`
}

// ConfigBlock declares a cluster configuration default.
type ConfigBlock struct {
	Key         string `yaml:"key" validate:"required"`
	Value       any    `yaml:"value"`
	Description string `yaml:"description"`
}

// InputBlock forwards a cluster input to internal input ports.
type InputBlock struct {
	Port        string   `yaml:"port" validate:"required"`
	Description string   `yaml:"description"`
	Targets     []string `yaml:"targets" validate:"min=1,dive,contains=."`
}

// OutputBlock forwards an internal output port out of the cluster.
type OutputBlock struct {
	Port        string `yaml:"port" validate:"required"`
	Description string `yaml:"description"`
	Source      string `yaml:"source" validate:"required,contains=."`
}

// Parse decodes a blueprint from YAML.
func Parse(data []byte) (*Blueprint, error) {
	var b Blueprint
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.New(errors.KindInvalidConfiguration, "blueprint: "+err.Error()).WithCause(err)
	}
	return &b, nil
}

// LoadFile reads and parses a blueprint file.
func LoadFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.KindInvalidConfiguration, "blueprint: "+err.Error()).
			WithCause(err).WithDetail("path", path)
	}
	b, err := Parse(data)
	if err != nil {
		if e, ok := errors.As(err); ok {
			e.WithDetail("path", path)
		}
		return nil, err
	}
	return b, nil
}

// Loader finds blueprints by name for includes.
type Loader interface {
	Load(name string) (*Blueprint, error)
}

// FileLoader loads {name}.yaml or {name}.yml from a list of directories.
type FileLoader struct {
	dirs []string
}

// NewFileLoader creates a loader searching dirs in order.
func NewFileLoader(dirs ...string) *FileLoader {
	return &FileLoader{dirs: dirs}
}

// Load implements Loader.
func (l *FileLoader) Load(name string) (*Blueprint, error) {
	for _, dir := range l.dirs {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			return LoadFile(path)
		}
	}
	return nil, errors.Newf(errors.KindInvalidConfiguration, "blueprint %q not found in %v", name, l.dirs).
		WithDetail("blueprint", name)
}

// MapLoader serves blueprints from memory.
type MapLoader map[string]*Blueprint

// Load implements Loader.
func (m MapLoader) Load(name string) (*Blueprint, error) {
	b, ok := m[name]
	if !ok {
		return nil, errors.Newf(errors.KindInvalidConfiguration, "blueprint %q not found", name).
			WithDetail("blueprint", name)
	}
	return b, nil
}

// ParseAddr splits "process.port" at the first dot.
func ParseAddr(s string) (process.PortAddr, error) {
	proc, port, ok := strings.Cut(s, ".")
	if !ok || proc == "" || port == "" {
		return process.PortAddr{}, errors.Newf(errors.KindInvalidConfiguration, "port address %q is not process.port", s).
			WithDetail("address", s)
	}
	return process.Addr(proc, port), nil
}

// toBlock flattens a YAML config map into a block. Nested maps become
// dotted keys; scalars are rendered as strings.
func toBlock(values map[string]any) (*config.Block, error) {
	flat := make(map[string]string)
	if err := flatten("", values, flat); err != nil {
		return nil, err
	}
	return config.FromMap(flat), nil
}

func flatten(prefix string, values map[string]any, out map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		full := k
		if prefix != "" {
			full = config.JoinKey(prefix, k)
		}
		switch v := values[k].(type) {
		case map[string]any:
			if err := flatten(full, v, out); err != nil {
				return err
			}
		default:
			s, err := scalar(v)
			if err != nil {
				return errors.BadValueCast(full, fmt.Sprint(v), "string").WithCause(err)
			}
			out[full] = s
		}
	}
	return nil
}

func scalar(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return cast.ToStringE(v)
}
