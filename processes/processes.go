package processes

import (
	"github.com/kbukum/flowkit/algo"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/process"
	"github.com/kbukum/flowkit/registry"
)

// Built-in process type names.
const (
	TypeNumbers        = "numbers"
	TypeMultiplication = "multiplication"
	TypeScale          = "scale"
	TypePassthrough    = "passthrough"
	TypeTake           = "take"
	TypeThrottle       = "throttle"
	TypeFilter         = "filter"
	TypeSliding        = "sliding"
	TypePrint          = "print"
	TypeCollect        = "collect"
	TypeAlgorithm      = "algorithm"
)

// ModuleName is the module name the built-ins are loaded under.
const ModuleName = "flowkit.processes"

// TypeInt is the port type carrying Go ints.
var TypeInt = algo.TypeName[int]()

// Module returns the register function for the built-in process types. The
// algorithm process looks its algorithms up in algos.
func Module(algos *algo.Registry) func(*registry.Registry) error {
	return func(r *registry.Registry) error {
		Register(r, algos)
		return nil
	}
}

// Register adds the built-in process types to r.
func Register(r *registry.Registry, algos *algo.Registry) {
	r.Register(TypeNumbers, "emits the integers in [start, end)", func(*config.Block) (process.Impl, error) {
		return &Numbers{}, nil
	})
	r.Register(TypeMultiplication, "multiplies two integer inputs", func(*config.Block) (process.Impl, error) {
		return Multiplication{}, nil
	})
	r.Register(TypeScale, "multiplies its input by a tunable factor", func(*config.Block) (process.Impl, error) {
		return &Scale{}, nil
	})
	r.Register(TypePassthrough, "forwards its input unchanged", func(*config.Block) (process.Impl, error) {
		return Passthrough{}, nil
	})
	r.Register(TypeTake, "forwards the first count data and completes", func(*config.Block) (process.Impl, error) {
		return &Take{}, nil
	})
	r.Register(TypeThrottle, "forwards its input at a bounded rate", func(*config.Block) (process.Impl, error) {
		return &Throttle{}, nil
	})
	r.Register(TypeFilter, "forwards the numbers that pass a comparison", func(*config.Block) (process.Impl, error) {
		return &Filter{}, nil
	})
	r.Register(TypeSliding, "emits sliding windows of consecutive data", func(*config.Block) (process.Impl, error) {
		return &Sliding{}, nil
	})
	r.Register(TypePrint, "writes each datum to a file or standard output", func(*config.Block) (process.Impl, error) {
		return &Print{}, nil
	})
	r.Register(TypeCollect, "keeps every datum it receives in memory", func(*config.Block) (process.Impl, error) {
		return NewCollector(), nil
	})
	r.Register(TypeAlgorithm, "applies a registered algorithm to each datum", func(*config.Block) (process.Impl, error) {
		return NewAlgorithm(algos), nil
	})
}
