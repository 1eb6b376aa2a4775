package process

import (
	"strings"

	"github.com/kbukum/flowkit/edge"
)

// PortAddr identifies a port by process and port name.
type PortAddr = edge.Endpoint

// Addr builds a PortAddr.
func Addr(process, port string) PortAddr {
	return PortAddr{Process: process, Port: port}
}

// Type tags with special meaning. Any other tag is a concrete type name.
const (
	// TypeAny accepts any type and resolves to the peer's type on connection.
	TypeAny = "_any"
	// FlowDependentPrefix starts a flow-dependent tag. All ports of one
	// process sharing the tag resolve to the same concrete type together.
	FlowDependentPrefix = "_flow_dependent/"
)

// FlowDependent returns the flow-dependent type tag for the given group.
func FlowDependent(tag string) string { return FlowDependentPrefix + tag }

// IsAny reports whether t is the wildcard type.
func IsAny(t string) bool { return t == TypeAny }

// IsFlowDependent reports whether t is a flow-dependent type tag.
func IsFlowDependent(t string) bool { return strings.HasPrefix(t, FlowDependentPrefix) }

// FlowTag returns the group of a flow-dependent type tag.
func FlowTag(t string) string { return strings.TrimPrefix(t, FlowDependentPrefix) }

// IsConcrete reports whether t names a concrete type.
func IsConcrete(t string) bool { return t != "" && !IsAny(t) && !IsFlowDependent(t) }

// Direction of a port.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Flags modify how a port may be connected. A port without FlagRequired is optional.
type Flags uint8

const (
	// FlagRequired ports must be connected before setup succeeds.
	FlagRequired Flags = 1 << iota
	// FlagMutable inputs may modify the datums they receive, so they cannot
	// share an edge with other sinks.
	FlagMutable
	// FlagShared outputs may feed several inputs; shared inputs may be fed
	// by several outputs, one datum per edge per step.
	FlagShared
)

// Has reports whether all of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagRequired) {
		parts = append(parts, "required")
	} else {
		parts = append(parts, "optional")
	}
	if f.Has(FlagMutable) {
		parts = append(parts, "mutable")
	}
	if f.Has(FlagShared) {
		parts = append(parts, "shared")
	}
	return strings.Join(parts, ",")
}

// PortSpec declares a port.
type PortSpec struct {
	Name        string
	Type        string
	Flags       Flags
	Description string
}

// Required reports whether the port must be connected.
func (s PortSpec) Required() bool { return s.Flags.Has(FlagRequired) }

// ConfigKey declares a configuration key read by a process.
type ConfigKey struct {
	Key         string
	Default     string
	Description string
	// Required keys have no default; configuration fails when they are absent.
	Required bool
	// Tunable keys may change through Reconfigure after init. All other
	// declared keys become read-only once the process is initialized.
	Tunable bool
}
