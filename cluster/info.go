package cluster

import (
	"fmt"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// BlockKind tags one entry of a cluster description.
type BlockKind int

const (
	// BlockConfig declares a configuration default.
	BlockConfig BlockKind = iota
	// BlockInput forwards a cluster input port to internal input ports.
	BlockInput
	// BlockOutput forwards an internal output port to a cluster output port.
	BlockOutput
)

func (k BlockKind) String() string {
	switch k {
	case BlockConfig:
		return "config"
	case BlockInput:
		return "input"
	case BlockOutput:
		return "output"
	default:
		return fmt.Sprintf("BlockKind(%d)", int(k))
	}
}

// Block is one entry of a cluster description.
type Block struct {
	Kind        BlockKind
	Description string
	// Key and Value are set on config blocks. A key of the form
	// "process.key" is forwarded to that internal process.
	Key   string
	Value string
	// Port and Targets are set on input and output blocks. An output block
	// has exactly one target, its source.
	Port    string
	Targets []process.PortAddr
}

// Config builds a config block.
func Config(key, value, description string) Block {
	return Block{Kind: BlockConfig, Key: key, Value: value, Description: description}
}

// Input builds an input forwarding block.
func Input(port, description string, targets ...process.PortAddr) Block {
	return Block{Kind: BlockInput, Port: port, Description: description, Targets: targets}
}

// Output builds an output forwarding block.
func Output(port, description string, source process.PortAddr) Block {
	return Block{Kind: BlockOutput, Port: port, Description: description, Targets: []process.PortAddr{source}}
}

// ConfigDefault is a configuration default declared by a cluster.
type ConfigDefault struct {
	Key         string
	Value       string
	Description string
}

// InputMapping forwards a cluster input port to one or more internal ports.
type InputMapping struct {
	Port        string
	Description string
	Targets     []process.PortAddr
}

// OutputMapping forwards one internal output port to a cluster output port.
type OutputMapping struct {
	Port        string
	Description string
	Source      process.PortAddr
}

// Info is a cluster description split by block kind.
type Info struct {
	Config  []ConfigDefault
	Inputs  []InputMapping
	Outputs []OutputMapping
}

// Split separates a cluster description into config defaults, input
// forwardings and output forwardings, in declaration order. A port name may
// be declared once across inputs and outputs; a config key once.
func Split(cluster string, blocks []Block) (*Info, error) {
	info := &Info{}
	ports := make(map[string]bool)
	keys := make(map[string]bool)

	for _, b := range blocks {
		switch b.Kind {
		case BlockConfig:
			if b.Key == "" {
				return nil, errors.InvalidConfiguration(cluster, "config block without a key")
			}
			if keys[b.Key] {
				return nil, errors.InvalidConfiguration(cluster, fmt.Sprintf("configuration key %q declared twice", b.Key)).
					WithDetail("key", b.Key)
			}
			keys[b.Key] = true
			info.Config = append(info.Config, ConfigDefault{Key: b.Key, Value: b.Value, Description: b.Description})

		case BlockInput, BlockOutput:
			if b.Port == "" {
				return nil, errors.InvalidConfiguration(cluster, b.Kind.String()+" block without a port name")
			}
			if ports[b.Port] {
				return nil, errors.DuplicatePort(cluster, b.Port)
			}
			ports[b.Port] = true
			if b.Kind == BlockInput {
				if len(b.Targets) == 0 {
					return nil, errors.MissingConnection(cluster, b.Port, "input forwards to no internal port")
				}
				info.Inputs = append(info.Inputs, InputMapping{
					Port: b.Port, Description: b.Description,
					Targets: append([]process.PortAddr(nil), b.Targets...),
				})
				continue
			}
			if len(b.Targets) != 1 {
				return nil, errors.InvalidConfiguration(cluster,
					fmt.Sprintf("output %q must forward exactly one internal port, got %d", b.Port, len(b.Targets)))
			}
			info.Outputs = append(info.Outputs, OutputMapping{Port: b.Port, Description: b.Description, Source: b.Targets[0]})

		default:
			return nil, errors.InvalidConfiguration(cluster, "unknown block kind "+b.Kind.String())
		}
	}
	return info, nil
}
