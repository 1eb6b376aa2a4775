package pipeline

import (
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// portRef is a port with its direction; an input and an output may share a name.
type portRef struct {
	dir  process.Direction
	addr process.PortAddr
}

// typeTable holds the concrete types bound to wildcard ports and to
// flow-dependent groups. Slots are "in:p.port", "out:p.port" or "flow:p/tag".
type typeTable map[string]string

func (t typeTable) clone() typeTable {
	out := make(typeTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// slotOf returns the slot a port's type is stored under, or "" for ports
// with a concrete declared type.
func slotOf(ref portRef, declared string) string {
	switch {
	case process.IsFlowDependent(declared):
		return "flow:" + ref.addr.Process + "/" + process.FlowTag(declared)
	case process.IsAny(declared):
		if ref.dir == process.Input {
			return "in:" + ref.addr.String()
		}
		return "out:" + ref.addr.String()
	default:
		return ""
	}
}

// declaredType returns the declared type tag of a port.
func (p *Pipeline) declaredType(ref portRef) string {
	proc := p.procs[ref.addr.Process]
	if proc == nil {
		return ""
	}
	var spec process.PortSpec
	if ref.dir == process.Input {
		spec, _ = proc.InputPort(ref.addr.Port)
	} else {
		spec, _ = proc.OutputPort(ref.addr.Port)
	}
	return spec.Type
}

// resolve returns the concrete type of a port under table t ("" while
// unresolved) and its slot.
func (p *Pipeline) resolve(t typeTable, ref portRef) (string, string) {
	declared := p.declaredType(ref)
	slot := slotOf(ref, declared)
	if slot == "" {
		return declared, ""
	}
	return t[slot], slot
}

// portsInSlot lists the ports whose type is stored under slot.
func (p *Pipeline) portsInSlot(slot string, ref portRef) []portRef {
	declared := p.declaredType(ref)
	if !process.IsFlowDependent(declared) {
		return []portRef{ref}
	}
	proc := p.procs[ref.addr.Process]
	var refs []portRef
	for _, s := range proc.InputPorts() {
		if s.Type == declared {
			refs = append(refs, portRef{dir: process.Input, addr: process.Addr(proc.Name(), s.Name)})
		}
	}
	for _, s := range proc.OutputPorts() {
		if s.Type == declared {
			refs = append(refs, portRef{dir: process.Output, addr: process.Addr(proc.Name(), s.Name)})
		}
	}
	return refs
}

// planTypes unifies the two ends of c against the connections in conns and
// returns the resulting table. t is not modified.
func (p *Pipeline) planTypes(t typeTable, conns []Connection, c Connection) (typeTable, error) {
	up := portRef{dir: process.Output, addr: c.From}
	down := portRef{dir: process.Input, addr: c.To}
	upType, upSlot := p.resolve(t, up)
	downType, downSlot := p.resolve(t, down)

	switch {
	case upType != "" && downType != "":
		if upType != downType {
			return nil, errors.TypeMismatch(c.From.Process, c.From.Port, upType, c.To.Process, c.To.Port, downType)
		}
		return t, nil
	case upType == "" && downType == "":
		return t, nil
	}

	next := t.clone()
	all := append(append([]Connection(nil), conns...), c)
	if upType == "" {
		return next, p.propagate(next, all, up, upSlot, downType)
	}
	return next, p.propagate(next, all, down, downSlot, upType)
}

// propagate binds slot to typ and follows connections to every other
// unresolved port whose type now follows.
func (p *Pipeline) propagate(t typeTable, conns []Connection, start portRef, slot, typ string) error {
	type item struct {
		ref  portRef
		slot string
	}
	t[slot] = typ
	queue := []item{{ref: start, slot: slot}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range p.portsInSlot(cur.slot, cur.ref) {
			for _, c := range conns {
				var peer portRef
				switch {
				case ref.dir == process.Output && c.From == ref.addr:
					peer = portRef{dir: process.Input, addr: c.To}
				case ref.dir == process.Input && c.To == ref.addr:
					peer = portRef{dir: process.Output, addr: c.From}
				default:
					continue
				}
				peerType, peerSlot := p.resolve(t, peer)
				switch {
				case peerType == "":
					t[peerSlot] = typ
					queue = append(queue, item{ref: peer, slot: peerSlot})
				case peerType != typ:
					upType, downType := typ, peerType
					if ref.dir == process.Input {
						upType, downType = peerType, typ
					}
					return errors.TypeMismatch(c.From.Process, c.From.Port, upType, c.To.Process, c.To.Port, downType)
				}
			}
		}
	}
	return nil
}

// retype rebuilds the type table from scratch by replaying every connection.
func (p *Pipeline) retype() {
	t := make(typeTable)
	var replayed []Connection
	for _, c := range p.conns {
		if next, err := p.planTypes(t, replayed, c); err == nil {
			t = next
		}
		replayed = append(replayed, c)
	}
	p.types = t
}
