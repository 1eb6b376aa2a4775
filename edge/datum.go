package edge

import "fmt"

// Kind classifies a Datum.
type Kind int

const (
	// KindData carries one payload value.
	KindData Kind = iota
	// KindEmpty means the upstream has no value this step but is not done.
	KindEmpty
	// KindFlush asks consumers to discard state buffered for the current segment.
	KindFlush
	// KindComplete means the upstream will never send again.
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindEmpty:
		return "empty"
	case KindFlush:
		return "flush"
	case KindComplete:
		return "complete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Datum is one item traveling on an edge.
type Datum struct {
	Kind  Kind
	Value any
}

// Data wraps a payload value.
func Data(v any) Datum { return Datum{Kind: KindData, Value: v} }

// Empty returns an empty marker.
func Empty() Datum { return Datum{Kind: KindEmpty} }

// Flush returns a flush marker.
func Flush() Datum { return Datum{Kind: KindFlush} }

// Complete returns a completion marker.
func Complete() Datum { return Datum{Kind: KindComplete} }

// IsData reports whether d carries a payload.
func (d Datum) IsData() bool { return d.Kind == KindData }

// IsComplete reports whether d is a completion marker.
func (d Datum) IsComplete() bool { return d.Kind == KindComplete }

func (d Datum) String() string {
	if d.Kind == KindData {
		return fmt.Sprintf("data(%v)", d.Value)
	}
	return d.Kind.String()
}
