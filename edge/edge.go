package edge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/flowkit/errors"
)

// Endpoint addresses a port on a process.
type Endpoint struct {
	Process string `json:"process"`
	Port    string `json:"port"`
}

func (e Endpoint) String() string { return e.Process + "." + e.Port }

type sink struct {
	to        Endpoint
	queue     []Datum
	abandoned bool
	popped    int64
	maxDepth  int
}

// Edge is a FIFO channel from one output port to one or more input ports.
// Every sink receives every datum through its own queue. Capacity bounds each
// queue; a push blocks while any live sink is full. Capacity 0 is unbounded.
//
// Completion is not queued: once the source completes, a sink's Pop drains
// the remaining datums and then returns Complete forever.
type Edge struct {
	id   string
	from Endpoint

	mu       sync.Mutex
	capacity int
	sinks    []*sink
	complete bool
	pushed   int64
	changed  chan struct{}
}

// New creates an edge carrying datums from the given output port.
func New(from Endpoint, capacity int) *Edge {
	if capacity < 0 {
		capacity = 0
	}
	return &Edge{
		id:       uuid.NewString(),
		from:     from,
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// ID returns the edge's unique identifier.
func (e *Edge) ID() string { return e.id }

// From returns the source port.
func (e *Edge) From() Endpoint { return e.from }

// Sinks returns the input ports fed by this edge, in attach order.
func (e *Edge) Sinks() []Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Endpoint, len(e.sinks))
	for i, s := range e.sinks {
		out[i] = s.to
	}
	return out
}

// AddSink attaches an input port. Attaching the same port twice is an error.
func (e *Edge) AddSink(to Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sinkLocked(to) != nil {
		return errors.PortReconnect(to.Process, to.Port)
	}
	e.sinks = append(e.sinks, &sink{to: to})
	return nil
}

// RemoveSink detaches an input port and reports whether it was attached.
func (e *Edge) RemoveSink(to Endpoint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.sinks {
		if s.to == to {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			e.notifyLocked()
			return true
		}
	}
	return false
}

// Capacity returns the per-sink queue bound.
func (e *Edge) Capacity() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capacity
}

// SetCapacity changes the per-sink queue bound. Blocked producers re-check.
func (e *Edge) SetCapacity(n int) {
	if n < 0 {
		n = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capacity = n
	e.notifyLocked()
}

// Push appends d to every live sink queue, blocking while any of them is at
// capacity. Complete markers never block and may be repeated; pushing
// anything else after Complete fails.
func (e *Edge) Push(ctx context.Context, d Datum) error {
	for {
		e.mu.Lock()
		if d.Kind == KindComplete {
			if !e.complete {
				e.complete = true
				e.notifyLocked()
			}
			e.mu.Unlock()
			return nil
		}
		if e.complete {
			e.mu.Unlock()
			return errors.New(errors.KindInvalidState,
				fmt.Sprintf("push of %s after completion on edge from %s", d.Kind, e.from)).
				WithDetail("edge", e.id)
		}
		if e.hasSpaceLocked() {
			e.appendLocked(d)
			e.mu.Unlock()
			return nil
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Prime places d on the sink's queue regardless of capacity. Used to seed
// feedback loops.
func (e *Edge) Prime(to Endpoint, d Datum) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sinkLocked(to)
	if s == nil {
		return e.unknownSink(to)
	}
	s.queue = append(s.queue, d)
	if len(s.queue) > s.maxDepth {
		s.maxDepth = len(s.queue)
	}
	e.notifyLocked()
	return nil
}

// Pop removes and returns the next datum for the sink, blocking while the
// queue is empty and the source is not complete.
func (e *Edge) Pop(ctx context.Context, to Endpoint) (Datum, error) {
	return e.wait(ctx, to, true)
}

// Peek returns the next datum for the sink without removing it, blocking
// like Pop.
func (e *Edge) Peek(ctx context.Context, to Endpoint) (Datum, error) {
	return e.wait(ctx, to, false)
}

func (e *Edge) wait(ctx context.Context, to Endpoint, remove bool) (Datum, error) {
	for {
		e.mu.Lock()
		d, ok, err := e.takeLocked(to, remove)
		if err != nil || ok {
			e.mu.Unlock()
			return d, err
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Datum{}, ctx.Err()
		}
	}
}

// TryPop is the non-blocking form of Pop.
func (e *Edge) TryPop(to Endpoint) (Datum, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok, _ := e.takeLocked(to, true)
	return d, ok
}

// TryPeek is the non-blocking form of Peek.
func (e *Edge) TryPeek(to Endpoint) (Datum, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok, _ := e.takeLocked(to, false)
	return d, ok
}

func (e *Edge) takeLocked(to Endpoint, remove bool) (Datum, bool, error) {
	s := e.sinkLocked(to)
	if s == nil {
		return Datum{}, false, e.unknownSink(to)
	}
	if len(s.queue) > 0 {
		d := s.queue[0]
		if remove {
			s.queue[0] = Datum{}
			s.queue = s.queue[1:]
			s.popped++
			e.notifyLocked()
		}
		return d, true, nil
	}
	if e.complete {
		return Complete(), true, nil
	}
	return Datum{}, false, nil
}

// Ready reports whether Pop on the sink would return without blocking.
func (e *Edge) Ready(to Endpoint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sinkLocked(to)
	return s != nil && (len(s.queue) > 0 || e.complete)
}

// Done reports whether the sink has drained everything and the source is complete.
func (e *Edge) Done(to Endpoint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sinkLocked(to)
	return s != nil && len(s.queue) == 0 && e.complete
}

// Len returns the number of datums queued for the sink.
func (e *Edge) Len(to Endpoint) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sinkLocked(to); s != nil {
		return len(s.queue)
	}
	return 0
}

// HasSpace reports whether a data push would proceed without blocking.
func (e *Edge) HasSpace() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasSpaceLocked()
}

// Abandon marks a sink as no longer reading. Its queue is dropped and it no
// longer holds back producers.
func (e *Edge) Abandon(to Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sinkLocked(to); s != nil {
		s.abandoned = true
		s.queue = nil
		e.notifyLocked()
	}
}

// Completed reports whether the source has pushed Complete.
func (e *Edge) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// Reset empties every queue and clears completion and counters.
func (e *Edge) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sinks {
		s.queue = nil
		s.abandoned = false
		s.popped = 0
		s.maxDepth = 0
	}
	e.complete = false
	e.pushed = 0
	e.notifyLocked()
}

// Stats is a snapshot of edge counters.
type Stats struct {
	ID       string      `json:"id"`
	From     Endpoint    `json:"from"`
	Capacity int         `json:"capacity"`
	Pushed   int64       `json:"pushed"`
	Complete bool        `json:"complete"`
	Sinks    []SinkStats `json:"sinks"`
}

// SinkStats is a snapshot of one sink's queue.
type SinkStats struct {
	To        Endpoint `json:"to"`
	Depth     int      `json:"depth"`
	MaxDepth  int      `json:"max_depth"`
	Popped    int64    `json:"popped"`
	Abandoned bool     `json:"abandoned"`
}

// Stats returns a snapshot of the edge counters.
func (e *Edge) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{
		ID:       e.id,
		From:     e.from,
		Capacity: e.capacity,
		Pushed:   e.pushed,
		Complete: e.complete,
		Sinks:    make([]SinkStats, len(e.sinks)),
	}
	for i, s := range e.sinks {
		st.Sinks[i] = SinkStats{
			To:        s.to,
			Depth:     len(s.queue),
			MaxDepth:  s.maxDepth,
			Popped:    s.popped,
			Abandoned: s.abandoned,
		}
	}
	return st
}

// MaxDepth returns the largest queue length the sink has reached.
func (e *Edge) MaxDepth(to Endpoint) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sinkLocked(to); s != nil {
		return s.maxDepth
	}
	return 0
}

func (e *Edge) hasSpaceLocked() bool {
	if e.capacity == 0 {
		return true
	}
	for _, s := range e.sinks {
		if !s.abandoned && len(s.queue) >= e.capacity {
			return false
		}
	}
	return true
}

func (e *Edge) appendLocked(d Datum) {
	for _, s := range e.sinks {
		if s.abandoned {
			continue
		}
		s.queue = append(s.queue, d)
		if len(s.queue) > s.maxDepth {
			s.maxDepth = len(s.queue)
		}
	}
	e.pushed++
	e.notifyLocked()
}

func (e *Edge) sinkLocked(to Endpoint) *sink {
	for _, s := range e.sinks {
		if s.to == to {
			return s
		}
	}
	return nil
}

func (e *Edge) unknownSink(to Endpoint) error {
	return &errors.Error{
		Kind:    errors.KindMissingConnection,
		Process: to.Process,
		Port:    to.Port,
		Message: fmt.Sprintf("port %s is not fed by edge from %s", to, e.from),
	}
}

// Changed returns a channel closed at the next change to the edge: a push,
// pop, completion, capacity change or abandoned sink. Take it before
// checking the edge's state so that no change is missed.
func (e *Edge) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// notifyLocked wakes every goroutine waiting on the edge.
func (e *Edge) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}
