package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/pipeline"
	"github.com/kbukum/flowkit/process"
)

var policies = []string{TypeSync, TypeThreadPerProcess}

// counter emits 1..n and then completes. An infinite counter never completes.
type counter struct {
	n        int
	next     int
	infinite bool
}

func (c *counter) Configure(cfg *process.Configuration) error {
	return cfg.AddOutput(process.PortSpec{Name: "out", Type: "int", Flags: process.FlagRequired | process.FlagShared})
}

func (c *counter) Step(_ context.Context, _ *process.Inputs, out *process.Outputs) error {
	if !c.infinite && c.next >= c.n {
		out.Complete()
		return nil
	}
	c.next++
	return out.Push("out", c.next)
}

// sequence pushes a fixed list of datums and then completes.
type sequence struct {
	datums []edge.Datum
	i      int
}

func (s *sequence) Configure(cfg *process.Configuration) error {
	return cfg.AddOutput(process.PortSpec{Name: "out", Type: "int", Flags: process.FlagRequired})
}

func (s *sequence) Step(_ context.Context, _ *process.Inputs, out *process.Outputs) error {
	if s.i >= len(s.datums) {
		out.Complete()
		return nil
	}
	s.i++
	return out.PushDatum("out", s.datums[s.i-1])
}

// relay forwards integers, failing on failAt if set.
type relay struct {
	failAt int
	delay  time.Duration
}

func (r *relay) Configure(cfg *process.Configuration) error {
	if err := cfg.AddInput(process.PortSpec{Name: "in", Type: "int", Flags: process.FlagRequired}); err != nil {
		return err
	}
	return cfg.AddOutput(process.PortSpec{Name: "out", Type: "int", Flags: process.FlagRequired})
}

func (r *relay) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	v, ok, err := process.ValueAs[int](in, "in")
	if err != nil || !ok {
		return err
	}
	if r.failAt != 0 && v == r.failAt {
		return fmt.Errorf("cannot relay %d", v)
	}
	time.Sleep(r.delay)
	return out.Push("out", v)
}

// accumulator adds each input to the previous sum fed back on "back".
type accumulator struct{}

func (accumulator) Configure(cfg *process.Configuration) error {
	if err := cfg.AddInput(process.PortSpec{Name: "in", Type: "int", Flags: process.FlagRequired}); err != nil {
		return err
	}
	if err := cfg.AddInput(process.PortSpec{Name: "back", Type: "int"}); err != nil {
		return err
	}
	return cfg.AddOutput(process.PortSpec{Name: "sum", Type: "int", Flags: process.FlagShared})
}

func (accumulator) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	v, ok, err := process.ValueAs[int](in, "in")
	if err != nil || !ok {
		return err
	}
	prev, _, _ := process.ValueAs[int](in, "back")
	return out.Push("sum", v+prev)
}

// collector records every integer it receives.
type collector struct {
	mu      sync.Mutex
	values  []int
	flushes int
	onValue func(n int)
}

func (c *collector) Configure(cfg *process.Configuration) error {
	return cfg.AddInput(process.PortSpec{Name: "in", Type: "int", Flags: process.FlagRequired})
}

func (c *collector) Step(_ context.Context, in *process.Inputs, _ *process.Outputs) error {
	v, ok, err := process.ValueAs[int](in, "in")
	if err != nil || !ok {
		return err
	}
	c.mu.Lock()
	c.values = append(c.values, v)
	n := len(c.values)
	c.mu.Unlock()
	if c.onValue != nil {
		c.onValue(n)
	}
	return nil
}

func (c *collector) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *collector) Values() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.values...)
}

// gate emits 1..n once opened. Until then it reports itself not ready.
type gate struct {
	open atomic.Bool
	n    int
	next int
}

func (g *gate) Configure(cfg *process.Configuration) error {
	return cfg.AddOutput(process.PortSpec{Name: "out", Type: "int", Flags: process.FlagRequired})
}

func (g *gate) Ready() bool { return g.open.Load() }

func (g *gate) Step(_ context.Context, _ *process.Inputs, out *process.Outputs) error {
	if !g.open.Load() {
		return nil
	}
	if g.next >= g.n {
		out.Complete()
		return nil
	}
	g.next++
	return out.Push("out", g.next)
}

// join needs both of its inputs.
type join struct {
	steps atomic.Int32
}

func (j *join) Configure(cfg *process.Configuration) error {
	if err := cfg.AddInput(process.PortSpec{Name: "a", Type: "int", Flags: process.FlagRequired}); err != nil {
		return err
	}
	return cfg.AddInput(process.PortSpec{Name: "b", Type: "int", Flags: process.FlagRequired})
}

func (j *join) Step(context.Context, *process.Inputs, *process.Outputs) error {
	j.steps.Add(1)
	return nil
}

type node struct {
	name string
	impl process.Impl
}

func build(t *testing.T, capacity int, nodes []node, conns [][4]string) *pipeline.Pipeline {
	t.Helper()
	p := pipeline.New(pipeline.WithDefaultCapacity(capacity), pipeline.WithName(t.Name()))
	for _, n := range nodes {
		if err := p.AddProcess(process.New(n.name, fmt.Sprintf("%T", n.impl), nil, n.impl)); err != nil {
			t.Fatalf("add %s: %v", n.name, err)
		}
	}
	for _, c := range conns {
		if err := p.Connect(c[0], c[1], c[2], c[3]); err != nil {
			t.Fatalf("connect %v: %v", c, err)
		}
	}
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return p
}

func linear(t *testing.T, capacity int, sink *collector, mid *relay) *pipeline.Pipeline {
	return build(t, capacity,
		[]node{{"a", &counter{n: 5}}, {"b", mid}, {"c", sink}},
		[][4]string{{"a", "out", "b", "in"}, {"b", "out", "c", "in"}})
}

func create(t *testing.T, policy string, p *pipeline.Pipeline, opts ...Option) Scheduler {
	t.Helper()
	s, err := NewRegistry().Create(policy, p, opts...)
	if err != nil {
		t.Fatalf("create %s: %v", policy, err)
	}
	return s
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLinear_CapacityOne(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			sink := &collector{}
			p := linear(t, 1, sink, &relay{delay: time.Millisecond})
			s := create(t, policy, p)

			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := sink.Values(); !equalInts(got, []int{1, 2, 3, 4, 5}) {
				t.Errorf("expected [1 2 3 4 5], got %v", got)
			}
			ab, _ := p.OutputEdgesForPort("a", "out")
			if depth := ab.MaxDepth(process.Addr("b", "in")); depth > 1 {
				t.Errorf("expected a->b to hold at most 1 datum, got %d", depth)
			}
			for _, name := range p.ProcessNames() {
				proc, _ := p.ProcessByName(name)
				if proc.State() != process.StateFinalized {
					t.Errorf("expected %s finalized, got %s", name, proc.State())
				}
			}
			st := s.Stats()
			if st.State != StateDone || st.Scheduler != policy {
				t.Errorf("expected done %s run, got %s %s", policy, st.State, st.Scheduler)
			}
			if len(st.Processes) != 3 || len(st.Edges) != 2 {
				t.Errorf("expected 3 processes and 2 edges, got %d and %d", len(st.Processes), len(st.Edges))
			}
		})
	}
}

func TestRunTwiceAfterReset(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			sink := &collector{}
			src := &counter{n: 4}
			p := build(t, 0,
				[]node{{"src", src}, {"sink", sink}},
				[][4]string{{"src", "out", "sink", "in"}})

			if err := create(t, policy, p).Run(context.Background()); err != nil {
				t.Fatalf("first run: %v", err)
			}
			first := len(sink.Values())

			if err := p.Reset(context.Background()); err != nil {
				t.Fatalf("reset: %v", err)
			}
			src.next = 0
			sink.values = nil
			if err := p.Setup(context.Background()); err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := create(t, policy, p).Run(context.Background()); err != nil {
				t.Fatalf("second run: %v", err)
			}
			if first != 4 || len(sink.Values()) != first {
				t.Errorf("expected 4 datums on both runs, got %d and %d", first, len(sink.Values()))
			}
		})
	}
}

func TestStepFailure(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			sink := &collector{}
			p := linear(t, 1, sink, &relay{failAt: 3})
			s := create(t, policy, p)

			err := s.Run(context.Background())
			if !errors.IsKind(err, errors.KindStepFailed) {
				t.Fatalf("expected step-failed, got %v", err)
			}
			if e, _ := errors.As(err); e.Process != "b" {
				t.Errorf("expected process b to be named, got %q", e.Process)
			}
			if stderrors.Unwrap(err) == nil {
				t.Error("expected the process error to be kept as cause")
			}
			if got := sink.Values(); len(got) > 2 {
				t.Errorf("expected at most 2 values before failure, got %v", got)
			}
			for _, name := range p.ProcessNames() {
				proc, _ := p.ProcessByName(name)
				if proc.State() != process.StateFinalized {
					t.Errorf("expected %s finalized after failure, got %s", name, proc.State())
				}
			}
			if st := s.Stats(); st.State != StateFailed || st.Error == "" {
				t.Errorf("expected failed state with error, got %s %q", st.State, st.Error)
			}
		})
	}
}

func TestStop(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			var s Scheduler
			var once sync.Once
			sink := &collector{onValue: func(n int) {
				if n >= 3 {
					once.Do(func() { s.Stop() })
				}
			}}
			p := build(t, 2,
				[]node{{"src", &counter{infinite: true}}, {"sink", sink}},
				[][4]string{{"src", "out", "sink", "in"}})
			s = create(t, policy, p)

			done := make(chan error, 1)
			go func() { done <- s.Run(context.Background()) }()
			select {
			case err := <-done:
				if !errors.IsKind(err, errors.KindStopped) {
					t.Fatalf("expected stopped, got %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("run did not stop")
			}
			if got := s.Stats().State; got != StateStopped {
				t.Errorf("expected stopped state, got %s", got)
			}
		})
	}
}

func TestContextCancel(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			sink := &collector{onValue: func(n int) {
				if n == 2 {
					cancel()
				}
			}}
			p := build(t, 1,
				[]node{{"src", &counter{infinite: true}}, {"sink", sink}},
				[][4]string{{"src", "out", "sink", "in"}})

			err := create(t, policy, p).Run(ctx)
			if !stderrors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		})
	}
}

func TestFlushPropagation(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			sink := &collector{}
			src := &sequence{datums: []edge.Datum{edge.Data(1), edge.Flush(), edge.Data(2), edge.Empty(), edge.Data(3)}}
			p := build(t, 0,
				[]node{{"src", src}, {"mid", &relay{}}, {"sink", sink}},
				[][4]string{{"src", "out", "mid", "in"}, {"mid", "out", "sink", "in"}})

			if err := create(t, policy, p).Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := sink.Values(); !equalInts(got, []int{1, 2, 3}) {
				t.Errorf("expected [1 2 3], got %v", got)
			}
			if sink.flushes != 1 {
				t.Errorf("expected 1 flush to reach the sink, got %d", sink.flushes)
			}
		})
	}
}

func TestFeedbackLoop(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			sink := &collector{}
			p := pipeline.New()
			for _, n := range []node{{"src", &counter{n: 5}}, {"acc", accumulator{}}, {"sink", sink}} {
				if err := p.AddProcess(process.New(n.name, "test", nil, n.impl)); err != nil {
					t.Fatalf("add: %v", err)
				}
			}
			if err := p.Connect("src", "out", "acc", "in"); err != nil {
				t.Fatalf("connect: %v", err)
			}
			if err := p.Connect("acc", "sum", "sink", "in"); err != nil {
				t.Fatalf("connect: %v", err)
			}
			if err := p.ConnectFeedback("acc", "sum", "acc", "back"); err != nil {
				t.Fatalf("connect feedback: %v", err)
			}
			if err := p.Setup(context.Background()); err != nil {
				t.Fatalf("setup: %v", err)
			}

			if err := create(t, policy, p).Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := sink.Values(); !equalInts(got, []int{1, 3, 6, 10, 15}) {
				t.Errorf("expected running sums, got %v", got)
			}
		})
	}
}

func TestFanOut(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			left, right := &collector{}, &collector{}
			p := build(t, 1,
				[]node{{"src", &counter{n: 6}}, {"left", left}, {"right", right}},
				[][4]string{{"src", "out", "left", "in"}, {"src", "out", "right", "in"}})

			if err := create(t, policy, p).Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			want := []int{1, 2, 3, 4, 5, 6}
			if !equalInts(left.Values(), want) || !equalInts(right.Values(), want) {
				t.Errorf("expected both sinks to see %v, got %v and %v", want, left.Values(), right.Values())
			}
		})
	}
}

func TestNotSetup(t *testing.T) {
	p := pipeline.New()
	for _, policy := range policies {
		_, err := NewRegistry().Create(policy, p)
		if !errors.IsKind(err, errors.KindPipelineNotSetup) {
			t.Errorf("%s: expected pipeline-not-setup, got %v", policy, err)
		}
	}
	if _, err := NewSweeper(p); !errors.IsKind(err, errors.KindPipelineNotSetup) {
		t.Errorf("sweeper: expected pipeline-not-setup, got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	p := linear(t, 0, &collector{}, &relay{})
	s := create(t, TypeSync, p)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.IsKind(err, errors.KindInvalidState) {
		t.Errorf("expected invalid-state on second start, got %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Errorf("wait: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	types := r.Types()
	if len(types) != 2 || types[0] != TypeSync || types[1] != TypeThreadPerProcess {
		t.Errorf("expected built-in policies, got %v", types)
	}
	if _, ok := r.Description(TypeSync); !ok {
		t.Error("expected description for sync")
	}

	p := linear(t, 0, &collector{}, &relay{})
	if _, err := r.Create("round_robin", p); !errors.IsKind(err, errors.KindNoSuchSchedulerType) {
		t.Errorf("expected no-such-scheduler-type, got %v", err)
	}

	r.Register("round_robin", "alias of sync", func(p *pipeline.Pipeline, opts ...Option) (Scheduler, error) {
		return NewSync(p, opts...)
	})
	s, err := r.Create("round_robin", p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("run: %v", err)
	}
}

func TestObservabilityOptions(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	metrics, err := observability.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	p := linear(t, 0, &collector{}, &relay{})
	s := create(t, TypeSync, p, WithMetrics(metrics), WithTracing("step"), WithRunID("run-42"))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	steps, runs := 0, 0
	for _, span := range exporter.GetSpans() {
		switch span.Name {
		case observability.SpanRun:
			runs++
		case "step.a", "step.b", "step.c":
			steps++
		}
	}
	if runs != 1 {
		t.Errorf("expected 1 run span, got %d", runs)
	}
	// five values then the completing step, for each of a, b and c.
	if steps != 18 {
		t.Errorf("expected 18 step spans, got %d", steps)
	}
	if s.Stats().RunID != "run-42" {
		t.Errorf("expected run id run-42, got %s", s.Stats().RunID)
	}
}

func TestRequiredCompleteEndsJoin(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			j := &join{}
			p := build(t, 1,
				[]node{{"gate", &gate{n: 3}}, {"empty", &sequence{}}, {"join", j}},
				[][4]string{{"gate", "out", "join", "a"}, {"empty", "out", "join", "b"}})
			s := create(t, policy, p)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			start := time.Now()
			if err := s.Run(ctx); err != nil {
				t.Fatalf("expected the join to complete from b, got %v after %v", err, time.Since(start))
			}
			if n := j.steps.Load(); n != 0 {
				t.Errorf("expected join never to step, got %d steps", n)
			}
			proc, _ := p.ProcessByName("join")
			if proc.State() != process.StateFinalized {
				t.Errorf("expected join finalized, got %s", proc.State())
			}
		})
	}
}

func TestWaitsForReadiness(t *testing.T) {
	sink := &collector{}
	g := &gate{n: 3}
	p := build(t, 1,
		[]node{{"gate", g}, {"sink", sink}},
		[][4]string{{"gate", "out", "sink", "in"}})
	s := create(t, TypeSync, p, WithIdleWait(time.Millisecond))

	time.AfterFunc(20*time.Millisecond, func() { g.open.Store(true) })
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sink.Values(); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestStopWhileWaiting(t *testing.T) {
	for _, policy := range policies {
		t.Run(policy, func(t *testing.T) {
			p := build(t, 1,
				[]node{{"gate", &gate{n: 3}}, {"sink", &collector{}}},
				[][4]string{{"gate", "out", "sink", "in"}})
			s := create(t, policy, p)

			time.AfterFunc(20*time.Millisecond, s.Stop)
			done := make(chan error, 1)
			go func() { done <- s.Run(context.Background()) }()
			select {
			case err := <-done:
				if !errors.IsKind(err, errors.KindStopped) {
					t.Errorf("expected stopped, got %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("run did not stop")
			}
		})
	}
}

func TestStopUnblocksEdgeWait(t *testing.T) {
	p := build(t, 1,
		[]node{{"gate", &gate{n: 3}}, {"sink", &collector{}}},
		[][4]string{{"gate", "out", "sink", "in"}})
	s, err := NewSync(p)
	if err != nil {
		t.Fatal(err)
	}
	wait, cancel := s.stopContext(context.Background())
	defer cancel()

	var sinkTask *task
	for _, tk := range s.sweeper.tasks {
		if tk.Name() == "sink" {
			sinkTask = tk
		}
	}
	done := make(chan error, 1)
	go func() {
		_, err := sinkTask.Step(context.Background(), wait)
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("expected the step to wait on its empty input")
	case <-time.After(20 * time.Millisecond):
	}

	s.Stop()
	select {
	case err := <-done:
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop did not unblock the step")
	}
}

func TestStepWakesOnRequiredComplete(t *testing.T) {
	p := build(t, 1,
		[]node{{"gate", &gate{n: 3}}, {"empty", &sequence{}}, {"join", &join{}}},
		[][4]string{{"gate", "out", "join", "a"}, {"empty", "out", "join", "b"}})
	s, err := NewSync(p)
	if err != nil {
		t.Fatal(err)
	}
	tasks := make(map[string]*task)
	for _, tk := range s.sweeper.tasks {
		tasks[tk.Name()] = tk
	}

	done := make(chan bool, 1)
	go func() {
		completed, _ := tasks["join"].Step(context.Background(), context.Background())
		done <- completed
	}()
	select {
	case <-done:
		t.Fatal("expected join to wait while both inputs are empty")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := tasks["empty"].Step(context.Background(), context.Background()); err != nil {
		t.Fatalf("step empty: %v", err)
	}
	select {
	case completed := <-done:
		if !completed {
			t.Error("expected join to complete")
		}
	case <-time.After(time.Second):
		t.Fatal("join did not wake when b completed")
	}
	_ = p.Shutdown(context.Background())
}
