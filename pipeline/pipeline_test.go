package pipeline

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// stub declares the ports it is given and records lifecycle calls.
type stub struct {
	inputs    []process.PortSpec
	outputs   []process.PortSpec
	keys      []process.ConfigKey
	initErr   error
	inits     *[]string
	finalizes *[]string
	name      string
}

func (s *stub) Configure(c *process.Configuration) error {
	s.name = c.Name()
	for _, in := range s.inputs {
		if err := c.AddInput(in); err != nil {
			return err
		}
	}
	for _, out := range s.outputs {
		if err := c.AddOutput(out); err != nil {
			return err
		}
	}
	for _, k := range s.keys {
		c.DeclareConfig(k)
	}
	return nil
}

func (s *stub) Init(context.Context) error {
	if s.inits != nil {
		*s.inits = append(*s.inits, s.name)
	}
	return s.initErr
}

func (s *stub) Finalize(context.Context) error {
	if s.finalizes != nil {
		*s.finalizes = append(*s.finalizes, s.name)
	}
	return nil
}

func (s *stub) Step(context.Context, *process.Inputs, *process.Outputs) error { return nil }

func in(name, typ string, flags process.Flags) process.PortSpec {
	return process.PortSpec{Name: name, Type: typ, Flags: flags}
}

func out(name, typ string, flags process.Flags) process.PortSpec {
	return process.PortSpec{Name: name, Type: typ, Flags: flags}
}

func add(t *testing.T, p *Pipeline, name string, s *stub) *process.Process {
	t.Helper()
	proc := process.New(name, "stub", nil, s)
	if err := p.AddProcess(proc); err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	return proc
}

func source(typ string) *stub {
	return &stub{outputs: []process.PortSpec{out("out", typ, process.FlagRequired)}}
}

func sink(typ string) *stub {
	return &stub{inputs: []process.PortSpec{in("in", typ, process.FlagRequired)}}
}

func relay(inType, outType string) *stub {
	return &stub{
		inputs:  []process.PortSpec{in("in", inType, process.FlagRequired)},
		outputs: []process.PortSpec{out("out", outType, 0)},
	}
}

func TestConnect_LinearSetup(t *testing.T) {
	p := New()
	var inits, finals []string
	for _, name := range []string{"c", "b", "a"} {
		var s *stub
		switch name {
		case "a":
			s = source("int")
		case "b":
			s = relay("int", "int")
		case "c":
			s = sink("int")
		}
		s.inits, s.finalizes = &inits, &finals
		add(t, p, name, s)
	}
	if err := p.Connect("a", "out", "b", "in"); err != nil {
		t.Fatalf("connect a->b: %v", err)
	}
	if err := p.Connect("b", "out", "c", "in"); err != nil {
		t.Fatalf("connect b->c: %v", err)
	}
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !p.IsSetup() || !p.SetupSuccessful() {
		t.Fatal("expected pipeline to be set up")
	}
	if got := p.TopoOrder(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("expected a,b,c order, got %v", got)
	}
	if len(inits) != 3 || inits[0] != "a" || inits[1] != "b" || inits[2] != "c" {
		t.Errorf("expected init in topological order, got %v", inits)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(finals) != 3 || finals[0] != "c" || finals[2] != "a" {
		t.Errorf("expected finalize in reverse order, got %v", finals)
	}
	if terms := p.Terminals(); len(terms) != 1 || terms[0] != "c" {
		t.Errorf("expected terminal c, got %v", terms)
	}
}

func TestConnect_TypeMismatchLeavesPipelineConnectable(t *testing.T) {
	p := New()
	add(t, p, "src", source("int"))
	add(t, p, "strs", sink("string"))
	add(t, p, "ints", sink("int"))

	err := p.Connect("src", "out", "strs", "in")
	if !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Fatalf("expected type-mismatch, got %v", err)
	}
	if len(p.Connections()) != 0 {
		t.Fatalf("expected no connection after mismatch, got %v", p.Connections())
	}
	if err := p.RemoveProcess("strs"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.Connect("src", "out", "ints", "in"); err != nil {
		t.Fatalf("expected corrected connection to succeed, got %v", err)
	}
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func TestConnect_Errors(t *testing.T) {
	p := New()
	add(t, p, "src", source("int"))
	add(t, p, "other", source("int"))
	add(t, p, "dst", sink("int"))

	tests := []struct {
		name                     string
		up, upPort, down, dnPort string
		kind                     errors.Kind
	}{
		{"unknown upstream", "nope", "out", "dst", "in", errors.KindNoSuchProcess},
		{"unknown downstream", "src", "out", "nope", "in", errors.KindNoSuchProcess},
		{"unknown output", "src", "bad", "dst", "in", errors.KindNoSuchPort},
		{"unknown input", "src", "out", "dst", "bad", errors.KindNoSuchPort},
		{"input used as output", "dst", "in", "dst", "in", errors.KindNoSuchPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Connect(tt.up, tt.upPort, tt.down, tt.dnPort)
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}

	if err := p.Connect("src", "out", "dst", "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Connect("src", "out", "dst", "in"); !errors.IsKind(err, errors.KindPortReconnect) {
		t.Errorf("expected port-reconnect for duplicate, got %v", err)
	}
	if err := p.Connect("other", "out", "dst", "in"); !errors.IsKind(err, errors.KindPortReconnect) {
		t.Errorf("expected port-reconnect for second upstream, got %v", err)
	}
}

func TestConnect_SharedPorts(t *testing.T) {
	p := New()
	add(t, p, "src", &stub{outputs: []process.PortSpec{out("out", "int", 0)}})
	add(t, p, "fan", &stub{outputs: []process.PortSpec{out("out", "int", process.FlagShared)}})
	add(t, p, "a", sink("int"))
	add(t, p, "b", sink("int"))
	add(t, p, "m", &stub{inputs: []process.PortSpec{in("in", "int", process.FlagMutable)}})
	add(t, p, "merge", &stub{inputs: []process.PortSpec{in("in", "int", process.FlagShared)}})

	if err := p.Connect("src", "out", "a", "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Connect("src", "out", "b", "in"); !errors.IsKind(err, errors.KindFlagMismatch) {
		t.Errorf("expected flag-mismatch for unshared fan-out, got %v", err)
	}

	if err := p.Connect("fan", "out", "b", "in"); err != nil {
		t.Fatalf("connect fan->b: %v", err)
	}
	if err := p.Connect("fan", "out", "m", "in"); !errors.IsKind(err, errors.KindFlagMismatch) {
		t.Errorf("expected flag-mismatch for mutable sink on shared edge, got %v", err)
	}
	if err := p.Connect("fan", "out", "merge", "in"); err != nil {
		t.Fatalf("connect fan->merge: %v", err)
	}
	e, ok := p.OutputEdgesForPort("fan", "out")
	if !ok || len(e.Sinks()) != 2 {
		t.Fatalf("expected one edge with two sinks, got %v", e)
	}

	if err := p.Disconnect("src", "out", "a", "in"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := p.Connect("src", "out", "merge", "in"); err != nil {
		t.Errorf("expected shared input to accept a second edge, got %v", err)
	}
	if got := p.InputEdgesForPort("merge", "in"); len(got) != 2 {
		t.Errorf("expected two edges into merge.in, got %d", len(got))
	}
}

func TestConnect_WildcardPropagation(t *testing.T) {
	p := New()
	add(t, p, "src", source("float"))
	add(t, p, "pass", &stub{
		inputs:  []process.PortSpec{in("in", process.FlowDependent("t"), process.FlagRequired)},
		outputs: []process.PortSpec{out("out", process.FlowDependent("t"), process.FlagRequired)},
	})
	add(t, p, "any", &stub{inputs: []process.PortSpec{in("in", process.TypeAny, process.FlagRequired)}})
	add(t, p, "strs", sink("string"))

	if err := p.Connect("pass", "out", "any", "in"); err != nil {
		t.Fatalf("connect pass->any: %v", err)
	}
	if typ, _ := p.PortType(process.Input, "any", "in"); typ != process.TypeAny {
		t.Errorf("expected unresolved wildcard, got %q", typ)
	}
	if err := p.Setup(context.Background()); !errors.IsKind(err, errors.KindUntypedConnection) {
		t.Fatalf("expected untyped-connection before typing, got %v", err)
	}

	if err := p.Connect("src", "out", "pass", "in"); err != nil {
		t.Fatalf("connect src->pass: %v", err)
	}
	for _, tc := range []struct {
		dir        process.Direction
		proc, port string
	}{
		{process.Input, "pass", "in"},
		{process.Output, "pass", "out"},
		{process.Input, "any", "in"},
	} {
		typ, err := p.PortType(tc.dir, tc.proc, tc.port)
		if err != nil || typ != "float" {
			t.Errorf("expected %s.%s to resolve to float, got %q (%v)", tc.proc, tc.port, typ, err)
		}
	}

	if err := p.Disconnect("src", "out", "pass", "in"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if typ, _ := p.PortType(process.Output, "pass", "out"); typ != process.FlowDependent("t") {
		t.Errorf("expected flow group to unbind after disconnect, got %q", typ)
	}
}

func TestConnect_FlowGroupConflict(t *testing.T) {
	p := New()
	add(t, p, "ints", source("int"))
	add(t, p, "zip", &stub{
		inputs: []process.PortSpec{
			in("a", process.FlowDependent("t"), process.FlagRequired),
			in("b", process.FlowDependent("t"), process.FlagRequired),
		},
	})
	add(t, p, "strs", source("string"))

	if err := p.Connect("ints", "out", "zip", "a"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Connect("strs", "out", "zip", "b"); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Errorf("expected type-mismatch inside flow group, got %v", err)
	}
}

func TestSetup_MissingConnection(t *testing.T) {
	p := New()
	add(t, p, "src", source("int"))
	add(t, p, "dst", &stub{inputs: []process.PortSpec{
		in("in", "int", process.FlagRequired),
		in("side", "int", process.FlagRequired),
	}})
	if err := p.Connect("src", "out", "dst", "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := p.Setup(context.Background())
	if !errors.IsKind(err, errors.KindMissingConnection) {
		t.Fatalf("expected missing-connection, got %v", err)
	}
	if e, _ := errors.As(err); e.Process != "dst" || e.Port != "side" {
		t.Errorf("expected dst.side to be named, got %s.%s", e.Process, e.Port)
	}
	if p.IsSetup() {
		t.Error("expected failed validation to leave pipeline mutable")
	}
}

func TestSetup_RequiredOutput(t *testing.T) {
	p := New()
	add(t, p, "src", source("int"))
	err := p.Setup(context.Background())
	if !errors.IsKind(err, errors.KindMissingConnection) {
		t.Fatalf("expected missing-connection for required output, got %v", err)
	}
}

func cyclic(t *testing.T, feedback bool) *Pipeline {
	t.Helper()
	p := New()
	add(t, p, "a", &stub{
		inputs:  []process.PortSpec{in("back", "int", 0)},
		outputs: []process.PortSpec{out("out", "int", 0)},
	})
	add(t, p, "b", relay("int", "int"))
	if err := p.Connect("a", "out", "b", "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var err error
	if feedback {
		err = p.ConnectFeedback("b", "out", "a", "back")
	} else {
		err = p.Connect("b", "out", "a", "back")
	}
	if err != nil {
		t.Fatalf("connect back: %v", err)
	}
	return p
}

func TestSetup_CycleDetection(t *testing.T) {
	err := cyclic(t, false).Setup(context.Background())
	if !errors.IsKind(err, errors.KindPipelineIsCyclic) {
		t.Fatalf("expected pipeline-is-cyclic, got %v", err)
	}

	p := cyclic(t, true)
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("expected feedback cycle to set up, got %v", err)
	}
	e, ok := p.OutputEdgesForPort("b", "out")
	if !ok {
		t.Fatal("expected feedback edge")
	}
	d, ok := e.TryPop(process.Addr("a", "back"))
	if !ok || d.Kind != edge.KindEmpty {
		t.Errorf("expected feedback edge primed with empty, got %v %v", d, ok)
	}
}

func TestSetup_AlreadySetup(t *testing.T) {
	p := New()
	add(t, p, "src", source("int"))
	add(t, p, "dst", sink("int"))
	if err := p.Connect("src", "out", "dst", "in"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	extra := process.New("extra", "stub", nil, sink("int"))
	checks := map[string]error{
		"add":        p.AddProcess(extra),
		"remove":     p.RemoveProcess("dst"),
		"connect":    p.Connect("src", "out", "dst", "in"),
		"disconnect": p.Disconnect("src", "out", "dst", "in"),
		"capacity":   p.SetEdgeCapacity("src", "out", 3),
		"setup":      p.Setup(context.Background()),
	}
	for op, err := range checks {
		if !errors.IsKind(err, errors.KindPipelineAlreadySetup) {
			t.Errorf("%s: expected pipeline-already-setup, got %v", op, err)
		}
	}

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if p.IsSetup() {
		t.Error("expected reset to make the pipeline mutable")
	}
	if err := p.AddProcess(extra); err != nil {
		t.Errorf("expected add after reset to succeed, got %v", err)
	}
}

func TestSetup_InitRollback(t *testing.T) {
	p := New()
	var inits, finals []string
	a := source("int")
	b := relay("int", "int")
	c := sink("int")
	boom := stderrors.New("boom")
	c.initErr = boom
	for _, s := range []*stub{a, b, c} {
		s.inits, s.finalizes = &inits, &finals
	}
	add(t, p, "a", a)
	bp := add(t, p, "b", b)
	add(t, p, "c", c)
	_ = p.Connect("a", "out", "b", "in")
	_ = p.Connect("b", "out", "c", "in")

	err := p.Setup(context.Background())
	if !errors.IsKind(err, errors.KindInitFailed) {
		t.Fatalf("expected init-failed, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if e, _ := errors.As(err); e.Process != "c" {
		t.Errorf("expected c to be named, got %q", e.Process)
	}
	if len(finals) != 2 || finals[0] != "b" || finals[1] != "a" {
		t.Errorf("expected b then a to be finalized, got %v", finals)
	}
	if p.IsSetup() || p.SetupSuccessful() {
		t.Error("expected rollback to leave the pipeline mutable")
	}
	if bp.State() != process.StateConfigured {
		t.Errorf("expected b back in configured, got %s", bp.State())
	}

	c.initErr = nil
	if err := p.Setup(context.Background()); err != nil {
		t.Errorf("expected second setup to succeed, got %v", err)
	}
}

func TestSetup_RollbackUnlocksConfig(t *testing.T) {
	p := New()
	a := source("int")
	a.keys = []process.ConfigKey{{Key: "seed", Default: "7"}}
	c := sink("int")
	c.initErr = stderrors.New("boom")
	ap := add(t, p, "a", a)
	add(t, p, "c", c)
	_ = p.Connect("a", "out", "c", "in")

	if err := p.Setup(context.Background()); !errors.IsKind(err, errors.KindInitFailed) {
		t.Fatalf("expected init-failed, got %v", err)
	}
	if ap.Config().IsReadOnly("seed") {
		t.Error("expected rollback to unlock seed")
	}
	if err := ap.Reconfigure(context.Background(), config.FromMap(map[string]string{"seed": "8"})); err != nil {
		t.Fatalf("expected reconfigure after rollback to succeed, got %v", err)
	}

	c.initErr = nil
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if v, _ := ap.Config().Get("seed"); v != "8" {
		t.Errorf("expected seed 8, got %q", v)
	}
	if !ap.Config().IsReadOnly("seed") {
		t.Error("expected seed locked again after setup")
	}
	if !ap.Config().IsReadOnly(process.KeyName) {
		t.Error("expected the process name to stay locked")
	}
}

func TestAddProcess_Duplicate(t *testing.T) {
	p := New()
	add(t, p, "a", source("int"))
	err := p.AddProcess(process.New("a", "stub", nil, source("int")))
	if !errors.IsKind(err, errors.KindDuplicateProcessName) {
		t.Errorf("expected duplicate-process-name, got %v", err)
	}
}

func TestEdgeCapacity(t *testing.T) {
	p := New(WithDefaultCapacity(4))
	add(t, p, "a", source("int"))
	block := config.FromMap(map[string]string{KeyEdgeCapacity: "1"})
	if err := p.AddProcess(process.New("b", "stub", block, relay("int", "int"))); err != nil {
		t.Fatalf("add: %v", err)
	}
	add(t, p, "c", sink("int"))
	_ = p.Connect("a", "out", "b", "in")
	_ = p.Connect("b", "out", "c", "in")

	ab, _ := p.OutputEdgesForPort("a", "out")
	bc, _ := p.OutputEdgesForPort("b", "out")
	if ab.Capacity() != 4 {
		t.Errorf("expected default capacity 4, got %d", ab.Capacity())
	}
	if bc.Capacity() != 1 {
		t.Errorf("expected configured capacity 1, got %d", bc.Capacity())
	}
	if err := p.SetEdgeCapacity("a", "out", 2); err != nil || ab.Capacity() != 2 {
		t.Errorf("expected capacity 2, got %d (%v)", ab.Capacity(), err)
	}
}

func TestQueries(t *testing.T) {
	p := New()
	add(t, p, "src", &stub{outputs: []process.PortSpec{out("out", "int", process.FlagShared)}})
	add(t, p, "x", sink("int"))
	add(t, p, "y", sink("int"))
	_ = p.Connect("src", "out", "x", "in")
	_ = p.Connect("src", "out", "y", "in")

	if got := p.DownstreamForProcess("src"); len(got) != 2 {
		t.Errorf("expected 2 downstream processes, got %v", got)
	}
	if got := p.UpstreamForProcess("y"); len(got) != 1 || got[0] != "src" {
		t.Errorf("expected src upstream of y, got %v", got)
	}
	if sender, ok := p.SenderForPort("x", "in"); !ok || sender != process.Addr("src", "out") {
		t.Errorf("expected src.out sender, got %v", sender)
	}
	if got := p.ReceiversForPort("src", "out"); len(got) != 2 {
		t.Errorf("expected 2 receivers, got %v", got)
	}
	c, ok := p.ConnectionTo("y", "in")
	if !ok {
		t.Fatal("expected connection into y.in")
	}
	if _, ok := p.EdgeForConnection(c); !ok {
		t.Error("expected edge for connection")
	}
	if got := p.InputEdgesForProcess("x"); len(got["in"]) != 1 {
		t.Errorf("expected one input edge, got %v", got)
	}
	if got := p.OutputEdgesForProcess("src"); got["out"] == nil {
		t.Error("expected output edge for src.out")
	}
	if len(p.Edges()) != 1 {
		t.Errorf("expected one shared edge, got %d", len(p.Edges()))
	}
	if _, err := p.ProcessByName("nope"); !errors.IsKind(err, errors.KindNoSuchProcess) {
		t.Errorf("expected no-such-process, got %v", err)
	}
	if len(p.ClusterNames()) != 0 {
		t.Errorf("expected no clusters, got %v", p.ClusterNames())
	}
	if err := p.Disconnect("src", "out", "nope", "in"); !errors.IsKind(err, errors.KindMissingConnection) {
		t.Errorf("expected missing-connection, got %v", err)
	}
}

func TestReconfigure(t *testing.T) {
	p := New()
	s := source("int")
	s.keys = []process.ConfigKey{
		{Key: "rate", Default: "1", Tunable: true},
		{Key: "seed", Default: "7"},
	}
	src := add(t, p, "src", s)
	add(t, p, "dst", sink("int"))
	_ = p.Connect("src", "out", "dst", "in")

	if err := p.Reconfigure(context.Background(), config.NewBlock()); !errors.IsKind(err, errors.KindPipelineNotSetup) {
		t.Errorf("expected pipeline-not-setup, got %v", err)
	}
	_ = src.Config().Set("seed", "7")
	if err := p.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := p.Reconfigure(context.Background(), config.FromMap(map[string]string{"src.rate": "5"})); err != nil {
		t.Fatalf("reconfigure tunable: %v", err)
	}
	if v, _ := src.Config().Get("rate"); v != "5" {
		t.Errorf("expected rate 5, got %q", v)
	}
	err := p.Reconfigure(context.Background(), config.FromMap(map[string]string{"src.seed": "8"}))
	if !errors.IsKind(err, errors.KindReadOnlyValue) {
		t.Errorf("expected read-only-value, got %v", err)
	}
}
