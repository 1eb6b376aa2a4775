package process

import (
	"context"
	"fmt"
	"testing"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
)

type testImpl struct {
	configureErr error
	inits        int
	finals       int
	flushes      int
	gain         int
	reconfigured bool
}

func (t *testImpl) Configure(c *Configuration) error {
	if t.configureErr != nil {
		return t.configureErr
	}
	c.DeclareConfig(ConfigKey{Key: "gain", Default: "2", Tunable: true})
	c.DeclareConfig(ConfigKey{Key: "mode", Default: "fast"})
	if err := c.AddInput(PortSpec{Name: "in", Type: "int", Flags: FlagRequired}); err != nil {
		return err
	}
	if err := c.AddOutput(PortSpec{Name: "out", Type: "int"}); err != nil {
		return err
	}
	g, err := c.Int("gain")
	t.gain = g
	return err
}

func (t *testImpl) Step(_ context.Context, in *Inputs, out *Outputs) error {
	v, ok, err := ValueAs[int](in, "in")
	if err != nil || !ok {
		return err
	}
	return out.Push("out", v*t.gain)
}

func (t *testImpl) Init(context.Context) error     { t.inits++; return nil }
func (t *testImpl) Finalize(context.Context) error { t.finals++; return nil }
func (t *testImpl) Flush(context.Context) error    { t.flushes++; return nil }

func (t *testImpl) Reconfigure(c *Configuration) error {
	g, err := c.Int("gain")
	t.gain = g
	t.reconfigured = true
	return err
}

func newTestProcess(t *testing.T, values map[string]string) (*Process, *testImpl) {
	t.Helper()
	impl := &testImpl{}
	return New("p", "test", config.FromMap(values), impl), impl
}

func TestProcessLifecycle(t *testing.T) {
	ctx := context.Background()
	p, impl := newTestProcess(t, nil)
	if p.State() != StateCreated {
		t.Fatalf("expected created, got %s", p.State())
	}
	if err := p.Step(ctx, NewInputs(), NewOutputs("p", nil)); !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("expected invalid-state stepping a created process, got %v", err)
	}
	if err := p.Configure(); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if err := p.Configure(); !errors.IsKind(err, errors.KindInvalidState) {
		t.Errorf("expected invalid-state on second configure, got %v", err)
	}
	if len(p.InputPorts()) != 1 || len(p.OutputPorts()) != 1 {
		t.Fatalf("expected declared ports, got %v %v", p.InputPorts(), p.OutputPorts())
	}
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	in := NewInputs()
	in.Add("in", edge.Data(4))
	out := NewOutputs("p", []string{"out"})
	if err := p.Step(ctx, in, out); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if d, ok := out.Datum("out"); !ok || d.Value != 8 {
		t.Errorf("expected 8, got %v", d)
	}
	if p.State() != StateRunning || p.Steps() != 1 {
		t.Errorf("expected running after one step, got %s/%d", p.State(), p.Steps())
	}

	if err := p.MarkComplete(); err != nil {
		t.Fatalf("mark complete failed: %v", err)
	}
	if err := p.Step(ctx, in, out); !errors.IsKind(err, errors.KindInvalidState) {
		t.Errorf("expected invalid-state after completion, got %v", err)
	}
	if err := p.Finalize(ctx); err != nil || impl.finals != 1 {
		t.Fatalf("expected one finalize, got %d (%v)", impl.finals, err)
	}
	_ = p.Finalize(ctx)
	if impl.finals != 1 {
		t.Error("finalize must be idempotent")
	}
	if err := p.Reset(); err != nil || p.State() != StateConfigured {
		t.Errorf("expected configured after reset, got %s (%v)", p.State(), err)
	}
}

func TestProcessStampsNameAndType(t *testing.T) {
	p, _ := newTestProcess(t, nil)
	if v, _ := p.Config().Get(KeyName); v != "p" {
		t.Errorf("expected _name=p, got %q", v)
	}
	if !p.Config().IsReadOnly(KeyType) {
		t.Error("expected _type to be read-only")
	}
}

func TestProcessConfigureErrors(t *testing.T) {
	impl := &testImpl{configureErr: fmt.Errorf("bad setting")}
	p := New("p", "test", nil, impl)
	err := p.Configure()
	if !errors.IsKind(err, errors.KindInvalidConfiguration) {
		t.Fatalf("expected invalid-configuration, got %v", err)
	}
	if e, _ := errors.As(err); e.Process != "p" {
		t.Errorf("expected process name on error, got %q", e.Process)
	}

	p, _ = newTestProcess(t, map[string]string{"gain": "loud"})
	err = p.Configure()
	if !errors.IsKind(err, errors.KindInvalidConfigurationValue) {
		t.Fatalf("expected invalid-configuration-value, got %v", err)
	}
	if e, _ := errors.As(err); e.Key != "gain" {
		t.Errorf("expected key gain, got %q", e.Key)
	}
}

type requiresKey struct{ testImpl }

func (r *requiresKey) Configure(c *Configuration) error {
	c.DeclareConfig(ConfigKey{Key: "path", Required: true})
	return nil
}

func TestProcessRequiredKey(t *testing.T) {
	p := New("r", "req", nil, &requiresKey{})
	err := p.Configure()
	if !errors.IsKind(err, errors.KindUnknownConfigurationValue) {
		t.Fatalf("expected unknown-configuration-value, got %v", err)
	}
	p = New("r", "req", config.FromMap(map[string]string{"path": "/tmp"}), &requiresKey{})
	if err := p.Configure(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestProcessReconfigure(t *testing.T) {
	ctx := context.Background()
	p, impl := newTestProcess(t, nil)
	_ = p.Configure()
	_ = p.Init(ctx)

	if err := p.Reconfigure(ctx, config.FromMap(map[string]string{"gain": "5"})); err != nil {
		t.Fatalf("tunable reconfigure failed: %v", err)
	}
	if impl.gain != 5 || !impl.reconfigured {
		t.Errorf("expected gain 5, got %d", impl.gain)
	}

	err := p.Reconfigure(ctx, config.FromMap(map[string]string{"mode": "slow"}))
	if !errors.IsKind(err, errors.KindReadOnlyValue) {
		t.Fatalf("expected read-only-value for non-tunable key, got %v", err)
	}
	if e, _ := errors.As(err); e.Process != "p" {
		t.Errorf("expected process name, got %q", e.Process)
	}
}

func TestProcessResetUnlocksConfig(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProcess(t, nil)
	_ = p.Configure()
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !p.Config().IsReadOnly("mode") {
		t.Fatal("expected init to lock mode")
	}
	_ = p.Finalize(ctx)
	if err := p.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := p.Reconfigure(ctx, config.FromMap(map[string]string{"mode": "slow"})); err != nil {
		t.Errorf("expected mode writable after reset, got %v", err)
	}
	if !p.Config().IsReadOnly(KeyType) {
		t.Error("expected the type to stay locked")
	}
}

func TestProcessFlushAndReady(t *testing.T) {
	p, impl := newTestProcess(t, nil)
	_ = p.Flush(context.Background())
	if impl.flushes != 1 {
		t.Errorf("expected flush to reach impl, got %d", impl.flushes)
	}
	if !p.Ready() {
		t.Error("impls without Ready are always ready")
	}
}

func TestDuplicatePortDeclaration(t *testing.T) {
	p := New("d", "dup", nil, &dupPorts{})
	if err := p.Configure(); !errors.IsKind(err, errors.KindDuplicatePort) {
		t.Errorf("expected duplicate-port, got %v", err)
	}
}

type dupPorts struct{ testImpl }

func (d *dupPorts) Configure(c *Configuration) error {
	if err := c.AddInput(PortSpec{Name: "x"}); err != nil {
		return err
	}
	return c.AddInput(PortSpec{Name: "x"})
}

func TestOutputsRules(t *testing.T) {
	out := NewOutputs("p", []string{"a", "b"})
	if err := out.Push("a", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Push("a", 2); !errors.IsKind(err, errors.KindInvalidState) {
		t.Errorf("expected invalid-state on double push, got %v", err)
	}
	if err := out.Push("zzz", 1); !errors.IsKind(err, errors.KindNoSuchPort) {
		t.Errorf("expected no-such-port, got %v", err)
	}
	if err := out.PushDatum("b", edge.Complete()); !errors.IsKind(err, errors.KindInvalidState) {
		t.Errorf("expected complete to be rejected per port, got %v", err)
	}
	out.Complete()
	if !out.Completed() {
		t.Error("expected completed")
	}
}

func TestInputsAccessors(t *testing.T) {
	in := NewInputs()
	in.Add("a", edge.Data("x"))
	in.Add("a", edge.Data("y"))
	in.Add("b", edge.Flush())

	if !in.Flushed() {
		t.Error("expected flushed")
	}
	if got := in.Datums("a"); len(got) != 2 {
		t.Errorf("expected two datums for shared port, got %v", got)
	}
	if v, ok := in.Value("a"); !ok || v != "x" {
		t.Errorf("expected x, got %v", v)
	}
	if _, ok := in.Value("b"); ok {
		t.Error("flush carries no value")
	}
	if in.Datum("missing").Kind != edge.KindEmpty || in.Connected("missing") {
		t.Error("unconnected port reads as empty")
	}
	if _, _, err := ValueAs[int](in, "a"); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Errorf("expected type-mismatch, got %v", err)
	}
	if ports := in.Ports(); len(ports) != 2 || ports[0] != "a" {
		t.Errorf("unexpected ports %v", ports)
	}
}

func TestTypeTags(t *testing.T) {
	tag := FlowDependent("T")
	if !IsFlowDependent(tag) || FlowTag(tag) != "T" {
		t.Errorf("unexpected flow tag handling for %s", tag)
	}
	if IsConcrete(TypeAny) || IsConcrete(tag) || !IsConcrete("int") {
		t.Error("unexpected concreteness")
	}
	if got := (FlagRequired | FlagShared).String(); got != "required,shared" {
		t.Errorf("unexpected flags string %q", got)
	}
}
