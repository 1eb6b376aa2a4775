package registry

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

type noop struct{ origin string }

func (noop) Configure(*process.Configuration) error { return nil }

func (noop) Step(context.Context, *process.Inputs, *process.Outputs) error { return nil }

func constant(origin string) Constructor {
	return func(*config.Block) (process.Impl, error) { return noop{origin: origin}, nil }
}

func TestCreate(t *testing.T) {
	r := New()
	r.Register("noop", "does nothing", constant("r"))

	p, err := r.Create("noop", "first", config.FromMap(map[string]string{"a": "1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "first" || p.Type() != "noop" {
		t.Errorf("expected first(noop), got %s", p)
	}
	if v, _ := p.Config().Get(process.KeyType); v != "noop" {
		t.Errorf("expected _type stamped as noop, got %q", v)
	}
	if err := p.Config().Set(process.KeyName, "other"); !errors.IsKind(err, errors.KindReadOnlyValue) {
		t.Errorf("expected _name to be read-only, got %v", err)
	}
	if p.State() != process.StateCreated {
		t.Errorf("expected created state, got %s", p.State())
	}
}

func TestCreate_Errors(t *testing.T) {
	r := New()
	boom := stderrors.New("boom")
	r.Register("broken", "always fails", func(*config.Block) (process.Impl, error) { return nil, boom })

	if _, err := r.Create("missing", "x", nil); !errors.IsKind(err, errors.KindNoSuchProcessType) {
		t.Errorf("expected no-such-process-type, got %v", err)
	}
	_, err := r.Create("broken", "x", nil)
	if !errors.IsKind(err, errors.KindProcessConstructionFailed) {
		t.Fatalf("expected process-construction-failed, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Error("expected constructor error as cause")
	}
}

func TestTypesAndDescription(t *testing.T) {
	r := New()
	r.Register("b", "second", constant("r"))
	r.Register("a", "first", constant("r"))

	types := r.Types()
	if len(types) != 2 || types[0] != "a" || types[1] != "b" {
		t.Errorf("expected [a b], got %v", types)
	}
	if d, err := r.Description("a"); err != nil || d != "first" {
		t.Errorf("expected description 'first', got %q (%v)", d, err)
	}
	if _, err := r.Description("c"); !errors.IsKind(err, errors.KindNoSuchProcessType) {
		t.Errorf("expected no-such-process-type, got %v", err)
	}
}

func TestLoadModule(t *testing.T) {
	r := New()
	calls := 0
	register := func(r *Registry) error {
		calls++
		r.Register("noop", "", constant("module"))
		return nil
	}

	if r.IsModuleLoaded("builtin") {
		t.Fatal("expected module not loaded")
	}
	for i := 0; i < 2; i++ {
		if err := r.LoadModule("builtin", register); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected register to run once, got %d", calls)
	}
	if !r.IsModuleLoaded("builtin") {
		t.Error("expected module marked loaded")
	}

	failing := func(*Registry) error { return stderrors.New("nope") }
	if err := r.LoadModule("bad", failing); err == nil {
		t.Error("expected error")
	}
	if r.IsModuleLoaded("bad") {
		t.Error("expected failed module to stay unloaded")
	}
}

func TestChain(t *testing.T) {
	primary, fallback := New(), New()
	primary.Register("shared", "", constant("primary"))
	fallback.Register("shared", "", constant("fallback"))
	fallback.Register("extra", "", constant("fallback"))
	primary.Register("broken", "", func(*config.Block) (process.Impl, error) { return nil, stderrors.New("bad config") })
	fallback.Register("broken", "", constant("fallback"))

	c := Chain(primary, fallback)

	p, err := c.Create("shared", "s", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Impl().(noop).origin; got != "primary" {
		t.Errorf("expected primary to win, got %s", got)
	}

	p, err = c.Create("extra", "e", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Impl().(noop).origin; got != "fallback" {
		t.Errorf("expected fallback for unknown type, got %s", got)
	}

	if _, err := c.Create("broken", "b", nil); !errors.IsKind(err, errors.KindProcessConstructionFailed) {
		t.Errorf("expected construction failure without fallback, got %v", err)
	}
	if _, err := c.Create("nowhere", "n", nil); !errors.IsKind(err, errors.KindNoSuchProcessType) {
		t.Errorf("expected no-such-process-type after exhausting chain, got %v", err)
	}
}
