package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbukum/flowkit/errors"
)

func TestBlockGetSet(t *testing.T) {
	b := NewBlock()
	if err := b.Set("source.end", "10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := b.Get("source.end")
	if !ok || v != "10" {
		t.Errorf("expected 10, got %q (%v)", v, ok)
	}
	if b.Has("source.start") {
		t.Error("expected source.start to be absent")
	}
	if got := b.GetDefault("source.start", "0"); got != "0" {
		t.Errorf("expected default 0, got %q", got)
	}
}

func TestBlockTypedAccessors(t *testing.T) {
	b := FromMap(map[string]string{
		"n":     "42",
		"f":     "2.5",
		"yes":   "yes",
		"off":   "off",
		"t":     "true",
		"d":     "250ms",
		"bad":   "abc",
		"empty": "",
	})

	if n, err := b.GetInt("n"); err != nil || n != 42 {
		t.Errorf("expected 42, got %d (%v)", n, err)
	}
	if f, err := b.GetFloat("f"); err != nil || f != 2.5 {
		t.Errorf("expected 2.5, got %v (%v)", f, err)
	}
	for key, want := range map[string]bool{"yes": true, "off": false, "t": true} {
		got, err := b.GetBool(key)
		if err != nil || got != want {
			t.Errorf("%s: expected %v, got %v (%v)", key, want, got, err)
		}
	}
	if d, err := b.GetDuration("d"); err != nil || d.Milliseconds() != 250 {
		t.Errorf("expected 250ms, got %v (%v)", d, err)
	}

	for _, key := range []string{"bad", "empty"} {
		if _, err := b.GetInt(key); !errors.IsKind(err, errors.KindBadValueCast) {
			t.Errorf("%s: expected bad-value-cast, got %v", key, err)
		}
	}
	if _, err := b.GetBool("bad"); !errors.IsKind(err, errors.KindBadValueCast) {
		t.Errorf("expected bad-value-cast, got %v", err)
	}
	if _, err := b.GetInt("missing"); !errors.IsKind(err, errors.KindUnknownConfigurationValue) {
		t.Errorf("expected unknown-configuration-value, got %v", err)
	}
	if n, err := b.GetIntOr("missing", 7); err != nil || n != 7 {
		t.Errorf("expected default 7, got %d (%v)", n, err)
	}
}

func TestBlockReadOnly(t *testing.T) {
	b := FromMap(map[string]string{"a": "1"})
	b.MarkReadOnly("a")
	if err := b.Set("a", "2"); !errors.IsKind(err, errors.KindReadOnlyValue) {
		t.Fatalf("expected read-only-value, got %v", err)
	}
	if err := b.Set("a", "1"); err != nil {
		t.Errorf("setting the same value should succeed, got %v", err)
	}
	if err := b.Unset("a"); !errors.IsKind(err, errors.KindReadOnlyValue) {
		t.Errorf("expected read-only-value on unset, got %v", err)
	}
}

func TestBlockClearReadOnly(t *testing.T) {
	b := FromMap(map[string]string{"a": "1", "_edge.capacity": "4"})
	b.MarkReadOnly("a")
	b.ClearReadOnly("a")
	if err := b.Set("a", "2"); err != nil {
		t.Errorf("expected a to be writable again, got %v", err)
	}
	b.LockSubtree("_edge")
	b.ClearReadOnly("_edge.capacity")
	if !b.IsReadOnly("_edge.capacity") {
		t.Error("expected a locked subtree to stay locked")
	}
}

func TestBlockLockSubtree(t *testing.T) {
	b := FromMap(map[string]string{"_edge.capacity": "4", "other": "x"})
	b.LockSubtree("_edge")
	if !b.IsReadOnly("_edge.capacity") || !b.IsReadOnly("_edge.new") {
		t.Error("expected subtree keys to be read-only")
	}
	if b.IsReadOnly("other") || b.IsReadOnly("_edgex") {
		t.Error("expected keys outside the subtree to stay writable")
	}
}

func TestBlockSubblockCopyAndView(t *testing.T) {
	b := FromMap(map[string]string{"src.end": "3", "src.step": "1", "sink.name": "s"})

	cp := b.Subblock("src")
	if got := cp.Keys(); strings.Join(got, ",") != "end,step" {
		t.Errorf("expected end,step, got %v", got)
	}
	_ = cp.Set("end", "9")
	if v, _ := b.Get("src.end"); v != "3" {
		t.Errorf("copy must not write through, got %q", v)
	}

	view := b.SubblockView("src")
	_ = view.Set("end", "9")
	if v, _ := b.Get("src.end"); v != "9" {
		t.Errorf("view must write through, got %q", v)
	}
	_ = b.Set("src.new", "n")
	if !view.Has("new") {
		t.Error("view must see parent changes")
	}
}

func TestBlockMergeAndClone(t *testing.T) {
	a := FromMap(map[string]string{"x": "1", "y": "2"})
	a.MarkReadOnly("y")
	if err := a.Merge(FromMap(map[string]string{"x": "10", "z": "3"})); err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}
	if v, _ := a.Get("x"); v != "10" {
		t.Errorf("expected merged x=10, got %q", v)
	}
	if err := a.Merge(FromMap(map[string]string{"y": "20"})); !errors.IsKind(err, errors.KindReadOnlyValue) {
		t.Errorf("expected read-only-value, got %v", err)
	}

	c := a.Clone()
	_ = c.Set("x", "100")
	if v, _ := a.Get("x"); v != "10" {
		t.Errorf("clone must be independent, got %q", v)
	}
	if !c.IsReadOnly("y") {
		t.Error("clone keeps read-only keys")
	}
	if len(a.ToMap()) != 3 {
		t.Errorf("expected 3 entries, got %v", a.ToMap())
	}
}

func TestBlockDescription(t *testing.T) {
	b := NewBlock()
	b.SetDescription("end", "last value emitted")
	if b.Description("end") != "last value emitted" {
		t.Errorf("unexpected description %q", b.Description("end"))
	}
}

func TestJoinKey(t *testing.T) {
	if got := JoinKey("a", "", "b"); got != "a.b" {
		t.Errorf("expected a.b, got %s", got)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "pipeline.yml", `
source:
  end: 5
  tags: [a, b]
sink:
  enabled: true
`)
	b, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if n, err := b.GetInt("source.end"); err != nil || n != 5 {
		t.Errorf("expected 5, got %d (%v)", n, err)
	}
	if v, _ := b.Get("source.tags"); v != "a,b" {
		t.Errorf("expected a,b, got %q", v)
	}
	if ok, _ := b.GetBool("sink.enabled"); !ok {
		t.Error("expected sink.enabled=true")
	}
}

func TestLoadFileEnvOverride(t *testing.T) {
	path := writeFile(t, "pipeline.yml", "source:\n  end: 5\n")
	t.Setenv("FLOWKIT_SOURCE_END", "8")
	b, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if v, _ := b.Get("source.end"); v != "8" {
		t.Errorf("expected env override 8, got %q", v)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/pipeline.yml"); !errors.IsKind(err, errors.KindInvalidConfiguration) {
		t.Errorf("expected invalid-configuration, got %v", err)
	}
}

func TestLoadSettings(t *testing.T) {
	path := writeFile(t, "flowkit.yml", `
name: ingest
scheduler:
  type: sync
  default_capacity: 8
logger:
  level: debug
  format: json
`)
	s, err := LoadSettings(WithConfigFile(path), WithoutSearch())
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Name != "ingest" || s.Scheduler.Type != "sync" || s.Scheduler.DefaultCapacity != 8 {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", s.Logging.Level)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(WithFileSystem(&mockFS{}), WithoutSearch())
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Scheduler.Type != DefaultSchedulerType {
		t.Errorf("expected default scheduler, got %q", s.Scheduler.Type)
	}
	if s.Observability.SampleRate != 1 {
		t.Errorf("expected sample rate 1, got %v", s.Observability.SampleRate)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		errMsg string
	}{
		{"negative capacity", func(s *Settings) { s.Scheduler.DefaultCapacity = -1 }, "scheduler.default_capacity"},
		{"tracing without endpoint", func(s *Settings) { s.Observability.Tracing = true }, "observability.endpoint"},
		{"bad introspect addr", func(s *Settings) { s.Introspect.Addr = "nope" }, "introspect.addr"},
		{"bad log level", func(s *Settings) { s.Logging.Level = "loud" }, "logger"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Settings{}
			s.ApplyDefaults()
			tc.mutate(&s)
			err := s.Validate()
			if !errors.IsKind(err, errors.KindInvalidConfiguration) {
				t.Fatalf("expected invalid-configuration, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("expected error containing %q, got %q", tc.errMsg, err.Error())
			}
		})
	}
}

func TestResolverWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./config/flowkit.yml": true,
		"./.env":               true,
	}}
	resolver := &Resolver{FileSystem: fs}
	files := resolver.ResolveFiles("flowkit", LoaderConfig{})
	if files.ConfigFile != "./config/flowkit.yml" {
		t.Errorf("expected ./config/flowkit.yml, got %q", files.ConfigFile)
	}
	if files.EnvFile != "./.env" {
		t.Errorf("expected ./.env, got %q", files.EnvFile)
	}
	if got := resolver.ResolveFiles("flowkit", LoaderConfig{NoSearch: true}); got.ConfigFile != "" {
		t.Errorf("expected no search, got %q", got.ConfigFile)
	}
}

type mockFS struct {
	files map[string]bool
}

func (m *mockFS) Exists(path string) bool  { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error { return nil }

func TestGenerateEnvKeyVariants(t *testing.T) {
	variants := generateEnvKeyVariants("SCHEDULER_DEFAULT_CAPACITY")
	want := "scheduler.default_capacity"
	found := false
	for _, v := range variants {
		if v == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in %v", want, variants)
	}
}

func TestLoaderOptions(t *testing.T) {
	var lc LoaderConfig
	WithConfigFile("/path/flowkit.yml")(&lc)
	WithEnvFile("/path/.env")(&lc)
	WithFileSystem(&mockFS{})(&lc)
	if lc.ConfigFile != "/path/flowkit.yml" || lc.EnvFile != "/path/.env" || lc.FileSystem == nil {
		t.Errorf("unexpected loader config %+v", lc)
	}
}
