package resource

import (
	"errors"
	"testing"
)

func nopFactory(Options) (Resource, error) { return Func(nil, nil), nil }

func TestRegisterDuplicateKey(t *testing.T) {
	reg, err := NewRegistry(Describe("db", nopFactory, nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	err = reg.Register(Describe("db", nopFactory, nil))
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) || dup.Key != "db" {
		t.Fatalf("expected DuplicateKeyError for db, got %v", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	reg, _ := NewRegistry()
	_, err := reg.Resolve("missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Key != "missing" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRegisterValidatesDescriptor(t *testing.T) {
	reg, _ := NewRegistry()
	cases := []Descriptor{
		{Key: "", Factory: nopFactory},
		{Key: "db"},
		{Key: "db", Factory: nopFactory, Scope: "module"},
	}
	for _, d := range cases {
		if err := reg.Register(d); !errors.Is(err, ErrInvalidDescriptor) {
			t.Fatalf("Register(%+v): got=%v want ErrInvalidDescriptor", d, err)
		}
	}
	if reg.Len() != 0 {
		t.Fatalf("invalid descriptors were registered: %d", reg.Len())
	}
}

func TestRegistryPreservesOrderAndFiltersScope(t *testing.T) {
	reg, _ := NewRegistry()
	reg.MustRegister(
		Describe("db", nopFactory, nil),
		Descriptor{Key: "mock", Factory: nopFactory, Scope: ScopeClass},
		Describe("cache", nopFactory, nil),
	)

	all := reg.Descriptors()
	if len(all) != 3 || all[0].Key != "db" || all[1].Key != "mock" || all[2].Key != "cache" {
		t.Fatalf("unexpected order: %+v", all)
	}
	suite := reg.Descriptors(ScopeSuite)
	if len(suite) != 2 || suite[0].Key != "db" || suite[1].Key != "cache" {
		t.Fatalf("unexpected suite descriptors: %+v", suite)
	}
}

func TestDescriptorOptionsAreImmutable(t *testing.T) {
	opts := Options{"image": "postgres:17", "env": map[string]any{"A": "1"}}
	reg, _ := NewRegistry(Describe("db", nopFactory, opts))

	opts["image"] = "mutated"
	opts["env"].(map[string]any)["A"] = "2"

	d, err := reg.Resolve("db")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := d.Options.String("image", ""); got != "postgres:17" {
		t.Fatalf("registered options mutated: image=%q", got)
	}
	if got := d.Options["env"].(map[string]any)["A"]; got != "1" {
		t.Fatalf("nested option mutated: %v", got)
	}

	d.Options["image"] = "mutated-again"
	again, _ := reg.Resolve("db")
	if got := again.Options.String("image", ""); got != "postgres:17" {
		t.Fatalf("resolved copy shares state with registry: image=%q", got)
	}
}

func TestRegistrySealedByOrchestrator(t *testing.T) {
	reg, _ := NewRegistry(Describe("db", nopFactory, nil))
	if _, err := NewOrchestrator(reg); err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if !reg.Sealed() {
		t.Fatal("registry not sealed")
	}
	if err := reg.Register(Describe("cache", nopFactory, nil)); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("Register after seal: got=%v want=%v", err, ErrRegistrySealed)
	}
}

func TestParseScope(t *testing.T) {
	for raw, want := range map[string]Scope{"": ScopeSuite, "suite": ScopeSuite, " Class ": ScopeClass} {
		got, err := ParseScope(raw)
		if err != nil || got != want {
			t.Fatalf("ParseScope(%q)=%q,%v want %q", raw, got, err, want)
		}
	}
	if _, err := ParseScope("method"); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("ParseScope(method): got=%v", err)
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := [][2]State{
		{Created, Starting}, {Starting, Running}, {Starting, Failed},
		{Running, Stopping}, {Stopping, Stopped}, {Stopping, Failed},
	}
	for _, tr := range allowed {
		if !canTransition(tr[0], tr[1]) {
			t.Fatalf("transition %s->%s should be allowed", tr[0], tr[1])
		}
	}
	denied := [][2]State{
		{Running, Starting}, {Stopped, Running}, {Failed, Running}, {Created, Running}, {Stopped, Stopping},
	}
	for _, tr := range denied {
		if canTransition(tr[0], tr[1]) {
			t.Fatalf("transition %s->%s should be denied", tr[0], tr[1])
		}
	}
}
