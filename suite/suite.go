// Package suite binds resource orchestration to Go test runs: one
// orchestrator per test or per package (TestMain), plus class orchestrators
// for per-group resources.
package suite

import (
	"context"
	"testing"

	"github.com/bronystylecrazy/suitekit/config"
	"github.com/bronystylecrazy/suitekit/log"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/bronystylecrazy/suitekit/tracing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scope is anything exposing a broker: *Suite and *Class.
type Scope interface {
	Broker() *resource.Broker
}

// Suite is a running suite-scoped orchestrator bound to a test.
type Suite struct {
	runID  string
	o      *resource.Orchestrator
	logger *zap.Logger
	set    settings
}

// New starts every suite-scoped resource of reg and stops them when t ends.
// Start failures fail t unless WithAllowStartFailures is given.
func New(t testing.TB, reg *resource.Registry, opts ...Option) *Suite {
	t.Helper()

	s, err := newSuite(reg, newSettings(opts))
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	startErr := s.o.StartAll(context.Background())
	t.Cleanup(func() {
		if err := s.o.StopAll(context.Background()); err != nil {
			t.Errorf("suite: stop resources: %v", err)
		}
	})
	if startErr != nil {
		if !s.set.allowStartFailures {
			t.Fatalf("suite: start resources: %v", startErr)
		}
		t.Logf("suite: start resources: %v", startErr)
	}
	return s
}

// NewFromFile loads a config file, builds its registry with the built-in
// catalog and starts it like New. Logging follows the file's [log] section
// unless WithLogger is given.
func NewFromFile(t testing.TB, path string, opts ...Option) *Suite {
	t.Helper()

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	reg, err := cfg.Registry(nil)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	base := []Option{WithResourceOptions(cfg.OrchestratorOptions(nil)...)}
	tp, err := tracing.NewTracerProvider(context.Background(), cfg.Tracing)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	if tp != nil {
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
		base = append(base, WithTracerProvider(tp))
	}
	if cfg.Log.Level != "" || cfg.Log.Format != "" {
		logger, err := log.NewLogger(cfg.Log)
		if err != nil {
			t.Fatalf("suite: %v", err)
		}
		base = append(base, WithLogger(logger))
	}
	return New(t, reg, append(base, opts...)...)
}

func newSuite(reg *resource.Registry, set settings) (*Suite, error) {
	runID := uuid.NewString()
	logger := set.logger.With(zap.String("run", runID))
	o, err := resource.NewOrchestrator(reg, set.orchestratorOptions(logger)...)
	if err != nil {
		return nil, err
	}
	return &Suite{runID: runID, o: o, logger: logger, set: set}, nil
}

// RunID identifies this run in logs.
func (s *Suite) RunID() string { return s.runID }

// Orchestrator returns the suite orchestrator.
func (s *Suite) Orchestrator() *resource.Orchestrator { return s.o }

// Broker returns the suite broker.
func (s *Suite) Broker() *resource.Broker { return s.o.Broker() }

// Class starts a fresh set of class-scoped resources for t and stops them
// when t ends. Suite-scoped handles stay reachable through the class broker.
func (s *Suite) Class(t testing.TB, name string) *Class {
	t.Helper()

	if name == "" {
		name = t.Name()
	}
	child, err := s.o.Class(name)
	if err != nil {
		t.Fatalf("suite: class %s: %v", name, err)
	}
	startErr := child.StartAll(context.Background())
	t.Cleanup(func() {
		if err := child.StopAll(context.Background()); err != nil {
			t.Errorf("suite: class %s: stop resources: %v", name, err)
		}
	})
	if startErr != nil {
		if !s.set.allowStartFailures {
			t.Fatalf("suite: class %s: start resources: %v", name, startErr)
		}
		t.Logf("suite: class %s: start resources: %v", name, startErr)
	}
	return &Class{name: name, o: child}
}

// Class is a running class orchestrator.
type Class struct {
	name string
	o    *resource.Orchestrator
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Orchestrator returns the class orchestrator.
func (c *Class) Orchestrator() *resource.Orchestrator { return c.o }

// Broker returns the class broker.
func (c *Class) Broker() *resource.Broker { return c.o.Broker() }

// Get returns the handle of key as T or fails t.
func Get[T any](t testing.TB, s Scope, key string) T {
	t.Helper()
	v, err := resource.HandleAs[T](s.Broker(), key)
	if err != nil {
		t.Fatalf("suite: handle %q: %v", key, err)
	}
	return v
}

// Property returns one merged property or fails t when it is absent.
func Property(t testing.TB, s Scope, name string) string {
	t.Helper()
	v, ok := s.Broker().Properties()[name]
	if !ok {
		t.Fatalf("suite: property %q is not published", name)
	}
	return v
}

// Inject fills target's `resource:"key"` fields or fails t.
func Inject(t testing.TB, s Scope, target any) {
	t.Helper()
	if err := s.Broker().Inject(target); err != nil {
		t.Fatalf("suite: inject: %v", err)
	}
}
