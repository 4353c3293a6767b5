// Package resource orchestrates the lifecycle of external test resources
// (databases, brokers, mock servers) shared by a test suite run.
//
// Resources are declared up front in a Registry, started once per run by an
// Orchestrator in registration order, read through a Broker, and stopped in
// reverse order with every failure aggregated.
package resource

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Resource is the lifecycle contract every test resource implements.
//
// Start performs all setup and returns an error when setup cannot complete.
// Stop releases everything Start acquired. Stop should tolerate being called
// after a partial or failed Start and should not fail on a second call.
type Resource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Handler is implemented by resources that expose something other than
// themselves to test code, e.g. a client or connection details.
type Handler interface {
	Handle() any
}

// Configurer is implemented by resources that publish configuration
// properties (URLs, credentials, ports) once running.
type Configurer interface {
	Properties() map[string]string
}

// Factory creates a not-yet-started resource from descriptor options.
type Factory func(opts Options) (Resource, error)

// Scope controls how long one resource instance lives.
type Scope string

const (
	// ScopeSuite resources are started once per suite run and shared.
	ScopeSuite Scope = "suite"
	// ScopeClass resources are re-created for every class orchestrator.
	ScopeClass Scope = "class"
)

func (s Scope) valid() bool {
	return s == ScopeSuite || s == ScopeClass
}

// ParseScope accepts "suite", "class" and the empty string (suite).
func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeSuite:
		return ScopeSuite, nil
	case ScopeClass:
		return ScopeClass, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidDescriptor, raw)
	}
}

// Options carries per-resource configuration by option name.
type Options map[string]any

// String returns the option as a string, or def when it is absent or not a string.
func (o Options) String(name, def string) string {
	if v, ok := o[name].(string); ok && v != "" {
		return v
	}
	return def
}

// Duration accepts time.Duration values and parseable strings.
func (o Options) Duration(name string, def time.Duration) time.Duration {
	switch v := o[name].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (o Options) clone() Options {
	if o == nil {
		return Options{}
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Options(t).clone())
	case Options:
		return t.clone()
	case map[string]string:
		return maps.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Descriptor declares one resource of a suite.
type Descriptor struct {
	Key     string
	Factory Factory
	Options Options
	Scope   Scope

	// StartTimeout and StopTimeout override the orchestrator defaults when positive.
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Describe is a shorthand for a suite-scoped descriptor.
func Describe(key string, factory Factory, opts Options) Descriptor {
	return Descriptor{Key: key, Factory: factory, Options: opts, Scope: ScopeSuite}
}

// Of registers an already-built resource under key. The same value is
// returned by every factory call, so it only suits suite-scoped use.
func Of(key string, r Resource) Descriptor {
	return Describe(key, func(Options) (Resource, error) { return r, nil }, nil)
}

func (d Descriptor) clone() Descriptor {
	d.Options = d.Options.clone()
	return d
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidDescriptor)
	}
	if d.Factory == nil {
		return fmt.Errorf("%w: factory is nil for %q", ErrInvalidDescriptor, d.Key)
	}
	if !d.Scope.valid() {
		return fmt.Errorf("%w: unknown scope %q for %q", ErrInvalidDescriptor, d.Scope, d.Key)
	}
	return nil
}

type funcResource struct {
	start func(context.Context) error
	stop  func(context.Context) error
}

// Func adapts a pair of closures to Resource. Either may be nil.
func Func(start, stop func(context.Context) error) Resource {
	return &funcResource{start: start, stop: stop}
}

func (f *funcResource) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *funcResource) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}
