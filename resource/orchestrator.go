package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrShutdown is recorded for resources whose start raced with StopAll.
var ErrShutdown = errors.New("resource: orchestrator is shutting down")

// Orchestrator owns the resource instances of one suite run (or of one class
// within a run) and drives them through their lifecycle.
//
// Resources are started sequentially in registration order and stopped in
// reverse start order. An orchestrator runs once: a second StartAll returns
// ErrAlreadyStarted.
type Orchestrator struct {
	registry *Registry
	parent   *Orchestrator
	scope    Scope
	class    string
	set      settings
	logger   *zap.Logger

	mu         sync.RWMutex
	started    bool
	stopping   bool
	instances  []*instance
	byKey      map[string]*instance
	startOrder []*instance
}

// NewOrchestrator seals the registry and prepares one Created instance for
// every suite-scoped descriptor.
func NewOrchestrator(registry *Registry, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("new orchestrator: registry is nil")
	}
	set := newSettings(opts)
	registry.Seal()
	return newOrchestrator(registry, nil, ScopeSuite, "", set), nil
}

func newOrchestrator(registry *Registry, parent *Orchestrator, scope Scope, class string, set settings) *Orchestrator {
	descs := registry.Descriptors(scope)
	o := &Orchestrator{
		registry:  registry,
		parent:    parent,
		scope:     scope,
		class:     class,
		set:       set,
		logger:    set.logger,
		instances: make([]*instance, 0, len(descs)),
		byKey:     make(map[string]*instance, len(descs)),
	}
	if class != "" {
		o.logger = o.logger.With(zap.String("class", class))
	}
	for _, d := range descs {
		inst := newInstance(d)
		o.instances = append(o.instances, inst)
		o.byKey[d.Key] = inst
	}
	return o
}

// Class returns a new child orchestrator owning fresh instances of every
// class-scoped descriptor. Handle lookups on the child fall back to o.
func (o *Orchestrator) Class(name string) (*Orchestrator, error) {
	if o.scope != ScopeSuite {
		return nil, fmt.Errorf("class %q: only a suite orchestrator can create classes", name)
	}
	if name == "" {
		name = "class"
	}
	return newOrchestrator(o.registry, o, ScopeClass, name, o.set), nil
}

// Scope returns the descriptor scope this orchestrator owns.
func (o *Orchestrator) Scope() Scope { return o.scope }

// Registry returns the sealed registry the orchestrator was built from.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// StartAll starts every owned resource in registration order. Failures do not
// stop the sequence; every failure is returned as a *StartFailure combined
// with multierr.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	instances := append([]*instance(nil), o.instances...)
	o.mu.Unlock()

	o.logger.Debug("starting resources", zap.Int("count", len(instances)), zap.String("scope", string(o.scope)))

	var errs error
	failed := 0
	for _, inst := range instances {
		if err := o.start(ctx, inst); err != nil {
			failed++
			errs = multierr.Append(errs, err)
		}
	}

	if failed > 0 {
		o.logger.Error("resources failed to start", zap.Int("failed", failed), zap.Int("total", len(instances)))
	} else {
		o.logger.Info("resources started", zap.Int("count", len(instances)))
	}
	return errs
}

func (o *Orchestrator) start(ctx context.Context, inst *instance) error {
	key := inst.desc.Key
	log := o.logger.With(zap.String("resource", key))

	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		log.Warn("skipping start, shutdown in progress")
		return &StartFailure{Key: key, Err: ErrShutdown}
	}
	inst.transition(Starting)
	o.startOrder = append(o.startOrder, inst)
	o.mu.Unlock()

	ctx, span := o.set.tracer.Start(ctx, "resource.start", trace.WithAttributes(
		attribute.String("resource.key", key),
		attribute.String("resource.scope", string(inst.desc.Scope)),
	))
	defer span.End()

	log.Debug("starting resource")
	begin := time.Now()

	r, err := create(inst.desc)
	if err == nil {
		done := make(chan struct{})
		o.mu.Lock()
		inst.resource = r
		inst.startDone = done
		o.mu.Unlock()
		err = runBounded(ctx, o.timeout(inst.desc.StartTimeout, o.set.startTimeout), func(ctx context.Context) error {
			defer close(done)
			return r.Start(ctx)
		})
	}
	elapsed := time.Since(begin)

	o.mu.Lock()
	inst.startDuration = elapsed
	if err != nil {
		inst.startErr = err
		inst.transition(Failed)
		o.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("resource failed to start", zap.Duration("elapsed", elapsed), zap.Error(err))
		return &StartFailure{Key: key, Err: err}
	}

	if o.stopping || inst.state != Starting {
		// StopAll ran while Start was in flight. An instance StopAll already
		// picked up is stopped there; anything else is released here.
		inst.startErr = ErrShutdown
		inst.transition(Failed)
		owned := !inst.stopAttempted
		inst.stopAttempted = true
		o.mu.Unlock()

		if !owned {
			log.Warn("resource started during shutdown, stop left to StopAll")
			return &StartFailure{Key: key, Err: ErrShutdown}
		}
		stopErr := runBounded(context.WithoutCancel(ctx), o.timeout(inst.desc.StopTimeout, o.set.stopTimeout), r.Stop)
		o.mu.Lock()
		inst.stopErr = stopErr
		o.mu.Unlock()

		log.Warn("resource started during shutdown, stopped again", zap.Error(stopErr))
		return multierr.Append(&StartFailure{Key: key, Err: ErrShutdown}, stopErr)
	}

	inst.transition(Running)
	inst.handle = handleOf(r)
	o.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	log.Info("resource started", zap.Duration("elapsed", elapsed))
	return nil
}

func create(d Descriptor) (r Resource, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory panic: %v", rec)
		}
	}()
	r, err = d.Factory(d.Options.clone())
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("create: factory returned nil resource")
	}
	return r, nil
}

func (o *Orchestrator) timeout(override, def time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return def
}

// runBounded calls fn and converts panics to errors. With a positive timeout
// it stops waiting after the deadline; fn keeps running in the background
// with a cancelled context.
func runBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return callSafely(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- callSafely(ctx, fn) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return ctx.Err()
	}
}

func callSafely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Running returns the instances currently Running, in start order.
func (o *Orchestrator) Running() []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Snapshot, 0, len(o.startOrder))
	for _, inst := range o.startOrder {
		if inst.state == Running {
			out = append(out, inst.snapshot())
		}
	}
	return out
}

// Instances returns every owned instance in registration order.
func (o *Orchestrator) Instances() []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Snapshot, len(o.instances))
	for i, inst := range o.instances {
		out[i] = inst.snapshot()
	}
	return out
}

// Report is an alias of Instances kept for run summaries.
func (o *Orchestrator) Report() []Snapshot {
	return o.Instances()
}

// Snapshot returns the current view of one owned instance.
func (o *Orchestrator) Snapshot(key string) (Snapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.byKey[key]
	if !ok {
		return Snapshot{}, &NotFoundError{Key: key}
	}
	return inst.snapshot(), nil
}

// State returns the state of one owned instance.
func (o *Orchestrator) State(key string) (State, error) {
	s, err := o.Snapshot(key)
	if err != nil {
		return 0, err
	}
	return s.State, nil
}
