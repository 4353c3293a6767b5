// Package resourcefx runs a resource orchestrator inside an fx application.
package resourcefx

import (
	"context"

	"github.com/bronystylecrazy/suitekit/config"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/bronystylecrazy/suitekit/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OptionsGroupName collects extra resource.Option values supplied to the app.
const OptionsGroupName = "suitekit.resource.options"

type Params struct {
	fx.In

	Lc             fx.Lifecycle
	Registry       *resource.Registry
	Logger         *zap.Logger          `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
	Options        []resource.Option    `group:"suitekit.resource.options"`
}

// NewOrchestrator builds the suite orchestrator and appends a hook that runs
// StartAll on start and StopAll on stop. A failed start stops whatever did
// start before the error is handed back to fx, since fx skips OnStop for a
// hook whose OnStart failed.
func NewOrchestrator(p Params) (*resource.Orchestrator, error) {
	opts := make([]resource.Option, 0, len(p.Options)+2)
	if p.Logger != nil {
		opts = append(opts, resource.WithLogger(p.Logger.Named("resource")))
	}
	if p.TracerProvider != nil {
		opts = append(opts, resource.WithTracerProvider(p.TracerProvider))
	}
	opts = append(opts, p.Options...)

	o, err := resource.NewOrchestrator(p.Registry, opts...)
	if err != nil {
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			err := o.StartAll(ctx)
			if err == nil {
				return nil
			}
			return multierr.Append(err, o.StopAll(context.WithoutCancel(ctx)))
		},
		OnStop: o.StopAll,
	})
	return o, nil
}

// NewBroker exposes the orchestrator's broker.
func NewBroker(o *resource.Orchestrator) *resource.Broker {
	return o.Broker()
}

// Options supplies orchestrator options to the module.
func Options(opts ...resource.Option) fx.Option {
	out := make([]fx.Option, 0, len(opts))
	for _, opt := range opts {
		out = append(out, fx.Supply(fx.Annotated{Group: OptionsGroupName, Target: opt}))
	}
	return fx.Options(out...)
}

// Module provides the orchestrator and broker for reg. Resources start with
// the app and stop with it.
func Module(reg *resource.Registry, opts ...resource.Option) fx.Option {
	return fx.Module("suitekit.resource",
		fx.Supply(reg),
		Options(opts...),
		fx.Provide(NewOrchestrator, NewBroker),
		fx.Invoke(func(*resource.Orchestrator) {}),
	)
}

// Tracing provides an OTLP tracer provider when cfg is enabled and shuts it
// down after the resources have stopped.
func Tracing(cfg tracing.Config) fx.Option {
	if !cfg.Enabled {
		return fx.Options()
	}
	return fx.Provide(func(lc fx.Lifecycle) (trace.TracerProvider, error) {
		tp, err := tracing.NewTracerProvider(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(tp.Shutdown))
		return tp, nil
	})
}

// FromConfig is Module plus Tracing for a loaded config file. Registry errors
// surface when the app is built.
func FromConfig(cfg config.Config) fx.Option {
	reg, err := cfg.Registry(nil)
	if err != nil {
		return fx.Error(err)
	}
	return fx.Options(
		Tracing(cfg.Tracing),
		Module(reg, cfg.OrchestratorOptions(nil)...),
	)
}
