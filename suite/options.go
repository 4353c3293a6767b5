package suite

import (
	"time"

	"github.com/bronystylecrazy/suitekit/resource"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type settings struct {
	logger              *zap.Logger
	resourceOpts        []resource.Option
	allowStartFailures  bool
	handleSignals       bool
	shutdownGracePeriod time.Duration
}

// Option configures a Suite or a Main run.
type Option func(*settings)

// WithLogger sets the logger for the run and its orchestrators.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider traces resource lifecycle calls.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		s.resourceOpts = append(s.resourceOpts, resource.WithTracerProvider(tp))
	}
}

// WithStartTimeout bounds each resource Start.
func WithStartTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.resourceOpts = append(s.resourceOpts, resource.WithStartTimeout(d))
	}
}

// WithStopTimeout bounds each resource Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.resourceOpts = append(s.resourceOpts, resource.WithStopTimeout(d))
	}
}

// WithResourceOptions passes orchestrator options through unchanged.
func WithResourceOptions(opts ...resource.Option) Option {
	return func(s *settings) {
		s.resourceOpts = append(s.resourceOpts, opts...)
	}
}

// WithAllowStartFailures keeps the run going when resources fail to start.
// Tests then see NotRunningError for the failed keys.
func WithAllowStartFailures() Option {
	return func(s *settings) { s.allowStartFailures = true }
}

// WithoutSignalHandling disables the SIGINT/SIGTERM handler installed by Main.
func WithoutSignalHandling() Option {
	return func(s *settings) { s.handleSignals = false }
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:              zap.NewNop(),
		handleSignals:       true,
		shutdownGracePeriod: time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

func (s settings) orchestratorOptions(logger *zap.Logger) []resource.Option {
	out := make([]resource.Option, 0, len(s.resourceOpts)+1)
	out = append(out, resource.WithLogger(logger))
	return append(out, s.resourceOpts...)
}
