package resource

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const tracerName = "github.com/bronystylecrazy/suitekit/resource"

type settings struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	startTimeout time.Duration
	stopTimeout  time.Duration
}

// Option configures an Orchestrator.
type Option func(*settings)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracerProvider traces every start and stop as a span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithStartTimeout bounds each Start call. Zero waits indefinitely.
func WithStartTimeout(d time.Duration) Option {
	return func(s *settings) { s.startTimeout = d }
}

// WithStopTimeout bounds each Stop call. Zero waits indefinitely.
func WithStopTimeout(d time.Duration) Option {
	return func(s *settings) { s.stopTimeout = d }
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
