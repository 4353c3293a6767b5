package tracing

import (
	"context"
	"os"
	"strings"

	"github.com/bronystylecrazy/suitekit/build"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc/credentials"
)

// NewExporter builds an OTLP span exporter for cfg. Neither transport dials
// until the first export.
func NewExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	cfg = cfg.withDefaults()
	tlsCfg, err := cfg.TLS.Load()
	if err != nil {
		return nil, err
	}

	if cfg.isHTTP() {
		endpoint, path := cfg.EndpointForHTTP()
		options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if path != "" {
			options = append(options, otlptracehttp.WithURLPath(path))
		}
		if cfg.Timeout > 0 {
			options = append(options, otlptracehttp.WithTimeout(cfg.Timeout))
		}
		if strings.EqualFold(cfg.Compression, "gzip") {
			options = append(options, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		if len(cfg.Headers) > 0 {
			options = append(options, otlptracehttp.WithHeaders(cfg.Headers))
		}
		switch {
		case cfg.Insecure:
			options = append(options, otlptracehttp.WithInsecure())
		case tlsCfg != nil:
			options = append(options, otlptracehttp.WithTLSClientConfig(tlsCfg))
		}
		return otlptracehttp.New(ctx, options...)
	}

	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.EndpointForGRPC())}
	if cfg.Timeout > 0 {
		options = append(options, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if strings.EqualFold(cfg.Compression, "gzip") {
		options = append(options, otlptracegrpc.WithCompressor("gzip"))
	}
	if len(cfg.Headers) > 0 {
		options = append(options, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	switch {
	case cfg.Insecure:
		options = append(options, otlptracegrpc.WithInsecure())
	case tlsCfg != nil:
		options = append(options, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
	}
	return otlptracegrpc.New(ctx, options...)
}

// NewResource describes the process exporting spans.
func NewResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	cfg = cfg.withDefaults()
	environment := "development"
	if build.IsProduction() {
		environment = "production"
	}
	attrs := resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(build.Version),
		semconv.DeploymentEnvironmentName(environment),
	)
	if host, err := os.Hostname(); err == nil {
		return resource.New(ctx, attrs, resource.WithAttributes(semconv.HostName(host)))
	}
	return resource.New(ctx, attrs)
}

// NewTracerProvider returns nil when tracing is disabled. Callers own the
// provider and must Shutdown it to flush pending spans.
func NewTracerProvider(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg = cfg.withDefaults()
	exporter, err := NewExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	base := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	return sdktrace.NewTracerProvider(append(base, opts...)...), nil
}
