// Package tracing exports resource lifecycle spans over OTLP.
package tracing

import (
	"net/url"
	"strings"
	"time"
)

// Config is the [tracing] section of a suite config.
type Config struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol" validate:"omitempty,oneof=grpc http http/protobuf"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Compression string            `mapstructure:"compression" validate:"omitempty,oneof=gzip none"`
	Insecure    bool              `mapstructure:"insecure"`
	SampleRatio float64           `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	TLS         TLSConfig         `mapstructure:"tls"`
}

const (
	defaultServiceName = "suitekit"
	defaultEndpoint    = "localhost:4317"
)

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaultServiceName
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.Protocol == "" {
		c.Protocol = "grpc"
	}
	if c.SampleRatio == 0 {
		c.SampleRatio = 1
	}
	return c
}

func (c Config) isHTTP() bool {
	return strings.HasPrefix(strings.ToLower(c.Protocol), "http")
}

// EndpointForGRPC strips any scheme, leaving host:port.
func (c Config) EndpointForGRPC() string {
	endpoint := strings.TrimSpace(c.Endpoint)
	if !strings.Contains(endpoint, "://") {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

// EndpointForHTTP splits the endpoint into host:port and URL path.
func (c Config) EndpointForHTTP() (string, string) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return "", ""
	}
	raw := endpoint
	if !strings.Contains(raw, "://") {
		if !strings.Contains(raw, "/") {
			return endpoint, ""
		}
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint, ""
	}
	return u.Host, strings.TrimSpace(u.Path)
}
