// Package config loads declarative suite definitions (timeouts, logging and
// an ordered list of resources) from TOML, YAML or JSON files with
// SUITEKIT_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bronystylecrazy/suitekit/log"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/bronystylecrazy/suitekit/testkit"
	"github.com/bronystylecrazy/suitekit/tracing"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EnvPrefix is the default prefix of environment overrides, e.g.
// SUITEKIT_SUITE_START_TIMEOUT or SUITEKIT_LOG_LEVEL.
const EnvPrefix = "SUITEKIT"

// Timeouts used when a file sets none.
const (
	DefaultStartTimeout = 2 * time.Minute
	DefaultStopTimeout  = 30 * time.Second
)

// Config is a whole suite definition.
type Config struct {
	Suite     SuiteConfig      `mapstructure:"suite"`
	Log       log.Config       `mapstructure:"log"`
	Tracing   tracing.Config   `mapstructure:"tracing"`
	Resources []ResourceConfig `mapstructure:"resources" validate:"dive"`
}

// SuiteConfig holds orchestrator-wide settings.
type SuiteConfig struct {
	StartTimeout time.Duration `mapstructure:"start_timeout" validate:"gte=0"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" validate:"gte=0"`
}

// ResourceConfig declares one resource. Order in the file is registration order.
type ResourceConfig struct {
	Key          string         `mapstructure:"key" validate:"required"`
	Kind         string         `mapstructure:"kind" validate:"required"`
	Scope        string         `mapstructure:"scope" validate:"omitempty,oneof=suite class"`
	Disabled     bool           `mapstructure:"disabled"`
	StartTimeout time.Duration  `mapstructure:"start_timeout" validate:"gte=0"`
	StopTimeout  time.Duration  `mapstructure:"stop_timeout" validate:"gte=0"`
	Options      map[string]any `mapstructure:"options"`
}

var validate = validator.New()

// Validate checks field constraints and key uniqueness.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Resources))
	for _, r := range c.Resources {
		if _, dup := seen[r.Key]; dup {
			return fmt.Errorf("invalid config: %w", &resource.DuplicateKeyError{Key: r.Key})
		}
		seen[r.Key] = struct{}{}
	}
	return nil
}

// Enabled returns the resources not marked disabled, in declaration order.
func (c Config) Enabled() []ResourceConfig {
	out := make([]ResourceConfig, 0, len(c.Resources))
	for _, r := range c.Resources {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}

// Descriptor resolves the kind through catalog. The resource key becomes the
// property prefix unless options set one.
func (r ResourceConfig) Descriptor(catalog *testkit.Catalog) (resource.Descriptor, error) {
	factory, err := catalog.Factory(r.Kind)
	if err != nil {
		return resource.Descriptor{}, fmt.Errorf("resource %q: %w", r.Key, err)
	}
	scope, err := resource.ParseScope(r.Scope)
	if err != nil {
		return resource.Descriptor{}, fmt.Errorf("resource %q: %w", r.Key, err)
	}
	opts := resource.Options{}
	for k, v := range r.Options {
		opts[k] = v
	}
	if _, ok := opts["prefix"]; !ok {
		opts["prefix"] = r.Key
	}
	return resource.Descriptor{
		Key:          r.Key,
		Factory:      factory,
		Options:      opts,
		Scope:        scope,
		StartTimeout: r.StartTimeout,
		StopTimeout:  r.StopTimeout,
	}, nil
}

// Registry builds a registry of every enabled resource. A nil catalog means
// testkit.NewCatalog().
func (c Config) Registry(catalog *testkit.Catalog) (*resource.Registry, error) {
	if catalog == nil {
		catalog = testkit.NewCatalog()
	}
	reg, _ := resource.NewRegistry()
	var errs []error
	for _, r := range c.Enabled() {
		d, err := r.Descriptor(catalog)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, multierr.Combine(errs...)
	}
	return reg, nil
}

// OrchestratorOptions turns suite settings into orchestrator options.
func (c Config) OrchestratorOptions(logger *zap.Logger) []resource.Option {
	opts := []resource.Option{
		resource.WithStartTimeout(c.Suite.StartTimeout),
		resource.WithStopTimeout(c.Suite.StopTimeout),
	}
	if logger != nil {
		opts = append(opts, resource.WithLogger(logger))
	}
	return opts
}

func normalizeResources(rs []ResourceConfig) {
	for i := range rs {
		rs[i].Key = strings.TrimSpace(rs[i].Key)
		rs[i].Kind = strings.ToLower(strings.TrimSpace(rs[i].Kind))
		rs[i].Scope = strings.ToLower(strings.TrimSpace(rs[i].Scope))
	}
}
