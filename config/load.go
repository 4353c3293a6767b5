package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Option customizes Load.
type Option func(*loadState)

type loadState struct {
	configType  string
	envPrefix   string
	keyReplacer *strings.Replacer
	noEnv       bool
	optional    bool
	defaults    map[string]any
	hooks       []func(*viper.Viper) error
}

// WithType forces the file format (toml, yaml, json) instead of using the extension.
func WithType(kind string) Option {
	return func(s *loadState) { s.configType = kind }
}

// WithEnvPrefix replaces the SUITEKIT environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(s *loadState) { s.envPrefix = prefix }
}

// WithNoEnv disables environment overrides.
func WithNoEnv() Option {
	return func(s *loadState) { s.noEnv = true }
}

// WithOptional tolerates a missing file; defaults and environment still apply.
func WithOptional() Option {
	return func(s *loadState) { s.optional = true }
}

// WithDefault sets a default for one key, e.g. "suite.start_timeout".
func WithDefault(key string, value any) Option {
	return func(s *loadState) { s.defaults[key] = value }
}

// WithViper runs fn on the viper instance before the file is read.
func WithViper(fn func(*viper.Viper) error) Option {
	return func(s *loadState) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	}
}

func newLoadState(opts []Option) loadState {
	s := loadState{
		envPrefix:   EnvPrefix,
		keyReplacer: strings.NewReplacer(".", "_", "-", "_"),
		defaults: map[string]any{
			"suite.start_timeout": DefaultStartTimeout.String(),
			"suite.stop_timeout":  DefaultStopTimeout.String(),
			"log.level":           "",
			"log.format":          "",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string, opts ...Option) (Config, error) {
	var out Config
	state := newLoadState(opts)
	v, err := load(state, path)
	if err != nil {
		return out, err
	}
	if err := decode(v, &out); err != nil {
		return out, err
	}
	normalizeResources(out.Resources)
	return out, out.Validate()
}

func load(s loadState, path string) (*viper.Viper, error) {
	v := viper.New()
	if !s.noEnv {
		if s.envPrefix != "" {
			v.SetEnvPrefix(s.envPrefix)
		}
		v.SetEnvKeyReplacer(s.keyReplacer)
		v.AutomaticEnv()
	}
	if path != "" {
		v.SetConfigFile(path)
	}
	if s.configType != "" {
		v.SetConfigType(s.configType)
	}
	for k, val := range s.defaults {
		v.SetDefault(k, val)
	}
	for _, hook := range s.hooks {
		if err := hook(v); err != nil {
			return nil, err
		}
	}
	if path == "" {
		return v, nil
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if s.optional && (errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)) {
			return v, nil
		}
		if cleaned, ok := sanitize(path); ok {
			if s.configType == "" {
				if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
					v.SetConfigType(ext)
				}
			}
			if rerr := v.ReadConfig(bytes.NewReader(cleaned)); rerr == nil {
				return v, nil
			}
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

// sanitize strips byte order marks and zero-width spaces some editors leave behind.
func sanitize(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	changed := false
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0xEF && data[i+1] == 0xBB && data[i+2] == 0xBF {
			i += 2
			changed = true
			continue
		}
		if i+2 < len(data) && data[i] == 0xE2 && data[i+1] == 0x80 && data[i+2] == 0x8B {
			i += 2
			changed = true
			continue
		}
		out = append(out, data[i])
	}
	if changed {
		return out, true
	}
	return nil, false
}

func decode(v *viper.Viper, out *Config) error {
	err := v.Unmarshal(out, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
