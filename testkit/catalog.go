package testkit

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// ErrUnknownKind is returned for kinds missing from a Catalog.
var ErrUnknownKind = errors.New("testkit: unknown resource kind")

var validate = validator.New()

// Catalog maps declarative kind names to resource factories.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]resource.Factory
}

// NewCatalog returns a catalog holding every built-in kind.
func NewCatalog() *Catalog {
	c := &Catalog{kinds: map[string]resource.Factory{}}
	c.kinds["container"] = factoryOf(NewContainer)
	c.kinds["postgres"] = factoryOf(NewPostgres)
	c.kinds["mysql"] = factoryOf(NewMySQL)
	c.kinds["redis"] = factoryOf(NewRedis)
	c.kinds["minio"] = factoryOf(NewMinIO)
	c.kinds["emqx"] = factoryOf(NewEMQX)
	c.kinds["localstack"] = factoryOf(NewLocalStack)
	c.kinds["miniredis"] = factoryOf(NewMiniRedis)
	c.kinds["sqlite"] = factoryOf(NewSQLite)
	c.kinds["mqtt"] = factoryOf(NewMQTT)
	c.kinds["httpmock"] = factoryOf(NewHTTPMock)
	return c
}

// Register adds or replaces a kind.
func (c *Catalog) Register(kind string, f resource.Factory) error {
	kind = normalizeKind(kind)
	if kind == "" || f == nil {
		return fmt.Errorf("register kind %q: kind and factory are required", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[kind] = f
	return nil
}

// Factory returns the factory registered for kind.
func (c *Catalog) Factory(kind string) (resource.Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.kinds[normalizeKind(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f, nil
}

// Kinds lists the registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func factoryOf[T any, R resource.Resource](build func(T) R) resource.Factory {
	return func(opts resource.Options) (resource.Resource, error) {
		var o T
		if err := DecodeOptions(opts, &o); err != nil {
			return nil, err
		}
		return build(o), nil
	}
}

// DecodeOptions decodes descriptor options into a tagged struct and validates it.
func DecodeOptions(opts resource.Options, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(opts)); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
