package resource

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// Broker hands live resource handles and properties to test code.
// It never changes instance state.
type Broker struct {
	o *Orchestrator
}

// Broker returns a read-only view of o.
func (o *Orchestrator) Broker() *Broker {
	return &Broker{o: o}
}

// HandleFor returns the handle of a Running resource. Keys not owned by a
// class orchestrator are looked up in its parent.
func (b *Broker) HandleFor(key string) (any, error) {
	inst, err := b.lookup(key)
	if err != nil {
		return nil, err
	}
	return inst.handle, nil
}

// HandleAs is a typed wrapper around HandleFor.
func HandleAs[T any](b *Broker, key string) (T, error) {
	var zero T
	v, err := b.HandleFor(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &HandleTypeError{
			Key:      key,
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual:   fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}

// ConfigFor returns the properties published by one Running resource.
// Resources that do not implement Configurer publish nothing.
func (b *Broker) ConfigFor(key string) (map[string]string, error) {
	inst, err := b.lookup(key)
	if err != nil {
		return nil, err
	}
	return propertiesOf(inst.resource), nil
}

// Properties merges the properties of every Running resource, parent first
// and then in start order. Later resources override earlier ones.
func (b *Broker) Properties() map[string]string {
	out := map[string]string{}
	if b.o.parent != nil {
		maps.Copy(out, b.o.parent.Broker().Properties())
	}

	b.o.mu.RLock()
	running := make([]*instance, 0, len(b.o.startOrder))
	for _, inst := range b.o.startOrder {
		if inst.state == Running {
			running = append(running, inst)
		}
	}
	b.o.mu.RUnlock()

	for _, inst := range running {
		for k, v := range propertiesOf(inst.resource) {
			if prev, exists := out[k]; exists && prev != v {
				b.o.logger.Warn("resource property overridden",
					zap.String("property", k), zap.String("resource", inst.desc.Key))
			}
			out[k] = v
		}
	}
	return out
}

func propertiesOf(r Resource) map[string]string {
	c, ok := r.(Configurer)
	if !ok {
		return map[string]string{}
	}
	props := c.Properties()
	if props == nil {
		return map[string]string{}
	}
	return maps.Clone(props)
}

func (b *Broker) lookup(key string) (*instance, error) {
	o := b.o
	o.mu.RLock()
	inst, owned := o.byKey[key]
	if owned {
		defer o.mu.RUnlock()
		if inst.state != Running {
			return nil, &NotRunningError{Key: key, State: inst.state}
		}
		return inst, nil
	}
	o.mu.RUnlock()

	if o.parent != nil {
		return o.parent.Broker().lookup(key)
	}
	if _, err := o.registry.Resolve(key); err != nil {
		return nil, err
	}
	// Registered but owned by a class orchestrator.
	return nil, &NotRunningError{Key: key, State: Created}
}

// Inject assigns handles to the exported fields of the struct pointed to by
// target that carry a `resource:"key"` tag. A ",optional" suffix leaves the
// field untouched when the resource is unknown or not running.
func (b *Broker) Inject(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("resource: inject target must be a non-nil struct pointer, got %T", target)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag, ok := field.Tag.Lookup("resource")
		if !ok || tag == "-" {
			continue
		}
		key, optional := parseInjectTag(tag)
		if key == "" {
			key = field.Name
		}
		if !field.IsExported() {
			return &InjectError{Field: field.Name, Key: key, Err: fmt.Errorf("field is not exported")}
		}

		handle, err := b.HandleFor(key)
		if err != nil {
			if optional {
				continue
			}
			return &InjectError{Field: field.Name, Key: key, Err: err}
		}

		hv := reflect.ValueOf(handle)
		fv := rv.Field(i)
		if !hv.IsValid() {
			continue
		}
		if !hv.Type().AssignableTo(fv.Type()) {
			return &InjectError{Field: field.Name, Key: key, Err: &HandleTypeError{
				Key:      key,
				Expected: fv.Type().String(),
				Actual:   hv.Type().String(),
			}}
		}
		fv.Set(hv)
	}
	return nil
}

func parseInjectTag(tag string) (key string, optional bool) {
	parts := strings.Split(tag, ",")
	key = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		if strings.TrimSpace(p) == "optional" {
			optional = true
		}
	}
	return key, optional
}
