package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/registry"
)

// Instance is a created component: the implementation object and the
// context handed to its callbacks.
type Instance struct {
	ID     uuid.UUID
	Object any

	ctx *Context
}

// Context returns the instance's component context.
func (i *Instance) Context() *Context { return i.ctx }

// Enabler enables and disables components by name on behalf of a Context.
type Enabler interface {
	EnableComponent(name string) error
	DisableComponent(name string) error
}

// Context is the component's view of the runtime while it is active.
type Context struct {
	m        *Manager
	instance *Instance
	trackers map[string]*tracker
	// calls carries the registry creation path the instance was made on.
	// Only its values are used.
	calls context.Context

	mu    sync.RWMutex
	props registry.Properties
}

func newInstance(ctx context.Context, m *Manager, obj any, props registry.Properties) *Instance {
	inst := &Instance{ID: uuid.New(), Object: obj}
	trackers := make(map[string]*tracker)
	for _, t := range m.refTrackers() {
		trackers[t.ref.Name] = t
	}
	inst.ctx = &Context{m: m, instance: inst, trackers: trackers, calls: context.WithoutCancel(ctx), props: props}
	return inst
}

// Properties returns a copy of the component properties.
func (c *Context) Properties() registry.Properties {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props.Clone()
}

func (c *Context) setProperties(props registry.Properties) {
	c.mu.Lock()
	c.props = props
	c.mu.Unlock()
}

// ComponentName returns the descriptor name.
func (c *Context) ComponentName() string { return c.m.desc.Name }

// ComponentID returns the runtime-assigned component id.
func (c *Context) ComponentID() int64 { return c.m.id }

// Instance returns the implementation object.
func (c *Context) Instance() any { return c.instance.Object }

// InstanceID returns the id of this activation.
func (c *Context) InstanceID() uuid.UUID { return c.instance.ID }

// Logger returns the component logger.
func (c *Context) Logger() *slog.Logger { return c.m.logger }

// Metrics returns the registrar for component-specific metrics, or nil when
// the runtime has no metrics registry.
func (c *Context) Metrics() metric.MetricsRegistrar {
	if c.m.deps.MetricsRegistry == nil {
		return nil
	}
	return c.m.deps.MetricsRegistry
}

// LocateService returns the best bound service of a reference.
func (c *Context) LocateService(reference string) (any, bool) {
	t, ok := c.trackers[reference]
	if !ok {
		return nil, false
	}
	for _, b := range t.bindings() {
		if svc, ok := t.fetch(c.calls, b); ok {
			return svc, true
		}
	}
	return nil, false
}

// LocateServices returns every bound service of a reference, best first.
func (c *Context) LocateServices(reference string) []any {
	t, ok := c.trackers[reference]
	if !ok {
		return nil
	}
	var out []any
	for _, b := range t.bindings() {
		if svc, ok := t.fetch(c.calls, b); ok {
			out = append(out, svc)
		}
	}
	return out
}

// EnableComponent asks the container to enable another component. The
// request is queued; it does not wait for activation.
func (c *Context) EnableComponent(name string) error {
	if c.m.enabler == nil {
		return errors.WrapInvalid(fmt.Errorf("no enabler configured"), "Context", "EnableComponent", "enable "+name)
	}
	return c.m.enabler.EnableComponent(name)
}

// DisableComponent asks the container to disable another component.
func (c *Context) DisableComponent(name string) error {
	if c.m.enabler == nil {
		return errors.WrapInvalid(fmt.Errorf("no enabler configured"), "Context", "DisableComponent", "disable "+name)
	}
	return c.m.enabler.DisableComponent(name)
}
