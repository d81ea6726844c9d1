// Package container hosts a set of components over one service registry.
//
// Runtime registers component descriptors, enables them on Start and
// disposes them in reverse registration order on Stop. It implements the
// enabler used by component contexts and the target used by configadmin.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apache/karaf-sub011/component"
	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/health"
	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/registry"
)

// SystemName is the component name used for aggregate health.
const SystemName = "scr"

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry shared by every component.
func WithMetrics(m *metric.MetricsRegistry) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithStateListener adds a listener notified of every transition, after
// the runtime's health monitor.
func WithStateListener(l component.StateListener) Option {
	return func(r *Runtime) { r.listener = l }
}

// WithConfigurations sets initial configuration per component name.
func WithConfigurations(cfg map[string]map[string]any) Option {
	return func(r *Runtime) { r.configs = cfg }
}

// WithEnableTimeout bounds how long Start waits for each component.
func WithEnableTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.enableTimeout = d
		}
	}
}

// Runtime manages the components of one registry.
type Runtime struct {
	registry      registry.Registry
	metrics       *metric.MetricsRegistry
	logger        *slog.Logger
	listener      component.StateListener
	configs       map[string]map[string]any
	enableTimeout time.Duration
	monitor       *health.Monitor

	mu         sync.RWMutex
	components map[string]*component.Manager
	order      []string

	started atomic.Bool
	stopped atomic.Bool
}

// New creates a Runtime over reg.
func New(reg registry.Registry, opts ...Option) (*Runtime, error) {
	if reg == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil registry"), "Runtime", "New", "runtime construction")
	}
	r := &Runtime{
		registry:      reg,
		logger:        slog.Default(),
		enableTimeout: 30 * time.Second,
		monitor:       health.NewMonitor(),
		components:    make(map[string]*component.Manager),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "container")
	return r, nil
}

// Register adds a component. callbacks may be nil when the descriptor
// declares none. Components registered after Start are enabled at once
// unless they start disabled.
func (r *Runtime) Register(desc component.Descriptor, ctor component.Constructor, callbacks component.Resolver) (*component.Manager, error) {
	if r.stopped.Load() {
		return nil, errors.WrapFatal(errors.ErrDisposed, "Runtime", "Register", "runtime stopped")
	}

	var opts []component.ManagerOption
	if props, ok := r.configs[desc.Name]; ok {
		opts = append(opts, component.WithConfiguration(registry.Properties(props)))
	}

	m, err := component.NewManager(desc, ctor, component.Dependencies{
		Registry:        r.registry,
		Resolver:        callbacks,
		MetricsRegistry: r.metrics,
		Logger:          r.logger,
		Enabler:         r,
		StateListener:   r.observe,
	}, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.components[desc.Name]; exists {
		r.mu.Unlock()
		m.Dispose(component.ReasonDisposed)
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrDuplicateComponent, desc.Name),
			"Runtime", "Register", "register component")
	}
	r.components[desc.Name] = m
	r.order = append(r.order, desc.Name)
	r.mu.Unlock()

	r.logger.Debug("Component registered", "name", desc.Name, "id", m.ID())

	if r.started.Load() && !desc.StartDisabled {
		m.Enable()
	}
	return m, nil
}

// Start enables every component not marked StartDisabled and waits for the
// enable operations to complete.
func (r *Runtime) Start(ctx context.Context) error {
	if r.stopped.Load() {
		return errors.WrapFatal(errors.ErrDisposed, "Runtime", "Start", "runtime stopped")
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range r.Components() {
		if m.Descriptor().StartDisabled {
			continue
		}
		fut := m.Enable()
		name := m.Name()
		g.Go(func() error {
			waitCtx, cancel := context.WithTimeout(gctx, r.enableTimeout)
			defer cancel()
			if _, err := fut.Wait(waitCtx); err != nil {
				return errors.WrapTransient(err, "Runtime", "Start", "enable "+name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.Info("Runtime started", "components", r.Len())
	return nil
}

// Stop disposes every component in reverse registration order. ctx bounds
// the total time spent; components not reached are reported in the error.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}

	comps := r.Components()
	for i := len(comps) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(fmt.Errorf("%d components not stopped: %w", i+1, err),
				"Runtime", "Stop", "dispose components")
		}
		comps[i].Dispose(component.ReasonContainerStopped)
	}
	r.logger.Info("Runtime stopped", "components", len(comps))
	return nil
}

// Flush waits until every component's queue is idle.
func (r *Runtime) Flush(ctx context.Context) error {
	for _, m := range r.Components() {
		if err := m.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EnableComponent enables the named component asynchronously.
func (r *Runtime) EnableComponent(name string) error {
	m, err := r.lookup(name, "EnableComponent")
	if err != nil {
		return err
	}
	m.Enable()
	return nil
}

// DisableComponent disables the named component asynchronously.
func (r *Runtime) DisableComponent(name string) error {
	m, err := r.lookup(name, "DisableComponent")
	if err != nil {
		return err
	}
	m.Disable()
	return nil
}

// Reconfigure replaces the configuration of the named component. A nil
// props deletes it.
func (r *Runtime) Reconfigure(name string, props map[string]any) error {
	m, err := r.lookup(name, "Reconfigure")
	if err != nil {
		return err
	}
	if props == nil {
		m.Reconfigure(nil)
	} else {
		m.Reconfigure(registry.Properties(props))
	}
	return nil
}

// Component returns the named component.
func (r *Runtime) Component(name string) (*component.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.components[name]
	return m, ok
}

// Components returns every component in registration order.
func (r *Runtime) Components() []*component.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*component.Manager, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.components[name])
	}
	return out
}

// Names returns the registered component names, sorted.
func (r *Runtime) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Clone(r.order)
	slices.Sort(names)
	return names
}

// Len returns the number of registered components.
func (r *Runtime) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Lookup returns the implementation object of the named component, if it
// has one. A delayed component in the Registered state has none until its
// service is first retrieved from the registry, so Lookup reports false for
// it; Lookup never creates the object.
func (r *Runtime) Lookup(name string) (any, bool) {
	m, ok := r.Component(name)
	if !ok {
		return nil, false
	}
	obj := m.Instance()
	return obj, obj != nil
}

// Health refreshes and aggregates the health of every component. Disabled
// components are left out.
func (r *Runtime) Health() health.Status {
	for _, m := range r.Components() {
		state := m.State()
		if state == component.StateDisabled {
			r.monitor.Remove(m.Name())
			continue
		}
		r.monitor.Update(m.Name(), health.FromComponentState(m.Name(), state, m.References()))
	}
	return r.monitor.AggregateHealth(SystemName)
}

// HealthFunc adapts Health for the metrics server. Degraded counts as
// healthy.
func (r *Runtime) HealthFunc() metric.HealthFunc {
	return func() (bool, string) {
		st := r.Health()
		return !st.IsUnhealthy(), st.Message
	}
}

// Monitor exposes the health monitor fed by state transitions.
func (r *Runtime) Monitor() *health.Monitor {
	return r.monitor
}

func (r *Runtime) lookup(name, method string) (*component.Manager, error) {
	m, ok := r.Component(name)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrComponentNotFound, name),
			"Runtime", method, "component lookup")
	}
	return m, nil
}

// observe runs with the component's transition lock held. Factory
// instances are forwarded to the listener but kept out of the monitor.
func (r *Runtime) observe(name string, from, to component.State) {
	if _, ok := r.Component(name); ok {
		if to == component.StateDisabled {
			r.monitor.Remove(name)
		} else {
			r.monitor.ObserveState(name, from, to)
		}
	}
	if r.listener != nil {
		r.listener(name, from, to)
	}
}
