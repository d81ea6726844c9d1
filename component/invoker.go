package component

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/registry"
)

// invoker delivers one declared callback. The callable is resolved on first
// use against the implementation object and kept; a name that cannot be
// resolved is reported once and then treated as absent.
type invoker struct {
	component string
	reference string
	kind      string
	name      string
	hint      Shape
	resolver  Resolver
	logger    *slog.Logger
	metrics   *metric.Metrics

	mu       sync.Mutex
	resolved bool
	cb       Callback
}

func newInvoker(m *Manager, reference, kind, name string, hint Shape) *invoker {
	logger := m.logger.With("callback", name, "kind", kind)
	if reference != "" {
		logger = logger.With("reference", reference)
	}
	return &invoker{
		component: m.desc.Name,
		reference: reference,
		kind:      kind,
		name:      name,
		hint:      hint,
		resolver:  m.resolver,
		logger:    logger,
		metrics:   m.metrics,
	}
}

func (i *invoker) declared() bool { return i.name != "" }

func (i *invoker) resolve(owner any) (Callback, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.resolved {
		i.resolved = true
		if cb, ok := i.resolver.Resolve(i.name, owner, i.hint); ok {
			i.cb = cb
		} else {
			i.logger.Error("Callback could not be resolved",
				"error", errors.ErrUnresolvedCallback, "owner", fmt.Sprintf("%T", owner), "shape", i.hint.String())
		}
	}
	return i.cb, i.cb != nil
}

// invoke delivers a bind, unbind or updated call. service is consulted only
// when the callback needs the object. It returns false only when the object
// was needed and could not be obtained.
func (i *invoker) invoke(instance any, h registry.Handle, service func() (any, bool)) bool {
	if !i.declared() {
		return true
	}
	cb, ok := i.resolve(instance)
	if !ok {
		return true
	}

	var err error
	switch fn := cb.(type) {
	case HandleFunc:
		err = guard(func() error { return fn(instance, h) })
	case ServiceFunc:
		svc, ok := service()
		if !ok {
			return false
		}
		err = guard(func() error { return fn(instance, svc) })
	case ServicePropsFunc:
		svc, ok := service()
		if !ok {
			return false
		}
		props := h.Properties()
		err = guard(func() error { return fn(instance, svc, props) })
	default:
		i.logger.Error("Callback has wrong shape", "shape", cb.Shape().String())
		return true
	}

	i.metrics.RecordBindOperation(i.component, i.reference, i.kind)
	if err != nil {
		i.failed(err, "service_id", h.ID())
	}
	return true
}

// activate runs an activate or modified callback. ok is false when the
// callback is declared but unresolved.
func (i *invoker) activate(instance any, ctx *Context) (ok bool, err error) {
	if !i.declared() {
		return true, nil
	}
	cb, found := i.resolve(instance)
	if !found {
		return false, nil
	}
	fn, isLifecycle := cb.(LifecycleFunc)
	if !isLifecycle {
		return false, nil
	}
	if err := guard(func() error { return fn(instance, ctx) }); err != nil {
		i.failed(err)
		return true, err
	}
	return true, nil
}

// deactivate runs the deactivate callback; failures are logged only.
func (i *invoker) deactivate(instance any, ctx *Context, reason Reason) {
	if !i.declared() {
		return
	}
	cb, found := i.resolve(instance)
	if !found {
		return
	}
	if fn, ok := cb.(DeactivateFunc); ok {
		if err := guard(func() error { return fn(instance, ctx, reason) }); err != nil {
			i.failed(err, "reason", reason.String())
		}
	}
}

func (i *invoker) failed(err error, attrs ...any) {
	i.metrics.RecordCallbackFailure(i.component, i.name)
	i.logger.Warn("Callback failed", append([]any{"error", err}, attrs...)...)
}

// guard converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn()
}
