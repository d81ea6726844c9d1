package component

import (
	"fmt"
	"reflect"

	"github.com/apache/karaf-sub011/registry"
)

// Shape is the argument shape of a resolved callback.
type Shape int

const (
	// ShapeHandle receives the registry handle only.
	ShapeHandle Shape = iota
	// ShapeService receives the service object.
	ShapeService
	// ShapeServiceProperties receives the service object and its properties.
	ShapeServiceProperties
	// ShapeLifecycle receives the component context (activate, modified).
	ShapeLifecycle
	// ShapeDeactivate receives the component context and a reason.
	ShapeDeactivate
)

func (s Shape) String() string {
	switch s {
	case ShapeHandle:
		return "handle"
	case ShapeService:
		return "service"
	case ShapeServiceProperties:
		return "service+properties"
	case ShapeLifecycle:
		return "lifecycle"
	case ShapeDeactivate:
		return "deactivate"
	default:
		return "unknown"
	}
}

// reference reports whether the shape can serve bind, unbind or updated.
func (s Shape) reference() bool {
	return s == ShapeHandle || s == ShapeService || s == ShapeServiceProperties
}

// Callback is a resolved, typed callable. The instance argument is the
// component's implementation object.
type Callback interface {
	Shape() Shape
}

// HandleFunc is a reference callback receiving the registry handle.
type HandleFunc func(instance any, h registry.Handle) error

// ServiceFunc is a reference callback receiving the service object.
type ServiceFunc func(instance any, service any) error

// ServicePropsFunc is a reference callback receiving the service object and
// a snapshot of its properties.
type ServicePropsFunc func(instance any, service any, props registry.Properties) error

// LifecycleFunc is an activate or modified callback.
type LifecycleFunc func(instance any, ctx *Context) error

// DeactivateFunc is a deactivate callback.
type DeactivateFunc func(instance any, ctx *Context, reason Reason) error

func (HandleFunc) Shape() Shape       { return ShapeHandle }
func (ServiceFunc) Shape() Shape      { return ShapeService }
func (ServicePropsFunc) Shape() Shape { return ShapeServiceProperties }
func (LifecycleFunc) Shape() Shape    { return ShapeLifecycle }
func (DeactivateFunc) Shape() Shape   { return ShapeDeactivate }

// Resolver maps a declared callback name to a callable. owner is the
// implementation object the callback will be invoked on; hint is the shape
// the caller expects.
type Resolver interface {
	Resolve(name string, owner any, hint Shape) (Callback, bool)
}

// Callbacks is a Resolver backed by a table of callables.
type Callbacks map[string]Callback

// Resolve returns the named callback when its shape fits the hint. Any
// reference shape fits a reference hint.
func (c Callbacks) Resolve(name string, _ any, hint Shape) (Callback, bool) {
	cb, ok := c[name]
	if !ok || cb == nil {
		return nil, false
	}
	if cb.Shape() == hint || (hint.reference() && cb.Shape().reference()) {
		return cb, true
	}
	return nil, false
}

// Merge returns a table with the entries of c and other; other wins.
func (c Callbacks) Merge(other Callbacks) Callbacks {
	out := make(Callbacks, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// BindService adapts a typed function to a ServiceFunc.
func BindService[T, S any](fn func(T, S)) ServiceFunc {
	return func(instance, service any) error {
		t, s, err := assertPair[T, S](instance, service)
		if err != nil {
			return err
		}
		fn(t, s)
		return nil
	}
}

// BindServiceProps adapts a typed function to a ServicePropsFunc.
func BindServiceProps[T, S any](fn func(T, S, registry.Properties)) ServicePropsFunc {
	return func(instance, service any, props registry.Properties) error {
		t, s, err := assertPair[T, S](instance, service)
		if err != nil {
			return err
		}
		fn(t, s, props)
		return nil
	}
}

// BindHandle adapts a typed function to a HandleFunc.
func BindHandle[T any](fn func(T, registry.Handle)) HandleFunc {
	return func(instance any, h registry.Handle) error {
		t, ok := instance.(T)
		if !ok {
			return fmt.Errorf("instance is %T, not %v", instance, reflect.TypeFor[T]())
		}
		fn(t, h)
		return nil
	}
}

// OnActivate adapts a typed function to a LifecycleFunc.
func OnActivate[T any](fn func(T, *Context) error) LifecycleFunc {
	return func(instance any, ctx *Context) error {
		t, ok := instance.(T)
		if !ok {
			return fmt.Errorf("instance is %T, not %v", instance, reflect.TypeFor[T]())
		}
		return fn(t, ctx)
	}
}

// OnDeactivate adapts a typed function to a DeactivateFunc.
func OnDeactivate[T any](fn func(T, *Context, Reason) error) DeactivateFunc {
	return func(instance any, ctx *Context, reason Reason) error {
		t, ok := instance.(T)
		if !ok {
			return fmt.Errorf("instance is %T, not %v", instance, reflect.TypeFor[T]())
		}
		return fn(t, ctx, reason)
	}
}

func assertPair[T, S any](instance, service any) (T, S, error) {
	t, ok := instance.(T)
	if !ok {
		var s S
		return t, s, fmt.Errorf("instance is %T, not %v", instance, reflect.TypeFor[T]())
	}
	s, ok := service.(S)
	if !ok {
		return t, s, fmt.Errorf("service is %T, not %v", service, reflect.TypeFor[S]())
	}
	return t, s, nil
}
