package component

import (
	"fmt"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/registry"
)

// FactoryService is the service name a factory component publishes its
// ComponentFactory under.
const FactoryService = "component.ComponentFactory"

// ComponentFactory creates instances of a factory component.
type ComponentFactory struct {
	m *Manager
}

// FactoryID returns the descriptor's factory id.
func (f *ComponentFactory) FactoryID() string { return f.m.desc.FactoryID }

// NewInstance creates and activates a new instance with props layered over
// the component properties. It fails when the instance cannot be
// satisfied.
func (f *ComponentFactory) NewInstance(props registry.Properties) (*FactoryInstance, error) {
	parent := f.m
	if parent.State() != StateFactory {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: factory %s is %s", errors.ErrServiceGone, parent.desc.FactoryID, parent.State()),
			"ComponentFactory", "NewInstance", "factory state check")
	}

	desc := parent.desc
	desc.Activation = Immediate

	child, err := NewManager(desc, parent.ctor, parent.deps)
	if err != nil {
		return nil, errors.Wrap(err, "ComponentFactory", "NewInstance", "instance construction")
	}
	child.parent = parent
	child.factoryProps = props.Clone()

	parent.mu.Lock()
	child.config, child.hasConfig = parent.config.Clone(), parent.hasConfig
	parent.mu.Unlock()

	parent.childMu.Lock()
	if !parent.acceptChildren {
		parent.childMu.Unlock()
		return nil, errors.WrapTransient(errors.ErrServiceGone, "ComponentFactory", "NewInstance", "factory closed")
	}
	parent.children[child] = struct{}{}
	parent.childMu.Unlock()

	child.mu.Lock()
	child.enableLocked()
	ok := child.activateLocked()
	child.mu.Unlock()

	if !ok {
		child.Dispose(ReasonDisposed)
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: instance of %s is not satisfied", errors.ErrInstantiation, parent.desc.Name),
			"ComponentFactory", "NewInstance", "instance activation")
	}

	parent.logger.Info("Factory instance created", "instance_component_id", child.id)
	return &FactoryInstance{m: child}, nil
}

// FactoryInstance is one instance created through a ComponentFactory.
type FactoryInstance struct {
	m *Manager
}

// Instance returns the implementation object, or nil once disposed.
func (fi *FactoryInstance) Instance() any { return fi.m.Instance() }

// Manager returns the instance's lifecycle manager.
func (fi *FactoryInstance) Manager() *Manager { return fi.m }

// Dispose deactivates and destroys the instance.
func (fi *FactoryInstance) Dispose() { fi.m.Dispose(ReasonDisposed) }

// Children returns the live instances created by a factory component.
func (m *Manager) Children() []*Manager {
	m.childMu.Lock()
	defer m.childMu.Unlock()

	out := make([]*Manager, 0, len(m.children))
	for c := range m.children {
		out = append(out, c)
	}
	return out
}

func (m *Manager) forgetChild(child *Manager) {
	m.childMu.Lock()
	delete(m.children, child)
	m.childMu.Unlock()
}

// disposeChildren stops accepting instances and disposes the live ones.
func (m *Manager) disposeChildren() {
	m.childMu.Lock()
	m.acceptChildren = false
	children := make([]*Manager, 0, len(m.children))
	for c := range m.children {
		children = append(children, c)
	}
	m.children = make(map[*Manager]struct{})
	m.childMu.Unlock()

	for _, c := range children {
		c.Dispose(ReasonDisposed)
	}
}
