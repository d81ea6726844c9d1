package component

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/registry"
)

// activateLocked moves an enabled component towards a satisfied state.
// It reports whether the component is satisfied afterwards.
func (m *Manager) activateLocked() bool {
	state := m.State()
	if state.Satisfied() {
		return true
	}
	if state != StateEnabled && state != StateUnsatisfied {
		return false
	}

	if cause := m.unsatisfiedCauseLocked(); cause != "" {
		if state == StateEnabled {
			m.transition(evUnsatisfied)
		}
		m.logger.Debug("Component not satisfied", "cause", cause)
		return false
	}

	start := time.Now()
	m.transition(evActivate)

	switch m.desc.EffectiveActivation() {
	case Delayed:
		m.transition(evRegistered)
		m.publishLocked(m.desc.Services, delayedService{m: m})
	case Factory:
		m.childMu.Lock()
		m.acceptChildren = true
		m.childMu.Unlock()
		m.transition(evFactory)
		m.publishLocked([]string{FactoryService}, &ComponentFactory{m: m})
	default:
		if !m.createInstanceLocked(context.Background()) {
			m.transition(evFailed)
			return false
		}
		m.transition(evActivated)
		m.publishLocked(m.desc.Services, m.instanceObject())
	}

	m.metrics.RecordTransitionDuration(m.desc.Name, "activate", time.Since(start))
	m.logger.Info("Component activated", "state", m.State().String())
	return true
}

// unsatisfiedCauseLocked explains why activation cannot proceed, or
// returns "".
func (m *Manager) unsatisfiedCauseLocked() string {
	if m.desc.ConfigPolicy() == ConfigRequire && !m.hasConfig {
		return "configuration required"
	}
	for _, t := range m.refTrackers() {
		if !t.satisfied() {
			return fmt.Sprintf("reference %s unsatisfied", t.ref.Name)
		}
	}
	return ""
}

// deactivateLocked takes a satisfied component back to Unsatisfied. It
// always completes.
func (m *Manager) deactivateLocked(reason Reason) {
	if !m.State().Satisfied() {
		return
	}

	start := time.Now()
	m.transition(evDeactivate)
	m.unregisterLocked()
	if m.desc.EffectiveActivation() == Factory {
		m.disposeChildren()
	}
	m.disposeInstanceLocked(reason)
	m.transition(evDeactivated)

	m.metrics.RecordTransitionDuration(m.desc.Name, "deactivate", time.Since(start))
	m.logger.Info("Component deactivated", "reason", reason.String())

	// Factory instances are not reactivated once they lose their
	// dependencies.
	if m.parent != nil && !m.disposing && reason != ReasonConfigurationModified {
		m.disposeLocked(ReasonDisposed)
	}
}

func (m *Manager) reactivateLocked(reason Reason) {
	m.deactivateLocked(reason)
	m.activateLocked()
}

// createInstanceLocked instantiates the implementation, binds every
// reference and calls activate. On failure everything bound so far is
// unbound and false is returned. ctx is used for registry Gets.
func (m *Manager) createInstanceLocked(ctx context.Context) bool {
	obj, err := m.construct()
	if err != nil {
		m.metrics.RecordActivationFailure(m.desc.Name, "instantiation")
		m.logger.Error("Component instantiation failed", "error", err)
		return false
	}

	inst := newInstance(ctx, m, obj, m.propertiesLocked())
	m.inst.Store(inst)

	for _, t := range m.refTrackers() {
		if !t.open(ctx, obj) {
			m.metrics.RecordActivationFailure(m.desc.Name, "reference")
			m.logger.Warn("Reference could not be bound", "reference", t.ref.Name)
			m.closeTrackersLocked(obj)
			m.inst.Store(nil)
			return false
		}
	}

	if _, err := m.activateInv.activate(obj, inst.ctx); err != nil {
		m.metrics.RecordActivationFailure(m.desc.Name, "activate")
		m.logger.Error("Activate callback failed", "error", err)
		m.closeTrackersLocked(obj)
		m.inst.Store(nil)
		return false
	}
	return true
}

func (m *Manager) construct() (obj any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	obj, err = m.ctor()
	if err == nil && obj == nil {
		err = fmt.Errorf("constructor returned nil")
	}
	if err != nil {
		err = errors.Wrap(fmt.Errorf("%w: %v", errors.ErrInstantiation, err), "Manager", "construct", "instantiation")
	}
	return obj, err
}

// disposeInstanceLocked calls deactivate and unbinds every reference.
func (m *Manager) disposeInstanceLocked(reason Reason) {
	inst := m.inst.Load()
	var obj any
	if inst != nil {
		obj = inst.Object
		m.deactivateInv.deactivate(obj, inst.ctx, reason)
	}
	m.closeTrackersLocked(obj)
	m.inst.Store(nil)
}

func (m *Manager) closeTrackersLocked(obj any) {
	for _, t := range m.refTrackers() {
		t.close(obj)
	}
}

func (m *Manager) publishLocked(services []string, svc any) {
	if len(m.desc.Services) == 0 && m.desc.EffectiveActivation() != Factory {
		return
	}
	reg, err := m.registry.Publish(services, svc, m.servicePropertiesLocked())
	if err != nil {
		m.logger.Error("Service registration failed", "services", services, "error", err)
		return
	}
	m.registration = reg
	m.logger.Debug("Service registered", "services", services, "service_id", reg.Handle().ID())
}

func (m *Manager) unregisterLocked() {
	if m.registration == nil {
		return
	}
	reg := m.registration
	m.registration = nil
	if err := reg.Unregister(); err != nil {
		m.logger.Warn("Service unregistration failed", "error", err)
	}
}

func (m *Manager) ownsLocked(h registry.Handle) bool {
	return m.registration != nil && m.registration.Handle().ID() == h.ID()
}

// delayedService creates the implementation on first use of a delayed
// component's service and discards it after the last release.
type delayedService struct {
	m *Manager
}

func (d delayedService) GetService(ctx context.Context, h registry.Handle) (any, error) {
	m := d.m
	// A Get reaching back into a creation in progress would wait on the
	// transition lock it already holds.
	if m.creating.Load() {
		return nil, errors.WrapTransient(errors.ErrServiceGone, "Manager", "GetService", "delayed service being created")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ownsLocked(h) {
		return nil, errors.WrapTransient(errors.ErrServiceGone, "Manager", "GetService", "delayed service")
	}

	switch m.State() {
	case StateActive:
		return m.instanceObject(), nil
	case StateRegistered:
		m.transition(evCreate)
		m.creating.Store(true)
		created := m.createInstanceLocked(ctx)
		m.creating.Store(false)
		if !created {
			m.transition(evCreateFailed)
			return nil, errors.WrapTransient(errors.ErrInstantiation, "Manager", "GetService", "delayed service")
		}
		m.transition(evActivated)
		m.logger.Info("Delayed component created on first use")
		return m.instanceObject(), nil
	default:
		return nil, errors.WrapTransient(errors.ErrServiceGone, "Manager", "GetService", "delayed service")
	}
}

func (d delayedService) UngetService(h registry.Handle, _ any) {
	m := d.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ownsLocked(h) || m.State() != StateActive {
		return
	}
	m.disposeInstanceLocked(ReasonUnspecified)
	m.transition(evRelease)
	m.logger.Info("Delayed component released")
}
