package component

import "github.com/apache/karaf-sub011/registry"

// reconfigureLocked applies a configuration change. A nil props means the
// configuration was deleted.
func (m *Manager) reconfigureLocked(props registry.Properties) bool {
	policy := m.desc.ConfigPolicy()
	if policy == ConfigIgnore {
		m.logger.Debug("Configuration ignored")
		return true
	}

	if props == nil {
		if !m.hasConfig {
			return true
		}
		m.config, m.hasConfig = nil, false
		m.metrics.RecordConfigUpdate(m.desc.Name, "deleted")
		m.logger.Info("Configuration deleted")
		if policy == ConfigRequire {
			m.deactivateLocked(ReasonConfigurationDeleted)
			return true
		}
	} else {
		m.config, m.hasConfig = props, true
		m.metrics.RecordConfigUpdate(m.desc.Name, "updated")
		m.logger.Info("Configuration updated", "keys", len(props))
	}

	switch state := m.State(); {
	case state == StateEnabled || state == StateUnsatisfied:
		m.retargetLocked()
		m.activateLocked()
	case state.Satisfied():
		if m.modifyLocked() {
			m.logger.Debug("Configuration applied in place")
			return true
		}
		m.deactivateLocked(ReasonConfigurationModified)
		m.retargetLocked()
		m.activateLocked()
	}
	return true
}

// retargetLocked recomputes every tracker's target from the current
// properties.
func (m *Manager) retargetLocked() {
	props := m.propertiesLocked()
	for _, t := range m.refTrackers() {
		t.setTargetFilter(targetFor(t.ref, props))
	}
}

// modifyLocked tries to apply the current properties without
// deactivating. It reports false when the component must be reactivated
// instead.
func (m *Manager) modifyLocked() bool {
	inst := m.inst.Load()
	if inst != nil && !m.modifiedInv.declared() {
		return false
	}

	props := m.propertiesLocked()
	for _, t := range m.refTrackers() {
		if !t.canApplyFilterChangeLive(targetFor(t.ref, props)) {
			m.logger.Debug("Target change needs reactivation", "reference", t.ref.Name)
			return false
		}
	}
	for _, t := range m.refTrackers() {
		t.setTargetFilter(targetFor(t.ref, props))
	}

	if inst != nil {
		inst.ctx.setProperties(props)
		if ok, err := m.modifiedInv.activate(inst.Object, inst.ctx); !ok || err != nil {
			return false
		}
	}

	for _, t := range m.refTrackers() {
		if !t.satisfied() {
			return false
		}
	}

	if m.registration != nil {
		if err := m.registration.Update(serviceProperties(props, m.desc)); err != nil {
			m.logger.Warn("Service property update failed", "error", err)
		}
	}
	return true
}
