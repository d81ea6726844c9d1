package component

import (
	"maps"
	"strings"

	"github.com/apache/karaf-sub011/registry"
)

// Reserved component property keys.
const (
	PropComponentName    = "component.name"
	PropComponentID      = "component.id"
	PropComponentFactory = "component.factory"
)

// propertiesLocked composes the component properties. Later layers win:
// descriptor properties, reference targets, configuration (unless
// ignored), factory instance properties. component.name and
// component.id cannot be overridden.
func (m *Manager) propertiesLocked() registry.Properties {
	props := make(registry.Properties, len(m.desc.Properties)+len(m.desc.References)+len(m.config)+2)
	maps.Copy(props, m.desc.Properties)
	for _, ref := range m.desc.References {
		if ref.Target != "" {
			props[ref.TargetKey()] = ref.Target
		}
	}
	if m.hasConfig && m.desc.ConfigPolicy() != ConfigIgnore {
		maps.Copy(props, m.config)
	}
	maps.Copy(props, m.factoryProps)

	props[PropComponentName] = m.desc.Name
	props[PropComponentID] = m.id
	return props
}

// servicePropertiesLocked is the property set published with the
// component's service. Private keys, those starting with ".", are left
// out.
func (m *Manager) servicePropertiesLocked() registry.Properties {
	return serviceProperties(m.propertiesLocked(), m.desc)
}

func serviceProperties(props registry.Properties, desc Descriptor) registry.Properties {
	out := make(registry.Properties, len(props)+1)
	for k, v := range props {
		if !strings.HasPrefix(k, ".") {
			out[k] = v
		}
	}
	if desc.EffectiveActivation() == Factory {
		out[PropComponentFactory] = desc.FactoryID
	}
	return out
}

// targetFor returns the target filter of ref under props.
func targetFor(ref Reference, props registry.Properties) string {
	if v, ok := props[ref.TargetKey()].(string); ok {
		return v
	}
	return ref.Target
}
