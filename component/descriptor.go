package component

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/apache/karaf-sub011/errors"
)

// Cardinality is how many collaborators a reference binds at once.
type Cardinality string

const (
	Single   Cardinality = "single"
	Multiple Cardinality = "multiple"
)

// Optionality decides whether a reference must be satisfied before the
// component can activate.
type Optionality string

const (
	Mandatory Optionality = "mandatory"
	Optional  Optionality = "optional"
)

// Policy decides whether bound collaborators may change while the
// component is active.
type Policy string

const (
	// Static references are fixed for the lifetime of an activation.
	Static Policy = "static"
	// Dynamic references are rebound without deactivating the component.
	Dynamic Policy = "dynamic"
)

// ActivationPolicy selects how the component instance is created.
type ActivationPolicy string

const (
	// Immediate components are created as soon as they are satisfied.
	Immediate ActivationPolicy = "immediate"
	// Delayed components publish their service and are created on first use.
	Delayed ActivationPolicy = "delayed"
	// Factory components publish a Factory that creates instances on demand.
	Factory ActivationPolicy = "factory"
)

// ConfigurationPolicy selects how external configuration is applied.
type ConfigurationPolicy string

const (
	ConfigOptional ConfigurationPolicy = "optional"
	ConfigRequire  ConfigurationPolicy = "require"
	ConfigIgnore   ConfigurationPolicy = "ignore"
)

// Reference declares one dependency of a component.
type Reference struct {
	Name        string      `mapstructure:"name" yaml:"name" validate:"required"`
	Interface   string      `mapstructure:"interface" yaml:"interface" validate:"required"`
	Target      string      `mapstructure:"target" yaml:"target,omitempty"`
	Cardinality Cardinality `mapstructure:"cardinality" yaml:"cardinality,omitempty" validate:"omitempty,oneof=single multiple"`
	Optionality Optionality `mapstructure:"optionality" yaml:"optionality,omitempty" validate:"omitempty,oneof=mandatory optional"`
	Policy      Policy      `mapstructure:"policy" yaml:"policy,omitempty" validate:"omitempty,oneof=static dynamic"`
	Bind        string      `mapstructure:"bind" yaml:"bind,omitempty"`
	Unbind      string      `mapstructure:"unbind" yaml:"unbind,omitempty"`
	Updated     string      `mapstructure:"updated" yaml:"updated,omitempty"`
}

// TargetKey is the component property that overrides Target.
func (r Reference) TargetKey() string { return r.Name + ".target" }

// IsMultiple reports multiple cardinality.
func (r Reference) IsMultiple() bool { return r.Cardinality == Multiple }

// IsOptional reports optional references. Mandatory is the default.
func (r Reference) IsOptional() bool { return r.Optionality == Optional }

// IsDynamic reports the dynamic policy. Static is the default.
func (r Reference) IsDynamic() bool { return r.Policy == Dynamic }

// Descriptor is the immutable declaration of a component.
type Descriptor struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	// Services are published when the component is satisfied.
	Services []string `mapstructure:"services" yaml:"services,omitempty" validate:"dive,required"`
	// Activation defaults to Immediate. Delayed without Services behaves
	// as Immediate.
	Activation ActivationPolicy `mapstructure:"activation" yaml:"activation,omitempty" validate:"omitempty,oneof=immediate delayed factory"`
	// FactoryID is published as component.factory for Factory components.
	FactoryID     string              `mapstructure:"factory_id" yaml:"factory_id,omitempty" validate:"required_if=Activation factory"`
	Configuration ConfigurationPolicy `mapstructure:"configuration_policy" yaml:"configuration_policy,omitempty" validate:"omitempty,oneof=optional require ignore"`
	// StartDisabled leaves the component disabled when the container starts.
	StartDisabled bool `mapstructure:"start_disabled" yaml:"start_disabled,omitempty"`

	Activate   string `mapstructure:"activate" yaml:"activate,omitempty"`
	Deactivate string `mapstructure:"deactivate" yaml:"deactivate,omitempty"`
	Modified   string `mapstructure:"modified" yaml:"modified,omitempty"`

	Properties map[string]any `mapstructure:"properties" yaml:"properties,omitempty"`
	References []Reference    `mapstructure:"references" yaml:"references,omitempty" validate:"dive"`
}

// EffectiveActivation resolves defaults.
func (d *Descriptor) EffectiveActivation() ActivationPolicy {
	switch {
	case d.Activation == Factory:
		return Factory
	case d.Activation == Delayed && len(d.Services) > 0:
		return Delayed
	default:
		return Immediate
	}
}

// ConfigPolicy resolves the default configuration policy.
func (d *Descriptor) ConfigPolicy() ConfigurationPolicy {
	if d.Configuration == "" {
		return ConfigOptional
	}
	return d.Configuration
}

// Reference returns the named reference.
func (d *Descriptor) Reference(name string) (Reference, bool) {
	for _, r := range d.References {
		if r.Name == name {
			return r, true
		}
	}
	return Reference{}, false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func descriptorValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct constraints and that reference names are unique.
func (d *Descriptor) Validate() error {
	if err := descriptorValidator().Struct(d); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidDescriptor, err),
			"Descriptor", "Validate", "descriptor validation")
	}

	seen := make(map[string]struct{}, len(d.References))
	for _, r := range d.References {
		if _, dup := seen[r.Name]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate reference %q", errors.ErrInvalidDescriptor, r.Name),
				"Descriptor", "Validate", "descriptor validation")
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}
