package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/registry"
)

func TestReconfigure_LiveTargetChange(t *testing.T) {
	ref := logRef(Single, Optional, Dynamic)
	ref.Target = "(name=a)"
	f := newFixture(t, greeterDescriptor(ref))
	f.publishLog("a", registry.Properties{"name": "a"})
	f.publishLog("b", registry.Properties{"name": "b"})

	require.True(t, wait(t, f.m.Enable()))
	g := f.instances.last()
	require.Equal(t, []string{"a"}, g.boundNames())

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{
		"log.target": "(name=b)",
		"greeting":   "hi",
	})))

	assert.Equal(t, StateActive, f.m.State())
	assert.Equal(t, 1, f.instances.len(), "component must not be recreated")
	assert.Equal(t, 0, g.count("deactivate:configuration_modified"))
	assert.Equal(t, 1, g.count("modified"))
	assert.Equal(t, []string{"b"}, g.boundNames())
	assert.Equal(t, "hi", g.ctx.Properties()["greeting"])

	published := lookupOne(t, f.reg, "test.Greeter").Properties()
	assert.Equal(t, "hi", published["greeting"])
	assert.Equal(t, "(name=b)", published["log.target"])
	assert.Equal(t, "(name=b)", f.m.References()[0].Target)
}

func TestReconfigure_StaticTargetChangeReactivates(t *testing.T) {
	ref := logRef(Single, Mandatory, Static)
	ref.Target = "(name=a)"
	f := newFixture(t, greeterDescriptor(ref))
	f.publishLog("a", registry.Properties{"name": "a"})
	f.publishLog("b", registry.Properties{"name": "b"})

	require.True(t, wait(t, f.m.Enable()))
	first := f.instances.last()

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{"log.target": "(name=b)"})))

	assert.Equal(t, StateActive, f.m.State())
	require.Equal(t, 2, f.instances.len())
	assert.Equal(t, []string{"bind:a", "activate", "deactivate:configuration_modified", "unbind:a"}, first.history())
	assert.Equal(t, []string{"b"}, f.instances.last().boundNames())
}

func TestReconfigure_DynamicMandatoryWithoutMatchReactivates(t *testing.T) {
	ref := logRef(Single, Mandatory, Dynamic)
	f := newFixture(t, greeterDescriptor(ref))
	f.publishLog("a", registry.Properties{"name": "a"})

	require.True(t, wait(t, f.m.Enable()))

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{"log.target": "(name=zzz)"})))

	assert.Equal(t, StateUnsatisfied, f.m.State())
	assert.Equal(t, 1, f.instances.last().count("deactivate:configuration_modified"))

	f.publishLog("zzz", registry.Properties{"name": "zzz"})
	assert.Equal(t, StateActive, f.m.State())
	assert.Equal(t, []string{"zzz"}, f.instances.last().boundNames())
}

func TestReconfigure_WithoutModifiedCallbackReactivates(t *testing.T) {
	desc := greeterDescriptor()
	desc.Modified = ""
	f := newFixture(t, desc)
	require.True(t, wait(t, f.m.Enable()))

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{"greeting": "hi"})))

	assert.Equal(t, StateActive, f.m.State())
	assert.Equal(t, 2, f.instances.len())
	assert.Equal(t, "hi", f.instances.last().ctx.Properties()["greeting"])
}

func TestReconfigure_ModifiedFailureReactivates(t *testing.T) {
	reg := registry.NewMemory()
	inst := &instances{}
	m, err := NewManager(greeterDescriptor(), inst.constructor("modified"), Dependencies{
		Registry: reg,
		Resolver: greeterCallbacks(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Dispose(ReasonContainerStopped) })
	require.True(t, wait(t, m.Enable()))

	require.True(t, wait(t, m.Reconfigure(registry.Properties{"greeting": "hi"})))

	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 2, inst.len())
}

func TestReconfigure_RequirePolicy(t *testing.T) {
	desc := greeterDescriptor()
	desc.Configuration = ConfigRequire
	f := newFixture(t, desc)

	require.True(t, wait(t, f.m.Enable()))
	assert.Equal(t, StateUnsatisfied, f.m.State())
	assert.Equal(t, 0, f.instances.len())

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{"greeting": "hi"})))
	assert.Equal(t, StateActive, f.m.State())
	g := f.instances.last()
	assert.Equal(t, "hi", g.ctx.Properties()["greeting"])

	require.True(t, wait(t, f.m.Reconfigure(nil)))
	assert.Equal(t, StateUnsatisfied, f.m.State())
	assert.Equal(t, 1, g.count("deactivate:configuration_deleted"))

	assert.False(t, wait(t, f.m.Activate()))
	assert.Equal(t, StateUnsatisfied, f.m.State())
}

func TestReconfigure_OptionalPolicyFallsBackToDescriptor(t *testing.T) {
	f := newFixture(t, greeterDescriptor(), WithConfiguration(registry.Properties{"greeting": "hi"}))
	require.True(t, wait(t, f.m.Enable()))
	require.Equal(t, "hi", f.instances.last().ctx.Properties()["greeting"])

	require.True(t, wait(t, f.m.Reconfigure(nil)))

	assert.Equal(t, StateActive, f.m.State())
	assert.Equal(t, "hello", f.instances.last().ctx.Properties()["greeting"])
	assert.Equal(t, "hello", lookupOne(t, f.reg, "test.Greeter").Properties()["greeting"])
}

func TestReconfigure_IgnorePolicy(t *testing.T) {
	desc := greeterDescriptor()
	desc.Configuration = ConfigIgnore
	f := newFixture(t, desc, WithConfiguration(registry.Properties{"greeting": "initial"}))
	require.True(t, wait(t, f.m.Enable()))
	g := f.instances.last()

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{"greeting": "hi"})))

	assert.Equal(t, 1, f.instances.len())
	assert.Equal(t, 0, g.count("modified"))
	assert.Equal(t, "hello", lookupOne(t, f.reg, "test.Greeter").Properties()["greeting"])
}

func TestReconfigure_WhileUnsatisfiedRetargets(t *testing.T) {
	ref := logRef(Single, Mandatory, Static)
	ref.Target = "(name=missing)"
	f := newFixture(t, greeterDescriptor(ref))
	f.publishLog("a", registry.Properties{"name": "a"})

	require.True(t, wait(t, f.m.Enable()))
	require.Equal(t, StateUnsatisfied, f.m.State())

	require.True(t, wait(t, f.m.Reconfigure(registry.Properties{"log.target": "(name=a)"})))

	assert.Equal(t, StateActive, f.m.State())
	assert.Equal(t, []string{"a"}, f.instances.last().boundNames())
}
