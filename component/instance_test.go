package component

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/registry"
)

type recordingEnabler struct {
	enabled  []string
	disabled []string
}

func (e *recordingEnabler) EnableComponent(name string) error {
	e.enabled = append(e.enabled, name)
	return nil
}

func (e *recordingEnabler) DisableComponent(name string) error {
	e.disabled = append(e.disabled, name)
	return nil
}

func TestContext_LocateServices(t *testing.T) {
	f := newFixture(t, greeterDescriptor(logRef(Multiple, Mandatory, Dynamic)))
	f.publishLog("low", nil)
	f.publishLog("high", registry.Properties{registry.PropRanking: 5})

	require.True(t, wait(t, f.m.Enable()))
	ctx := f.instances.last().ctx
	require.NotNil(t, ctx)

	svc, ok := ctx.LocateService("log")
	require.True(t, ok)
	assert.Equal(t, "high", svc.(*namedLogger).name)

	all := ctx.LocateServices("log")
	require.Len(t, all, 2)
	assert.Equal(t, "high", all[0].(*namedLogger).name)
	assert.Equal(t, "low", all[1].(*namedLogger).name)

	_, ok = ctx.LocateService("nope")
	assert.False(t, ok)
	assert.Nil(t, ctx.LocateServices("nope"))
}

func TestContext_Identity(t *testing.T) {
	f := newFixture(t, greeterDescriptor())
	require.True(t, wait(t, f.m.Enable()))

	g := f.instances.last()
	ctx := g.ctx
	assert.Equal(t, "greeter", ctx.ComponentName())
	assert.Equal(t, f.m.ID(), ctx.ComponentID())
	assert.Same(t, g, ctx.Instance())
	assert.NotEqual(t, uuid.Nil, ctx.InstanceID())
	assert.NotNil(t, ctx.Logger())

	// Properties returns a copy.
	props := ctx.Properties()
	props["greeting"] = "changed"
	assert.Equal(t, "hello", ctx.Properties()["greeting"])
}

func TestContext_EnableDisableComponent(t *testing.T) {
	f := newFixture(t, greeterDescriptor())
	require.True(t, wait(t, f.m.Enable()))
	ctx := f.instances.last().ctx

	assert.Error(t, ctx.EnableComponent("other"))
	assert.Error(t, ctx.DisableComponent("other"))

	enabler := &recordingEnabler{}
	inst := &instances{}
	m, err := NewManager(greeterDescriptor(), inst.constructor(""), Dependencies{
		Registry: registry.NewMemory(),
		Resolver: greeterCallbacks(),
		Enabler:  enabler,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Dispose(ReasonContainerStopped) })
	require.True(t, wait(t, m.Enable()))

	ctx = inst.last().ctx
	require.NoError(t, ctx.EnableComponent("other"))
	require.NoError(t, ctx.DisableComponent("third"))
	assert.Equal(t, []string{"other"}, enabler.enabled)
	assert.Equal(t, []string{"third"}, enabler.disabled)
}

func TestContext_Metrics(t *testing.T) {
	f := newFixture(t, greeterDescriptor())
	require.True(t, wait(t, f.m.Enable()))

	reg := f.instances.last().ctx.Metrics()
	require.NotNil(t, reg)
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scr", Subsystem: "test", Name: "greetings", Help: "greetings",
	}, []string{"component"})
	require.NoError(t, reg.RegisterGaugeVec("greeter", "greetings", gauge))
	assert.True(t, reg.Unregister("greeter", "greetings"))

	inst := &instances{}
	m, err := NewManager(greeterDescriptor(), inst.constructor(""), Dependencies{
		Registry: registry.NewMemory(),
		Resolver: greeterCallbacks(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Dispose(ReasonContainerStopped) })
	require.True(t, wait(t, m.Enable()))
	assert.Nil(t, inst.last().ctx.Metrics())
}
