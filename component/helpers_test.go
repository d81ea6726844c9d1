package component

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/registry"
)

// Logger is the service interface used by test references.
type Logger interface {
	Log(msg string)
}

type namedLogger struct{ name string }

func (l *namedLogger) Log(string) {}

// greeter records every callback it receives.
type greeter struct {
	mu     sync.Mutex
	calls  []string
	bound  []string
	ctx    *Context
	failOn string
}

func (g *greeter) record(call string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	if call == g.failOn {
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

func (g *greeter) history() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *greeter) boundNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.bound...)
}

func (g *greeter) count(call string) int {
	n := 0
	for _, c := range g.history() {
		if c == call {
			n++
		}
	}
	return n
}

func greeterCallbacks() Callbacks {
	return Callbacks{
		"bindLog": BindService(func(g *greeter, l Logger) {
			name := l.(*namedLogger).name
			g.mu.Lock()
			g.bound = append(g.bound, name)
			g.mu.Unlock()
			_ = g.record("bind:" + name)
		}),
		"unbindLog": BindService(func(g *greeter, l Logger) {
			name := l.(*namedLogger).name
			g.mu.Lock()
			for i, b := range g.bound {
				if b == name {
					g.bound = append(g.bound[:i], g.bound[i+1:]...)
					break
				}
			}
			g.mu.Unlock()
			_ = g.record("unbind:" + name)
		}),
		"updatedLog": BindServiceProps(func(g *greeter, l Logger, props registry.Properties) {
			_ = g.record("updated:" + l.(*namedLogger).name)
		}),
		"activate": OnActivate(func(g *greeter, ctx *Context) error {
			g.mu.Lock()
			g.ctx = ctx
			g.mu.Unlock()
			return g.record("activate")
		}),
		"deactivate": OnDeactivate(func(g *greeter, _ *Context, reason Reason) error {
			return g.record("deactivate:" + reason.String())
		}),
		"modified": OnActivate(func(g *greeter, _ *Context) error {
			return g.record("modified")
		}),
	}
}

// instances collects every greeter a Manager creates.
type instances struct {
	mu  sync.Mutex
	all []*greeter
}

func (i *instances) constructor(failOn string) Constructor {
	return func() (any, error) {
		g := &greeter{failOn: failOn}
		i.mu.Lock()
		i.all = append(i.all, g)
		i.mu.Unlock()
		return g, nil
	}
}

func (i *instances) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.all)
}

func (i *instances) last() *greeter {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.all) == 0 {
		return nil
	}
	return i.all[len(i.all)-1]
}

func logRef(cardinality Cardinality, optionality Optionality, policy Policy) Reference {
	return Reference{
		Name:        "log",
		Interface:   "test.Logger",
		Cardinality: cardinality,
		Optionality: optionality,
		Policy:      policy,
		Bind:        "bindLog",
		Unbind:      "unbindLog",
		Updated:     "updatedLog",
	}
}

func greeterDescriptor(refs ...Reference) Descriptor {
	return Descriptor{
		Name:       "greeter",
		Services:   []string{"test.Greeter"},
		Activate:   "activate",
		Deactivate: "deactivate",
		Modified:   "modified",
		Properties: map[string]any{"greeting": "hello"},
		References: refs,
	}
}

type fixture struct {
	t         *testing.T
	reg       *registry.Memory
	metrics   *metric.MetricsRegistry
	instances *instances
	m         *Manager
}

func newFixture(t *testing.T, desc Descriptor, opts ...ManagerOption) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		reg:       registry.NewMemory(),
		metrics:   metric.NewMetricsRegistry(),
		instances: &instances{},
	}
	m, err := NewManager(desc, f.instances.constructor(""), Dependencies{
		Registry:        f.reg,
		Resolver:        greeterCallbacks(),
		MetricsRegistry: f.metrics,
	}, opts...)
	require.NoError(t, err)
	f.m = m
	t.Cleanup(func() { m.Dispose(ReasonContainerStopped) })
	return f
}

func (f *fixture) publishLog(name string, props registry.Properties) registry.Registration {
	f.t.Helper()
	reg, err := f.reg.Publish([]string{"test.Logger"}, &namedLogger{name: name}, props)
	require.NoError(f.t, err)
	f.flush()
	return reg
}

func (f *fixture) unregister(reg registry.Registration) {
	f.t.Helper()
	require.NoError(f.t, reg.Unregister())
	f.flush()
}

func (f *fixture) flush() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(f.t, f.m.Flush(ctx))
}

func wait(t *testing.T, fut *Future) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := fut.Wait(ctx)
	require.NoError(t, err)
	return ok
}

// transitionRecorder collects state changes.
type transitionRecorder struct {
	mu  sync.Mutex
	log []string
}

func (r *transitionRecorder) listen(_ string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, from.String()+"->"+to.String())
}

func (r *transitionRecorder) count(to State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	suffix := "->" + to.String()
	for _, l := range r.log {
		if len(l) >= len(suffix) && l[len(l)-len(suffix):] == suffix {
			n++
		}
	}
	return n
}
